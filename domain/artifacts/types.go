// Package artifacts defines the typed payloads stored in the content-addressed
// store and the schema registry that validates them. Every edge between
// pipeline components is an artifact hash; these are the shapes behind those
// hashes.
package artifacts

import (
	"discernus/domain/core"
)

// DimensionScore is the per-dimension scoring triple. All three values live
// in [0,1]; anything outside fails verification.
type DimensionScore struct {
	Raw        float64 `json:"raw"`
	Salience   float64 `json:"salience"`
	Confidence float64 `json:"confidence"`
}

// InRange reports whether all three components are within [0,1]
func (s DimensionScore) InRange() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(s.Raw) && in(s.Salience) && in(s.Confidence)
}

// Evidence is a verbatim quote attributed to a dimension
type Evidence struct {
	Dimension string `json:"dimension"`
	Quote     string `json:"quote"`
	Source    string `json:"source"`
	Offset    int    `json:"offset"`
}

// AnalysisResult is the per-(document x framework x model) scoring payload
type AnalysisResult struct {
	DocumentID     core.DocumentID           `json:"document_id"`
	DocumentHash   core.Hash                 `json:"document_hash"`
	FrameworkHash  core.FrameworkHash        `json:"framework_hash"`
	Model          string                    `json:"model"`
	Scores         map[string]DimensionScore `json:"scores"`
	DerivedMetrics map[string]float64        `json:"derived_metrics"`
	Evidence       []Evidence                `json:"evidence,omitempty"`
}

// Work is the code the scoring model claims it executed to compute the
// derived metrics, plus that code's claimed stdout.
type Work struct {
	DocumentID    core.DocumentID `json:"document_id"`
	Model         string          `json:"model"`
	Code          string          `json:"code"`
	ClaimedOutput string          `json:"claimed_output"`
}

// Attestation is the verifier's sealed pass/fail judgement on one analysis
type Attestation struct {
	TargetAnalysisHash core.Hash          `json:"target_analysis_hash"`
	TargetWorkHash     core.Hash          `json:"target_work_hash"`
	Success            bool               `json:"success"`
	VerifierModel      string             `json:"verifier_model"`
	Reasoning          string             `json:"reasoning"`
	ReExecutionOutput  map[string]float64 `json:"re_execution_output,omitempty"`
}

// RetrievalRecord captures one knowledge-index hit used by a synthesis step
type RetrievalRecord struct {
	Query          string    `json:"query"`
	Content        string    `json:"content"`
	DataType       string    `json:"data_type"`
	SourceArtifact core.Hash `json:"source_artifact"`
	Relevance      float64   `json:"relevance"`
}

// QuoteDriftRecord captures the validation outcome for one synthesized quote
type QuoteDriftRecord struct {
	Quote      string  `json:"quote"`
	DriftLevel string  `json:"drift_level"`
	Score      float64 `json:"score"`
	BestMatch  string  `json:"best_match,omitempty"`
}

// SynthesisStep is the output of one synthesis stage with its full RAG trail
type SynthesisStep struct {
	Step       int                `json:"step"`
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	Queries    []string           `json:"queries"`
	Retrievals []RetrievalRecord  `json:"retrievals,omitempty"`
	Output     string             `json:"output"`
	QuoteDrift []QuoteDriftRecord `json:"quote_drift,omitempty"`
	Retried    bool               `json:"retried,omitempty"`
}

// FinalReport is the terminal narrative artifact
type FinalReport struct {
	Title               string      `json:"title"`
	Body                string      `json:"body"`
	ExperimentHash      core.Hash   `json:"experiment_hash"`
	AnalysisHashes      []core.Hash `json:"analysis_hashes"`
	AttestationHashes   []core.Hash `json:"attestation_hashes"`
	StatisticsHash      core.Hash   `json:"statistics_hash"`
	SynthesisStepHashes []core.Hash `json:"synthesis_step_hashes"`
}

// AuditEvent is a time-ordered record of a pipeline decision, cost or error
type AuditEvent struct {
	RunID     core.RunID     `json:"run_id"`
	Kind      string         `json:"kind"`
	Stage     string         `json:"stage"`
	Model     string         `json:"model,omitempty"`
	Tokens    int            `json:"tokens,omitempty"`
	CostUSD   float64        `json:"cost_usd,omitempty"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        core.Timestamp `json:"at"`
}

// RunStatus enumerates terminal run states recorded in the manifest
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunCancelled RunStatus = "cancelled"
)

// ManifestEntry maps one artifact back to its parents
type ManifestEntry struct {
	Hash    core.Hash    `json:"hash"`
	Kind    ArtifactKind `json:"kind"`
	Parents []core.Hash  `json:"parents,omitempty"`
}

// DocumentOutcome records the terminal state of one (document, model) pair
type DocumentOutcome struct {
	DocumentID core.DocumentID `json:"document_id"`
	Model      string          `json:"model"`
	Status     string          `json:"status"` // completed | failed | cancelled
	Error      string          `json:"error,omitempty"`
	Analysis   core.Hash       `json:"analysis,omitempty"`
	Work       core.Hash       `json:"work,omitempty"`
	Attest     core.Hash       `json:"attestation,omitempty"`
	CacheHit   bool            `json:"cache_hit,omitempty"`
}

// RunManifest is the single record surfaced to downstream consumers: the
// terminal report hash plus the full parent map of everything produced.
type RunManifest struct {
	RunID          core.RunID        `json:"run_id"`
	ExperimentHash core.Hash         `json:"experiment_hash"`
	Status         RunStatus         `json:"status"`
	AbortReason    string            `json:"abort_reason,omitempty"`
	Outcomes       []DocumentOutcome `json:"outcomes"`
	Artifacts      []ManifestEntry   `json:"artifacts"`
	FinalReport    core.Hash         `json:"final_report,omitempty"`
	StartedAt      core.Timestamp    `json:"started_at"`
	FinishedAt     core.Timestamp    `json:"finished_at"`
}
