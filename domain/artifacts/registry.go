package artifacts

import (
	"fmt"
	"strings"

	"discernus/domain/core"
)

// Schema defines the structural contract for one artifact kind
type Schema struct {
	Kind          ArtifactKind
	SchemaVersion string
	KeyFunc       func(payload interface{}) string // Stable identifier function
	ValidateFunc  func(payload interface{}) error  // Validation function
}

// Registry maps artifact kinds to their schemas
var Registry = map[ArtifactKind]Schema{
	KindAnalysisResult: {
		Kind:          KindAnalysisResult,
		SchemaVersion: "1.0.0",
		KeyFunc:       analysisKey,
		ValidateFunc:  validateAnalysis,
	},
	KindWork: {
		Kind:          KindWork,
		SchemaVersion: "1.0.0",
		KeyFunc:       workKey,
		ValidateFunc:  validateWork,
	},
	KindAttestation: {
		Kind:          KindAttestation,
		SchemaVersion: "1.0.0",
		KeyFunc:       attestationKey,
		ValidateFunc:  validateAttestation,
	},
	KindSynthesisStep: {
		Kind:          KindSynthesisStep,
		SchemaVersion: "1.0.0",
		KeyFunc:       synthesisKey,
		ValidateFunc:  validateSynthesisStep,
	},
	KindFinalReport: {
		Kind:          KindFinalReport,
		SchemaVersion: "1.0.0",
		KeyFunc:       func(interface{}) string { return "final_report" },
		ValidateFunc:  validateFinalReport,
	},
	KindAuditEvent: {
		Kind:          KindAuditEvent,
		SchemaVersion: "1.0.0",
		KeyFunc:       auditKey,
		ValidateFunc:  validateAuditEvent,
	},
	KindRunManifest: {
		Kind:          KindRunManifest,
		SchemaVersion: "1.0.0",
		KeyFunc:       manifestKey,
		ValidateFunc:  validateRunManifest,
	},
}

// GetSchema returns the schema for an artifact kind
func GetSchema(kind ArtifactKind) (Schema, error) {
	schema, exists := Registry[kind]
	if !exists {
		return Schema{}, fmt.Errorf("no schema registered for artifact kind: %s", kind)
	}
	return schema, nil
}

// Validate validates a payload against the schema for its kind. Kinds without
// a registered schema (raw blobs such as corpus documents) validate trivially.
func Validate(kind ArtifactKind, payload interface{}) error {
	if !Known(kind) {
		return fmt.Errorf("unknown artifact kind: %s", kind)
	}
	schema, exists := Registry[kind]
	if !exists {
		return nil
	}
	return schema.ValidateFunc(payload)
}

func analysisKey(payload interface{}) string {
	if ar, ok := payload.(*AnalysisResult); ok {
		return fmt.Sprintf("analysis:%s:%s:%s", ar.FrameworkHash.String(), ar.DocumentHash, ar.Model)
	}
	return ""
}

func validateAnalysis(payload interface{}) error {
	ar, ok := payload.(*AnalysisResult)
	if !ok {
		return fmt.Errorf("analysis_result payload has wrong type %T", payload)
	}
	if ar.DocumentID.String() == "" {
		return fmt.Errorf("analysis_result missing document_id")
	}
	if ar.DocumentHash.IsEmpty() {
		return fmt.Errorf("analysis_result missing document_hash")
	}
	if ar.FrameworkHash.String() == "" {
		return fmt.Errorf("analysis_result missing framework_hash")
	}
	if len(ar.Scores) == 0 {
		return fmt.Errorf("analysis_result has no scores")
	}
	for dim, score := range ar.Scores {
		if !score.InRange() {
			return fmt.Errorf("analysis_result score for %q out of [0,1]: raw=%.3f salience=%.3f confidence=%.3f",
				dim, score.Raw, score.Salience, score.Confidence)
		}
	}
	for i, ev := range ar.Evidence {
		if strings.TrimSpace(ev.Quote) == "" {
			return fmt.Errorf("analysis_result evidence %d has empty quote", i)
		}
		if _, declared := ar.Scores[ev.Dimension]; !declared {
			return fmt.Errorf("analysis_result evidence %d cites unscored dimension %q", i, ev.Dimension)
		}
	}
	return nil
}

func workKey(payload interface{}) string {
	if w, ok := payload.(*Work); ok {
		return fmt.Sprintf("work:%s:%s", w.DocumentID, w.Model)
	}
	return ""
}

func validateWork(payload interface{}) error {
	w, ok := payload.(*Work)
	if !ok {
		return fmt.Errorf("work payload has wrong type %T", payload)
	}
	if strings.TrimSpace(w.Code) == "" {
		return fmt.Errorf("work artifact missing executed code")
	}
	return nil
}

func attestationKey(payload interface{}) string {
	if at, ok := payload.(*Attestation); ok {
		return fmt.Sprintf("attestation:%s", at.TargetAnalysisHash)
	}
	return ""
}

func validateAttestation(payload interface{}) error {
	at, ok := payload.(*Attestation)
	if !ok {
		return fmt.Errorf("attestation payload has wrong type %T", payload)
	}
	if at.TargetAnalysisHash.IsEmpty() {
		return fmt.Errorf("attestation missing target_analysis_hash")
	}
	if at.TargetWorkHash.IsEmpty() {
		return fmt.Errorf("attestation missing target_work_hash")
	}
	if strings.TrimSpace(at.VerifierModel) == "" {
		return fmt.Errorf("attestation missing verifier_model")
	}
	return nil
}

func synthesisKey(payload interface{}) string {
	if st, ok := payload.(*SynthesisStep); ok {
		return fmt.Sprintf("synthesis_step:%d:%s", st.Step, st.Name)
	}
	return ""
}

func validateSynthesisStep(payload interface{}) error {
	st, ok := payload.(*SynthesisStep)
	if !ok {
		return fmt.Errorf("synthesis_step payload has wrong type %T", payload)
	}
	if st.Step < 1 || st.Step > 5 {
		return fmt.Errorf("synthesis_step number %d outside the fixed 1..5 pipeline", st.Step)
	}
	if strings.TrimSpace(st.Output) == "" {
		return fmt.Errorf("synthesis_step %d has empty output", st.Step)
	}
	return nil
}

func validateFinalReport(payload interface{}) error {
	fr, ok := payload.(*FinalReport)
	if !ok {
		return fmt.Errorf("final_report payload has wrong type %T", payload)
	}
	if strings.TrimSpace(fr.Body) == "" {
		return fmt.Errorf("final_report has empty body")
	}
	if len(fr.AnalysisHashes) == 0 {
		return fmt.Errorf("final_report references no analysis results")
	}
	if len(fr.AttestationHashes) < len(fr.AnalysisHashes) {
		return fmt.Errorf("final_report references %d analyses but only %d attestations",
			len(fr.AnalysisHashes), len(fr.AttestationHashes))
	}
	return nil
}

func auditKey(payload interface{}) string {
	if ev, ok := payload.(*AuditEvent); ok {
		return fmt.Sprintf("audit:%s:%s:%s", ev.RunID, ev.Stage, ev.At.Time().Format("20060102T150405.000000000"))
	}
	return ""
}

func validateAuditEvent(payload interface{}) error {
	ev, ok := payload.(*AuditEvent)
	if !ok {
		return fmt.Errorf("audit_event payload has wrong type %T", payload)
	}
	if ev.Kind == "" {
		return fmt.Errorf("audit_event missing kind")
	}
	if ev.At.IsZero() {
		return fmt.Errorf("audit_event missing timestamp")
	}
	return nil
}

func manifestKey(payload interface{}) string {
	if m, ok := payload.(*RunManifest); ok {
		return fmt.Sprintf("run_manifest:%s", m.RunID)
	}
	return ""
}

func validateRunManifest(payload interface{}) error {
	m, ok := payload.(*RunManifest)
	if !ok {
		return fmt.Errorf("run_manifest payload has wrong type %T", payload)
	}
	if m.RunID.String() == "" {
		return fmt.Errorf("run_manifest missing run_id")
	}
	switch m.Status {
	case RunCompleted, RunAborted, RunCancelled:
	default:
		return fmt.Errorf("run_manifest has unknown status %q", m.Status)
	}
	if m.Status == RunCompleted && m.FinalReport.IsEmpty() {
		return fmt.Errorf("completed run_manifest missing final_report hash")
	}
	return nil
}

// VerifyAgainstFramework enforces the dimension contract: the analysis scores
// exactly the dimension set the framework declares, no more and no less.
func VerifyAgainstFramework(ar *AnalysisResult, dimensions []string) error {
	if len(ar.Scores) != len(dimensions) {
		return fmt.Errorf("analysis scored %d dimensions, framework declares %d", len(ar.Scores), len(dimensions))
	}
	for _, dim := range dimensions {
		if _, ok := ar.Scores[dim]; !ok {
			return fmt.Errorf("analysis missing framework dimension %q", dim)
		}
	}
	return nil
}

// ParentsOf assembles the parent hash list for a payload kind given the
// producing context. Callers pass the hashes they already hold; this is just
// the shared ordering convention.
func ParentsOf(hashes ...core.Hash) []core.Hash {
	parents := make([]core.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !h.IsEmpty() {
			parents = append(parents, h)
		}
	}
	return parents
}
