// Package app wires the pipeline: pre-flight validation and the run
// orchestrator.
package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"discernus/adapters/llm"
	"discernus/domain/artifacts"
	"discernus/domain/corpus"
	"discernus/domain/experiment"
	"discernus/domain/framework"
	"discernus/internal"
	appstats "discernus/internal/stats"
)

// FailedCheck names one violated pre-flight invariant
type FailedCheck struct {
	Name      string `json:"name"`
	Detail    string `json:"detail"`
	Threshold string `json:"threshold,omitempty"`
}

// CheckResult is the outcome of one pre-flight domain. Guidance lists the
// concrete commands a researcher should run to remediate.
type CheckResult struct {
	Valid    bool          `json:"valid"`
	Failed   []FailedCheck `json:"failed,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Guidance []string      `json:"guidance,omitempty"`
}

func (r *CheckResult) fail(name, detail, threshold string) {
	r.Valid = false
	r.Failed = append(r.Failed, FailedCheck{Name: name, Detail: detail, Threshold: threshold})
}

// Summary renders the failures for the error path
func (r *CheckResult) Summary() string {
	parts := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		parts[i] = f.Name + ": " + f.Detail
	}
	return strings.Join(parts, "; ")
}

var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"vertex_ai": true,
	"mistral":   true,
	"ollama":    true,
	"mock":      true,
}

// Preflight is the transaction integrity manager: framework and data checks
// before any LLM call, quality checks after analysis completes.
type Preflight struct {
	logger *internal.Logger
}

// NewPreflight creates the manager
func NewPreflight(logger *internal.Logger) *Preflight {
	return &Preflight{logger: logger.Component("Preflight")}
}

// CheckFramework validates the framework against the experiment's demands
func (p *Preflight) CheckFramework(fw *framework.Framework, cfg *experiment.Config) CheckResult {
	result := CheckResult{Valid: true}

	if err := fw.Validate(); err != nil {
		result.fail("framework_parse", err.Error(), "")
	}
	for _, m := range fw.DerivedMetrics {
		if strings.TrimSpace(m.Formula) == "" {
			result.fail("derived_metric_formula",
				fmt.Sprintf("derived metric %q declares no formula", m.Name), "")
		}
	}
	for _, model := range cfg.SelectedModels {
		if !knownProviders[llm.ResolveProvider(model)] {
			result.fail("model_provider",
				fmt.Sprintf("model %q maps to unsupported provider %q", model, llm.ResolveProvider(model)), "")
		}
	}
	for analysisModel, verifier := range cfg.VerificationModels {
		if llm.ResolveProvider(analysisModel) == llm.ResolveProvider(verifier) {
			result.fail("verifier_family",
				fmt.Sprintf("verifier %q shares a provider family with %q", verifier, analysisModel),
				"verification must cross provider families")
		}
	}

	if !result.Valid {
		result.Guidance = append(result.Guidance,
			"edit the framework file referenced by framework_ref and re-run: discernus verify <experiment_path>")
	}
	return result
}

// CheckData validates the corpus documents and the store before any spend
func (p *Preflight) CheckData(manifest *corpus.Manifest, docs []*corpus.Document, storeWritable error) CheckResult {
	result := CheckResult{Valid: true}

	if len(docs) != len(manifest.Documents) {
		result.fail("corpus_complete",
			fmt.Sprintf("manifest lists %d documents, %d loaded", len(manifest.Documents), len(docs)), "")
	}
	seen := map[string]string{}
	for _, doc := range docs {
		if doc.EncodingWarning != "" {
			result.Warnings = append(result.Warnings, doc.EncodingWarning)
		}
		if strings.TrimSpace(doc.Text) == "" {
			result.fail("document_empty", fmt.Sprintf("document %s is empty", doc.ID), "")
		}
		if prev, dup := seen[doc.Hash.String()]; dup {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("documents %s and %s have identical content", prev, doc.ID))
		}
		seen[doc.Hash.String()] = string(doc.ID)
	}
	if storeWritable != nil {
		result.fail("store_writable", storeWritable.Error(), "")
	}

	if !result.Valid {
		result.Guidance = append(result.Guidance,
			"check the corpus manifest paths and file permissions, then re-run: discernus verify <experiment_path>")
	}
	return result
}

// CheckQuality runs the post-analysis gates over the scored results and the
// statistics report. It never runs before analysis.
func (p *Preflight) CheckQuality(results []artifacts.AnalysisResult, report *appstats.Report, t experiment.Thresholds) CheckResult {
	result := CheckResult{Valid: true}

	if len(results) < t.MinSampleSize {
		result.fail("sample_size",
			fmt.Sprintf("%d analysis results", len(results)),
			fmt.Sprintf("minimum %d", t.MinSampleSize))
	}

	// Framework fit proxy: the scoring model's own mean confidence.
	if fit, ok := meanConfidence(results); ok && fit < t.MinFrameworkFit {
		result.fail("framework_fit",
			fmt.Sprintf("mean scoring confidence %.2f", fit),
			fmt.Sprintf("minimum %.2f", t.MinFrameworkFit))
	}

	for metric, leaf := range report.DocumentLevel.Descriptives {
		d, ok := leaf.(*appstats.Descriptives)
		if !ok || d.Mean == 0 {
			continue
		}
		if cv := d.StdDev / d.Mean; cv > t.MaxCoefficientVar {
			result.fail("coefficient_of_variation",
				fmt.Sprintf("metric %q has cv %.2f", metric, cv),
				fmt.Sprintf("maximum %.2f", t.MaxCoefficientVar))
		}
	}

	for _, r := range results {
		if length := responseLength(r); length < t.MinResponseLength {
			result.fail("response_length",
				fmt.Sprintf("document %s produced %d characters of scored content", r.DocumentID, length),
				fmt.Sprintf("minimum %d", t.MinResponseLength))
		}
	}
	if incoherent := incoherentResults(results); len(incoherent) > 0 {
		result.fail("response_coherence",
			fmt.Sprintf("dimension sets disagree across documents: %s", strings.Join(incoherent, ", ")),
			"every result must score the same dimensions")
	}

	if !result.Valid {
		result.Guidance = append(result.Guidance,
			"inspect per-document results with: discernus stats <artifact_dir>",
			"relax thresholds in experiment.yaml or extend the corpus, then re-run: discernus run <experiment_path>")
	}
	return result
}

func meanConfidence(results []artifacts.AnalysisResult) (float64, bool) {
	var values []float64
	for _, r := range results {
		for _, s := range r.Scores {
			values = append(values, s.Confidence)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	m, err := stats.Mean(values)
	return m, err == nil
}

// responseLength approximates how much scored content a result carries:
// evidence quotes plus the derived-metric surface.
func responseLength(r artifacts.AnalysisResult) int {
	length := 0
	for _, e := range r.Evidence {
		length += len(e.Quote)
	}
	length += len(r.Scores) * 8
	length += len(r.DerivedMetrics) * 8
	return length
}

// incoherentResults reports documents whose dimension set differs from the
// first result's.
func incoherentResults(results []artifacts.AnalysisResult) []string {
	if len(results) == 0 {
		return nil
	}
	reference := dimensionSet(results[0])
	var bad []string
	for _, r := range results[1:] {
		if dimensionSet(r) != reference {
			bad = append(bad, string(r.DocumentID))
		}
	}
	return bad
}

func dimensionSet(r artifacts.AnalysisResult) string {
	dims := make([]string, 0, len(r.Scores))
	for d := range r.Scores {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return strings.Join(dims, ",")
}
