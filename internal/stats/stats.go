// Package stats is the statistical processor: it consumes sealed analysis
// results and produces the single statistics artifact for a run. It never
// touches an LLM. Every sub-analysis is guarded so one broken metric becomes
// an error leaf instead of failing the whole artifact.
package stats

import (
	"fmt"
	"sort"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
)

// Sample-size floors for the validity rules
const (
	minCorrelationN = 3
	minReliabilityN = 3
	minNormalityN   = 5
	spuriousFlagN   = 5
)

// ErrorLeaf replaces a numeric result when a sub-analysis cannot run. A
// statistics artifact never reports a silent value below its sample floor.
type ErrorLeaf struct {
	Error           string `json:"error"`
	SampleSize      int    `json:"sample_size,omitempty"`
	MinimumRequired int    `json:"minimum_required,omitempty"`
	Recommendation  string `json:"recommendation,omitempty"`
}

func insufficientSample(what string, n, required int) ErrorLeaf {
	return ErrorLeaf{
		Error:           fmt.Sprintf("%s requires at least %d observations, got %d", what, required, n),
		SampleSize:      n,
		MinimumRequired: required,
		Recommendation:  fmt.Sprintf("add documents until the run has at least %d analysis results", required),
	}
}

// Descriptives is the univariate summary for one variable
type Descriptives struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Q25      float64 `json:"q25"`
	Q75      float64 `json:"q75"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
}

// CorrelationMatrix is a labelled Pearson matrix
type CorrelationMatrix struct {
	Variables []string    `json:"variables"`
	Matrix    [][]float64 `json:"matrix"`
	// Set when n is small enough that perfect pairwise correlations are
	// likely artifacts of the sample, not the corpus.
	SpuriousWarning string `json:"spurious_warning,omitempty"`
}

// Reliability is Cronbach's alpha with its interpretation bucket
type Reliability struct {
	Alpha          float64 `json:"alpha"`
	Interpretation string  `json:"interpretation"`
	Items          int     `json:"items"`
	SampleWarning  string  `json:"sample_warning,omitempty"`
}

// PCAResult summarizes a principal component analysis
type PCAResult struct {
	ExplainedVariance  []float64            `json:"explained_variance"`
	Cumulative         []float64            `json:"cumulative"`
	ComponentsFor90Pct int                  `json:"components_for_90_pct"`
	Loadings           map[string][]float64 `json:"loadings"` // component label -> per-variable loading
	Variables          []string             `json:"variables"`
}

// ClusterResult is one k-means fit
type ClusterResult struct {
	K       int         `json:"k"`
	Centers [][]float64 `json:"centers"`
	Inertia float64     `json:"inertia"`
}

// OutlierCounts reports outliers per detection method
type OutlierCounts struct {
	IQR    int `json:"iqr"`
	ZScore int `json:"z_score"`
}

// EffectSize is Hedges g against the scale midpoint
type EffectSize struct {
	HedgesG        float64 `json:"hedges_g"`
	Interpretation string  `json:"interpretation"`
}

// Normality is the Shapiro-Wilk verdict for one variable
type Normality struct {
	W        float64 `json:"w"`
	PValue   float64 `json:"p_value"`
	IsNormal bool    `json:"is_normal"`
}

// DocumentLevel holds statistics over the derived-metric matrix, one row per
// analysis result.
type DocumentLevel struct {
	Metrics      []string       `json:"metrics"`
	Descriptives map[string]any `json:"descriptives"`
	Correlations any            `json:"correlations"`
	Reliability  any            `json:"reliability"`
	PCA          any            `json:"pca"`
	Clustering   any            `json:"clustering"`
	Outliers     map[string]any `json:"outliers"`
	EffectSizes  map[string]any `json:"effect_sizes"`
	Normality    map[string]any `json:"normality"`
}

// DimensionLevel holds statistics over the per-dimension scoring triples
type DimensionLevel struct {
	Overall      map[string]any            `json:"overall"`       // raw|salience|confidence -> descriptives
	PerDimension map[string]map[string]any `json:"per_dimension"` // dimension -> raw|salience|confidence -> descriptives
	CrossScore   any                       `json:"cross_score_correlations"`
}

// CrossLevel merges per-document dimension aggregates with derived metrics
type CrossLevel struct {
	Columns      []string `json:"columns"`
	Correlations any      `json:"correlations"`
}

// EvidenceLevel summarizes the cited quotes, when any exist
type EvidenceLevel struct {
	QuotesByDimension map[string]int `json:"quotes_by_dimension"`
	QuotesByDocument  map[string]int `json:"quotes_by_document"`
	QuoteLength       any            `json:"quote_length"`
}

// Metadata describes the material the statistics were computed from
type Metadata struct {
	SampleSize     int       `json:"sample_size"`
	DocumentCount  int       `json:"document_count"`
	DimensionCount int       `json:"dimension_count"`
	MetricCount    int       `json:"metric_count"`
	ContentHash    core.Hash `json:"content_hash"`
}

// Report is the statistics artifact payload
type Report struct {
	DocumentLevel  DocumentLevel  `json:"document_level"`
	DimensionLevel DimensionLevel `json:"dimension_level"`
	CrossLevel     CrossLevel     `json:"cross_level"`
	EvidenceLevel  *EvidenceLevel `json:"evidence_level,omitempty"`
	Metadata       Metadata       `json:"processing_metadata"`
}

// Processor computes a Report from analysis results
type Processor struct {
	logger *internal.Logger
}

// NewProcessor creates the processor
func NewProcessor(logger *internal.Logger) *Processor {
	return &Processor{logger: logger.Component("StatsProcessor")}
}

// Process computes the full statistics report. The sample unit is one
// analysis result (a document x model pair); DocumentCount counts distinct
// documents.
func (p *Processor) Process(results []artifacts.AnalysisResult) (*Report, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("statistics over zero analysis results")
	}

	metricMatrix, metricNames := buildMetricMatrix(results)
	report := &Report{
		DocumentLevel:  p.documentLevel(results, metricMatrix, metricNames),
		DimensionLevel: p.dimensionLevel(results),
		CrossLevel:     p.crossLevel(results, metricMatrix, metricNames),
		EvidenceLevel:  p.evidenceLevel(results),
	}

	docs := map[core.DocumentID]bool{}
	dims := map[string]bool{}
	for _, r := range results {
		docs[r.DocumentID] = true
		for d := range r.Scores {
			dims[d] = true
		}
	}
	report.Metadata = Metadata{
		SampleSize:     len(results),
		DocumentCount:  len(docs),
		DimensionCount: len(dims),
		MetricCount:    len(metricNames),
	}

	hash, err := core.HashCanonical(report)
	if err != nil {
		return nil, fmt.Errorf("hash statistics report: %w", err)
	}
	report.Metadata.ContentHash = hash
	p.logger.Info("computed statistics over %d results (%d documents, %d metrics): %s",
		len(results), len(docs), len(metricNames), hash.Short())
	return report, nil
}

// guard runs one sub-analysis and converts a panic or error into an ErrorLeaf
// so the rest of the report survives.
func (p *Processor) guard(name string, fn func() (any, error)) (result any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("sub-analysis %s panicked: %v", name, r)
			result = ErrorLeaf{Error: fmt.Sprintf("%s: internal error: %v", name, r)}
		}
	}()
	v, err := fn()
	if err != nil {
		var leaf ErrorLeaf
		if l, ok := err.(leafError); ok {
			leaf = l.leaf
		} else {
			leaf = ErrorLeaf{Error: fmt.Sprintf("%s: %v", name, err)}
		}
		p.logger.Warn("sub-analysis %s degraded: %s", name, leaf.Error)
		return leaf
	}
	return v
}

// leafError carries a structured ErrorLeaf through the guard
type leafError struct{ leaf ErrorLeaf }

func (e leafError) Error() string { return e.leaf.Error }

// buildMetricMatrix collects the union of derived-metric names and the
// per-result values. Results missing a metric contribute no observation for
// that column.
func buildMetricMatrix(results []artifacts.AnalysisResult) (map[string][]float64, []string) {
	names := map[string]bool{}
	for _, r := range results {
		for m := range r.DerivedMetrics {
			names[m] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for m := range names {
		sorted = append(sorted, m)
	}
	sort.Strings(sorted)

	matrix := make(map[string][]float64, len(sorted))
	for _, m := range sorted {
		col := make([]float64, 0, len(results))
		for _, r := range results {
			if v, ok := r.DerivedMetrics[m]; ok {
				col = append(col, v)
			}
		}
		matrix[m] = col
	}
	return matrix, sorted
}

// completeRows returns only rows where every metric is present, as aligned
// vectors. Multivariate analyses need rectangular data.
func completeRows(results []artifacts.AnalysisResult, metrics []string) [][]float64 {
	var rows [][]float64
	for _, r := range results {
		row := make([]float64, len(metrics))
		complete := true
		for i, m := range metrics {
			v, ok := r.DerivedMetrics[m]
			if !ok {
				complete = false
				break
			}
			row[i] = v
		}
		if complete {
			rows = append(rows, row)
		}
	}
	return rows
}
