package stats

import (
	"sort"

	"discernus/domain/artifacts"
)

func (p *Processor) documentLevel(results []artifacts.AnalysisResult, metricMatrix map[string][]float64, metricNames []string) DocumentLevel {
	level := DocumentLevel{
		Metrics:      metricNames,
		Descriptives: map[string]any{},
		Outliers:     map[string]any{},
		EffectSizes:  map[string]any{},
		Normality:    map[string]any{},
	}
	for _, m := range metricNames {
		col := metricMatrix[m]
		level.Descriptives[m] = p.guard("descriptives/"+m, func() (any, error) { return describe(col) })
		level.Outliers[m] = p.guard("outliers/"+m, func() (any, error) { return countOutliers(col) })
		level.EffectSizes[m] = p.guard("effect_size/"+m, func() (any, error) { return hedgesG(col) })
		level.Normality[m] = p.guard("normality/"+m, func() (any, error) { return shapiroWilk(col) })
	}

	// Multivariate analyses need rectangular data, so they run over the rows
	// where every metric is present.
	rows := completeRows(results, metricNames)
	aligned := alignColumns(metricNames, rows)
	level.Correlations = p.guard("correlations", func() (any, error) {
		return correlationMatrix(metricNames, aligned)
	})
	level.Reliability = p.guard("reliability", func() (any, error) {
		return cronbachAlpha(metricNames, aligned)
	})
	level.PCA = p.guard("pca", func() (any, error) { return pca(metricNames, rows) })
	level.Clustering = p.guard("clustering", func() (any, error) { return kmeansSweep(rows) })
	return level
}

var scoreKinds = []string{"raw", "salience", "confidence"}

func (p *Processor) dimensionLevel(results []artifacts.AnalysisResult) DimensionLevel {
	// One observation per (analysis result x dimension).
	overall := map[string][]float64{"raw": nil, "salience": nil, "confidence": nil}
	perDim := map[string]map[string][]float64{}
	for _, r := range results {
		dims := make([]string, 0, len(r.Scores))
		for d := range r.Scores {
			dims = append(dims, d)
		}
		sort.Strings(dims)
		for _, d := range dims {
			s := r.Scores[d]
			overall["raw"] = append(overall["raw"], s.Raw)
			overall["salience"] = append(overall["salience"], s.Salience)
			overall["confidence"] = append(overall["confidence"], s.Confidence)
			if perDim[d] == nil {
				perDim[d] = map[string][]float64{}
			}
			perDim[d]["raw"] = append(perDim[d]["raw"], s.Raw)
			perDim[d]["salience"] = append(perDim[d]["salience"], s.Salience)
			perDim[d]["confidence"] = append(perDim[d]["confidence"], s.Confidence)
		}
	}

	level := DimensionLevel{
		Overall:      map[string]any{},
		PerDimension: map[string]map[string]any{},
	}
	for _, kind := range scoreKinds {
		col := overall[kind]
		level.Overall[kind] = p.guard("dimension/overall/"+kind, func() (any, error) { return describe(col) })
	}
	for dim, kinds := range perDim {
		level.PerDimension[dim] = map[string]any{}
		for _, kind := range scoreKinds {
			col := kinds[kind]
			level.PerDimension[dim][kind] = p.guard("dimension/"+dim+"/"+kind, func() (any, error) {
				return describe(col)
			})
		}
	}
	level.CrossScore = p.guard("dimension/cross_score", func() (any, error) {
		return correlationMatrix(scoreKinds, overall)
	})
	return level
}

func (p *Processor) crossLevel(results []artifacts.AnalysisResult, metricMatrix map[string][]float64, metricNames []string) CrossLevel {
	// Per-result aggregate of raw dimension scores merged with the derived
	// metrics, correlated as one matrix.
	columns := []string{"dimension_mean_raw"}
	columns = append(columns, metricNames...)

	aligned := map[string][]float64{}
	for _, r := range results {
		if len(r.Scores) == 0 {
			continue
		}
		complete := true
		for _, m := range metricNames {
			if _, ok := r.DerivedMetrics[m]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		var sum float64
		for _, s := range r.Scores {
			sum += s.Raw
		}
		aligned["dimension_mean_raw"] = append(aligned["dimension_mean_raw"], sum/float64(len(r.Scores)))
		for _, m := range metricNames {
			aligned[m] = append(aligned[m], r.DerivedMetrics[m])
		}
	}

	return CrossLevel{
		Columns: columns,
		Correlations: p.guard("cross_level/correlations", func() (any, error) {
			return correlationMatrix(columns, aligned)
		}),
	}
}

func (p *Processor) evidenceLevel(results []artifacts.AnalysisResult) *EvidenceLevel {
	byDim := map[string]int{}
	byDoc := map[string]int{}
	var lengths []float64
	for _, r := range results {
		for _, e := range r.Evidence {
			byDim[e.Dimension]++
			byDoc[string(r.DocumentID)]++
			lengths = append(lengths, float64(len(e.Quote)))
		}
	}
	if len(lengths) == 0 {
		return nil
	}
	return &EvidenceLevel{
		QuotesByDimension: byDim,
		QuotesByDocument:  byDoc,
		QuoteLength:       p.guard("evidence/quote_length", func() (any, error) { return describe(lengths) }),
	}
}

// alignColumns converts complete rows back into the per-column form the
// univariate helpers expect.
func alignColumns(names []string, rows [][]float64) map[string][]float64 {
	columns := make(map[string][]float64, len(names))
	for j, name := range names {
		col := make([]float64, len(rows))
		for i, row := range rows {
			col[i] = row[j]
		}
		columns[name] = col
	}
	return columns
}
