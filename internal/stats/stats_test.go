package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
)

func newTestProcessor() *Processor {
	return NewProcessor(internal.DefaultLogger)
}

func result(doc string, metrics map[string]float64, raw float64) artifacts.AnalysisResult {
	return artifacts.AnalysisResult{
		DocumentID:     core.DocumentID(doc),
		DocumentHash:   core.NewHash([]byte(doc)),
		Model:          "test/model",
		DerivedMetrics: metrics,
		Scores: map[string]artifacts.DimensionScore{
			"dignity":   {Raw: raw, Salience: 0.8, Confidence: 0.9},
			"tribalism": {Raw: 1 - raw, Salience: 0.6, Confidence: 0.85},
		},
	}
}

func sixResults() []artifacts.AnalysisResult {
	raws := []float64{0.15, 0.32, 0.41, 0.58, 0.73, 0.86}
	out := make([]artifacts.AnalysisResult, len(raws))
	for i, r := range raws {
		out[i] = result(fmt.Sprintf("doc-%d", i+1), map[string]float64{
			"polarity":  r,
			"intensity": 0.3 + 0.5*r,
		}, r)
	}
	return out
}

// TestProcessFullReport tests the full report over an adequate sample
func TestProcessFullReport(t *testing.T) {
	p := newTestProcessor()
	report, err := p.Process(sixResults())
	require.NoError(t, err)

	assert.Equal(t, []string{"intensity", "polarity"}, report.DocumentLevel.Metrics)

	d, ok := report.DocumentLevel.Descriptives["polarity"].(*Descriptives)
	require.True(t, ok, "descriptives must be numeric for n=6: %#v", report.DocumentLevel.Descriptives["polarity"])
	assert.Equal(t, 6, d.N)
	assert.InDelta(t, 0.5083, d.Mean, 0.001)
	assert.Greater(t, d.StdDev, 0.0)

	// intensity is a linear function of polarity, so the correlation is 1.
	corr, ok := report.DocumentLevel.Correlations.(*CorrelationMatrix)
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr.Matrix[0][1], 1e-9)
	assert.Empty(t, corr.SpuriousWarning, "n=6 should not flag spurious correlations")

	rel, ok := report.DocumentLevel.Reliability.(*Reliability)
	require.True(t, ok)
	assert.Equal(t, 2, rel.Items)
	assert.NotEmpty(t, rel.Interpretation)

	pcaResult, ok := report.DocumentLevel.PCA.(*PCAResult)
	require.True(t, ok)
	assert.Equal(t, 1, pcaResult.ComponentsFor90Pct, "two perfectly collinear metrics collapse to one component")

	clusters, ok := report.DocumentLevel.Clustering.(map[string]ClusterResult)
	require.True(t, ok)
	assert.Contains(t, clusters, "k=2")
	assert.Contains(t, clusters, "k=5")
	assert.Len(t, clusters["k=3"].Centers, 3)

	assert.Equal(t, 6, report.Metadata.SampleSize)
	assert.Equal(t, 6, report.Metadata.DocumentCount)
	assert.Equal(t, 2, report.Metadata.DimensionCount)
	assert.False(t, report.Metadata.ContentHash.IsEmpty())
}

// TestProcessIsDeterministic tests that re-running yields the same hash
func TestProcessIsDeterministic(t *testing.T) {
	p := newTestProcessor()
	first, err := p.Process(sixResults())
	require.NoError(t, err)
	second, err := p.Process(sixResults())
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.ContentHash, second.Metadata.ContentHash)
}

// TestSmallSampleEmitsErrorLeaves tests the validity floors
func TestSmallSampleEmitsErrorLeaves(t *testing.T) {
	p := newTestProcessor()
	report, err := p.Process(sixResults()[:2])
	require.NoError(t, err)

	corr, ok := report.DocumentLevel.Correlations.(ErrorLeaf)
	require.True(t, ok, "n=2 correlation must degrade to an error leaf")
	assert.Equal(t, 2, corr.SampleSize)
	assert.Equal(t, minCorrelationN, corr.MinimumRequired)
	assert.NotEmpty(t, corr.Recommendation)

	norm, ok := report.DocumentLevel.Normality["polarity"].(ErrorLeaf)
	require.True(t, ok)
	assert.Equal(t, minNormalityN, norm.MinimumRequired)

	_, ok = report.DocumentLevel.Clustering.(ErrorLeaf)
	assert.True(t, ok, "k-means needs n >= 3")
}

// TestPerfectCorrelationFlaggedAtSmallN tests the spurious-correlation flag
func TestPerfectCorrelationFlaggedAtSmallN(t *testing.T) {
	p := newTestProcessor()
	report, err := p.Process(sixResults()[:4])
	require.NoError(t, err)

	corr, ok := report.DocumentLevel.Correlations.(*CorrelationMatrix)
	require.True(t, ok)
	assert.NotEmpty(t, corr.SpuriousWarning)
}

// TestSingleMetricHasNoCorrelationStructure tests the variable floor
func TestSingleMetricHasNoCorrelationStructure(t *testing.T) {
	p := newTestProcessor()
	results := []artifacts.AnalysisResult{
		result("doc-1", map[string]float64{"polarity": 0.2}, 0.2),
		result("doc-2", map[string]float64{"polarity": 0.5}, 0.5),
		result("doc-3", map[string]float64{"polarity": 0.8}, 0.8),
	}
	report, err := p.Process(results)
	require.NoError(t, err)

	_, ok := report.DocumentLevel.Correlations.(ErrorLeaf)
	assert.True(t, ok)
	_, ok = report.DocumentLevel.Reliability.(ErrorLeaf)
	assert.True(t, ok)
	_, ok = report.DocumentLevel.PCA.(ErrorLeaf)
	assert.True(t, ok)
}

// TestGuardRecoversPanic tests that a panicking sub-analysis degrades
func TestGuardRecoversPanic(t *testing.T) {
	p := newTestProcessor()
	out := p.guard("boom", func() (any, error) { panic("index out of range") })
	leaf, ok := out.(ErrorLeaf)
	require.True(t, ok)
	assert.Contains(t, leaf.Error, "boom")
}

// TestHedgesG tests the effect size against the midpoint
func TestHedgesG(t *testing.T) {
	high := []float64{0.8, 0.85, 0.9, 0.75, 0.82}
	es, err := hedgesG(high)
	require.NoError(t, err)
	assert.Greater(t, es.HedgesG, 0.0)
	assert.Equal(t, "large", es.Interpretation)

	_, err = hedgesG([]float64{0.5, 0.5, 0.5})
	require.Error(t, err, "zero variance has no defined effect size")

	_, err = hedgesG([]float64{0.5})
	require.Error(t, err)
}

// TestShapiroWilkRejectsSkewedData tests the normality verdict
func TestShapiroWilkRejectsSkewedData(t *testing.T) {
	skewed := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 5.0}
	n, err := shapiroWilk(skewed)
	require.NoError(t, err)
	assert.False(t, n.IsNormal)
	assert.GreaterOrEqual(t, n.PValue, 0.0)
	assert.LessOrEqual(t, n.PValue, 1.0)

	_, err = shapiroWilk([]float64{0.1, 0.2, 0.3})
	require.Error(t, err, "below the sample floor")
}

// TestCountOutliers tests both detection rules
func TestCountOutliers(t *testing.T) {
	data := []float64{0.4, 0.42, 0.45, 0.43, 0.41, 0.44, 0.46, 9.0}
	counts, err := countOutliers(data)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.IQR)
}

// TestInterpretAlpha tests the reliability buckets
func TestInterpretAlpha(t *testing.T) {
	tests := []struct {
		alpha float64
		want  string
	}{
		{0.95, "excellent"},
		{0.85, "good"},
		{0.75, "acceptable"},
		{0.65, "questionable"},
		{0.55, "poor"},
		{0.3, "unacceptable"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, interpretAlpha(test.alpha), "alpha=%v", test.alpha)
	}
}

// TestKMeansDeterministic tests that the fixed seed makes fits reproducible
func TestKMeansDeterministic(t *testing.T) {
	rows := [][]float64{{0.1, 0.2}, {0.15, 0.22}, {0.8, 0.9}, {0.82, 0.88}, {0.5, 0.5}}
	c1, i1 := kmeans(rows, 2)
	c2, i2 := kmeans(rows, 2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, i1, i2)
	assert.Greater(t, i1, 0.0)
}

// TestEvidenceLevel tests quote accounting
func TestEvidenceLevel(t *testing.T) {
	p := newTestProcessor()
	results := sixResults()
	results[0].Evidence = []artifacts.Evidence{
		{Dimension: "dignity", Quote: "every person deserves respect"},
		{Dimension: "tribalism", Quote: "they are the enemy"},
	}
	results[1].Evidence = []artifacts.Evidence{
		{Dimension: "dignity", Quote: "we owe each other decency"},
	}

	report, err := p.Process(results)
	require.NoError(t, err)
	require.NotNil(t, report.EvidenceLevel)
	assert.Equal(t, 2, report.EvidenceLevel.QuotesByDimension["dignity"])
	assert.Equal(t, 2, report.EvidenceLevel.QuotesByDocument["doc-1"])

	d, ok := report.EvidenceLevel.QuoteLength.(*Descriptives)
	require.True(t, ok)
	assert.Equal(t, 3, d.N)
}

// TestNoEvidenceOmitsLevel tests the omitempty contract
func TestNoEvidenceOmitsLevel(t *testing.T) {
	p := newTestProcessor()
	report, err := p.Process(sixResults())
	require.NoError(t, err)
	assert.Nil(t, report.EvidenceLevel)
}
