package stats

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// describe computes the univariate summary. Sample statistics use the n-1
// denominator throughout.
func describe(data []float64) (*Descriptives, error) {
	if len(data) == 0 {
		return nil, leafError{insufficientSample("descriptives", 0, 1)}
	}
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	min, _ := stats.Min(data)
	max, _ := stats.Max(data)
	q25, _ := stats.Percentile(data, 25)
	q75, _ := stats.Percentile(data, 75)
	var stdDev float64
	if len(data) > 1 {
		stdDev, _ = stats.StandardDeviationSample(data)
	}
	return &Descriptives{
		N:        len(data),
		Mean:     mean,
		Median:   median,
		StdDev:   stdDev,
		Min:      min,
		Max:      max,
		Q25:      q25,
		Q75:      q75,
		Skewness: skewness(data, mean, stdDev),
		Kurtosis: kurtosis(data, mean, stdDev),
	}, nil
}

// skewness is the adjusted Fisher-Pearson sample skewness
func skewness(data []float64, mean, stdDev float64) float64 {
	n := float64(len(data))
	if n < 3 || stdDev == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		z := (v - mean) / stdDev
		sum += z * z * z
	}
	return (n / ((n - 1) * (n - 2))) * sum
}

// kurtosis is the sample excess kurtosis with small-sample correction
func kurtosis(data []float64, mean, stdDev float64) float64 {
	n := float64(len(data))
	if n < 4 || stdDev == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		z := (v - mean) / stdDev
		sum += z * z * z * z
	}
	correction := (n * (n + 1)) / ((n - 1) * (n - 2) * (n - 3))
	excess := (3 * (n - 1) * (n - 1)) / ((n - 2) * (n - 3))
	return correction*sum - excess
}

// countOutliers reports outliers by both the 1.5 IQR fence rule and the
// |z| > 3 rule over sample-standardized values.
func countOutliers(data []float64) (*OutlierCounts, error) {
	if len(data) < 4 {
		return nil, leafError{insufficientSample("outlier detection", len(data), 4)}
	}
	q25, _ := stats.Percentile(data, 25)
	q75, _ := stats.Percentile(data, 75)
	iqr := q75 - q25
	lower := q25 - 1.5*iqr
	upper := q75 + 1.5*iqr

	mean, _ := stats.Mean(data)
	stdDev, _ := stats.StandardDeviationSample(data)

	counts := &OutlierCounts{}
	for _, v := range data {
		if v < lower || v > upper {
			counts.IQR++
		}
		if stdDev > 0 && math.Abs((v-mean)/stdDev) > 3 {
			counts.ZScore++
		}
	}
	return counts, nil
}

// hedgesG computes the effect size against the theoretical scale midpoint
// 0.5, with the small-sample bias correction factor.
func hedgesG(data []float64) (*EffectSize, error) {
	if len(data) < 2 {
		return nil, leafError{insufficientSample("effect size", len(data), 2)}
	}
	mean, _ := stats.Mean(data)
	stdDev, _ := stats.StandardDeviationSample(data)
	if stdDev == 0 {
		return nil, leafError{ErrorLeaf{
			Error:          "effect size undefined: zero variance",
			SampleSize:     len(data),
			Recommendation: "a constant metric carries no effect against the midpoint",
		}}
	}
	n := float64(len(data))
	correction := 1 - 3/(4*n-5)
	g := correction * (mean - 0.5) / stdDev
	return &EffectSize{HedgesG: g, Interpretation: interpretEffect(g)}, nil
}

func interpretEffect(g float64) string {
	switch abs := math.Abs(g); {
	case abs >= 0.8:
		return "large"
	case abs >= 0.5:
		return "medium"
	case abs >= 0.2:
		return "small"
	default:
		return "negligible"
	}
}

// shapiroWilk approximates the Shapiro-Wilk test via the Shapiro-Francia
// statistic: the squared correlation between the order statistics and their
// expected normal scores, with Royston's normalizing transform for the
// p-value.
func shapiroWilk(data []float64) (*Normality, error) {
	n := len(data)
	if n < minNormalityN {
		return nil, leafError{insufficientSample("normality test", n, minNormalityN)}
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	// Blom normal scores for the expected order statistics.
	normal := distuv.UnitNormal
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = normal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
	}

	r, err := stats.Pearson(sorted, scores)
	if err != nil {
		// Zero variance in the data: degenerate, trivially non-normal.
		return &Normality{W: 0, PValue: 0, IsNormal: false}, nil
	}
	w := r * r

	// Royston (1993) transform for the Shapiro-Francia statistic.
	nu := math.Log(float64(n))
	u := math.Log(nu) - nu
	mu := -1.2725 + 1.0521*u
	sigma := 1.0308 - 0.26758*(math.Log(nu)+2/nu)
	z := (math.Log(1-w) - mu) / sigma
	p := 1 - normal.CDF(z)

	return &Normality{W: w, PValue: p, IsNormal: p > 0.05}, nil
}
