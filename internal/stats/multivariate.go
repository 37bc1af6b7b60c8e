package stats

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// correlationMatrix computes the labelled Pearson matrix over named columns.
// Columns must be aligned; pairs are correlated over their common length.
func correlationMatrix(names []string, columns map[string][]float64) (*CorrelationMatrix, error) {
	if len(names) < 2 {
		return nil, leafError{ErrorLeaf{
			Error:          fmt.Sprintf("correlation requires at least 2 variables, got %d", len(names)),
			Recommendation: "frameworks with a single derived metric have no correlation structure",
		}}
	}
	n := len(columns[names[0]])
	if n < minCorrelationN {
		return nil, leafError{insufficientSample("correlation", n, minCorrelationN)}
	}

	matrix := make([][]float64, len(names))
	perfectOffDiagonal := false
	for i, a := range names {
		matrix[i] = make([]float64, len(names))
		for j, b := range names {
			if i == j {
				matrix[i][j] = 1
				continue
			}
			r, err := stats.Pearson(columns[a], columns[b])
			if err != nil {
				r = 0
			}
			matrix[i][j] = r
			if math.Abs(r) >= 0.9999 {
				perfectOffDiagonal = true
			}
		}
	}

	result := &CorrelationMatrix{Variables: names, Matrix: matrix}
	if perfectOffDiagonal && n < spuriousFlagN {
		result.SpuriousWarning = fmt.Sprintf(
			"perfect correlations with n=%d are likely spurious; interpret with caution", n)
	}
	return result, nil
}

// cronbachAlpha computes internal-consistency reliability over item columns
func cronbachAlpha(names []string, columns map[string][]float64) (*Reliability, error) {
	k := len(names)
	if k < 2 {
		return nil, leafError{ErrorLeaf{
			Error:          fmt.Sprintf("reliability requires at least 2 items, got %d", k),
			Recommendation: "Cronbach's alpha is undefined for a single item",
		}}
	}
	n := len(columns[names[0]])
	if n < minReliabilityN {
		return nil, leafError{insufficientSample("reliability", n, minReliabilityN)}
	}

	var itemVarSum float64
	totals := make([]float64, n)
	for _, name := range names {
		col := columns[name]
		v, _ := stats.SampleVariance(col)
		itemVarSum += v
		for i, x := range col {
			totals[i] += x
		}
	}
	totalVar, _ := stats.SampleVariance(totals)
	if totalVar == 0 {
		return nil, leafError{ErrorLeaf{
			Error:      "reliability undefined: zero total-score variance",
			SampleSize: n,
		}}
	}

	alpha := (float64(k) / float64(k-1)) * (1 - itemVarSum/totalVar)
	result := &Reliability{Alpha: alpha, Interpretation: interpretAlpha(alpha), Items: k}
	if n < spuriousFlagN {
		result.SampleWarning = fmt.Sprintf("alpha estimated from only %d observations", n)
	}
	return result, nil
}

func interpretAlpha(alpha float64) string {
	switch {
	case alpha >= 0.9:
		return "excellent"
	case alpha >= 0.8:
		return "good"
	case alpha >= 0.7:
		return "acceptable"
	case alpha >= 0.6:
		return "questionable"
	case alpha >= 0.5:
		return "poor"
	default:
		return "unacceptable"
	}
}

// pca runs principal component analysis over complete rows via SVD of the
// column-centered matrix. Reports explained-variance ratios, the component
// count reaching 90% cumulative, and the loadings of the top three
// components.
func pca(names []string, rows [][]float64) (*PCAResult, error) {
	if len(names) < 2 {
		return nil, leafError{ErrorLeaf{
			Error:          fmt.Sprintf("pca requires at least 2 variables, got %d", len(names)),
			Recommendation: "pca over a single metric is meaningless",
		}}
	}
	if len(rows) < minCorrelationN {
		return nil, leafError{insufficientSample("pca", len(rows), minCorrelationN)}
	}

	n, p := len(rows), len(names)
	centered := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		var mean float64
		for i := 0; i < n; i++ {
			mean += rows[i][j]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			centered.Set(i, j, rows[i][j]-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, fmt.Errorf("svd failed to converge")
	}
	singular := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	var total float64
	eigen := make([]float64, len(singular))
	for i, s := range singular {
		eigen[i] = s * s / float64(n-1)
		total += eigen[i]
	}
	if total == 0 {
		return nil, leafError{ErrorLeaf{Error: "pca undefined: zero total variance", SampleSize: n}}
	}

	explained := make([]float64, len(eigen))
	cumulative := make([]float64, len(eigen))
	componentsFor90 := len(eigen)
	running := 0.0
	for i, e := range eigen {
		explained[i] = e / total
		running += explained[i]
		cumulative[i] = running
		if running >= 0.9 && componentsFor90 == len(eigen) {
			componentsFor90 = i + 1
		}
	}

	loadings := map[string][]float64{}
	topComponents := 3
	if topComponents > len(eigen) {
		topComponents = len(eigen)
	}
	for c := 0; c < topComponents; c++ {
		col := make([]float64, p)
		for j := 0; j < p; j++ {
			col[j] = v.At(j, c)
		}
		loadings[fmt.Sprintf("pc%d", c+1)] = col
	}

	return &PCAResult{
		ExplainedVariance:  explained,
		Cumulative:         cumulative,
		ComponentsFor90Pct: componentsFor90,
		Loadings:           loadings,
		Variables:          names,
	}, nil
}

// kmeansSweep fits k-means for every k in [2, min(5, n-1)] with a fixed seed
// so re-runs are reproducible.
func kmeansSweep(rows [][]float64) (map[string]ClusterResult, error) {
	n := len(rows)
	maxK := n - 1
	if maxK > 5 {
		maxK = 5
	}
	if maxK < 2 {
		return nil, leafError{insufficientSample("clustering", n, 3)}
	}

	results := make(map[string]ClusterResult, maxK-1)
	for k := 2; k <= maxK; k++ {
		centers, inertia := kmeans(rows, k)
		results[fmt.Sprintf("k=%d", k)] = ClusterResult{K: k, Centers: centers, Inertia: inertia}
	}
	return results, nil
}

// kmeans is Lloyd's algorithm with k-means++ seeding on a fixed source
func kmeans(rows [][]float64, k int) ([][]float64, float64) {
	rng := rand.New(rand.NewSource(1))
	dim := len(rows[0])

	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), rows[rng.Intn(len(rows))]...))
	for len(centers) < k {
		weights := make([]float64, len(rows))
		var total float64
		for i, row := range rows {
			d := math.Inf(1)
			for _, c := range centers {
				if dd := sqDist(row, c); dd < d {
					d = dd
				}
			}
			weights[i] = d
			total += d
		}
		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range weights {
				target -= w
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.Intn(len(rows))
		}
		centers = append(centers, append([]float64(nil), rows[pick]...))
	}

	assign := make([]int, len(rows))
	for iter := 0; iter < 100; iter++ {
		changed := false
		for i, row := range rows {
			best, bestD := 0, math.Inf(1)
			for c, center := range centers {
				if d := sqDist(row, center); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, row := range rows {
			counts[assign[i]]++
			for j, v := range row {
				next[assign[i]][j] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its previous center.
				next[c] = centers[c]
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		centers = next
	}

	var inertia float64
	for i, row := range rows {
		inertia += sqDist(row, centers[assign[i]])
	}
	return centers, inertia
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
