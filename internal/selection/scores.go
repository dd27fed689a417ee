package selection

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// FClassif is the one-way ANOVA F statistic of each column against class labels
func FClassif(x *mat.Dense, y []int) (scores, pvalues []float64) {
	n, c := x.Dims()
	k := 0
	for _, v := range y {
		k = max(k, v+1)
	}
	counts := make([]float64, k)
	for _, v := range y {
		counts[v]++
	}
	groups := 0
	for _, cnt := range counts {
		if cnt > 0 {
			groups++
		}
	}
	scores = make([]float64, c)
	pvalues = make([]float64, c)
	col := make([]float64, n)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean := stat.Mean(col, nil)
		sums := make([]float64, k)
		for i, v := range col {
			sums[y[i]] += v
		}
		var between, within float64
		for g := 0; g < k; g++ {
			if counts[g] > 0 {
				m := sums[g] / counts[g]
				between += counts[g] * (m - mean) * (m - mean)
			}
		}
		for i, v := range col {
			m := sums[y[i]] / counts[y[i]]
			within += (v - m) * (v - m)
		}
		dfb, dfw := float64(groups-1), float64(n-groups)
		scores[j], pvalues[j] = fTest(between/dfb, within/dfw, dfb, dfw)
	}
	return scores, pvalues
}

// FRegression is the F statistic of the univariate linear regression of y on each column
func FRegression(x *mat.Dense, y []float64) (scores, pvalues []float64) {
	n, c := x.Dims()
	scores = make([]float64, c)
	pvalues = make([]float64, c)
	col := make([]float64, n)
	dof := float64(n - 2)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		r := stat.Correlation(col, y, nil)
		r2 := r * r
		scores[j], pvalues[j] = fTest(r2, (1-r2)/dof, 1, dof)
	}
	return scores, pvalues
}

// fTest returns num/den and its upper-tail probability; degenerate ratios yield
// NaN score and p-value 1
func fTest(num, den, d1, d2 float64) (float64, float64) {
	if d1 <= 0 || d2 <= 0 || math.IsNaN(num) || math.IsNaN(den) {
		return math.NaN(), 1
	}
	if den == 0 {
		if num == 0 {
			return math.NaN(), 1
		}
		return math.Inf(1), 0
	}
	f := num / den
	return f, distuv.F{D1: d1, D2: d2}.Survival(f)
}
