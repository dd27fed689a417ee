package estimators

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sortLabels orders labels numerically when every label is a number, lexically otherwise
func sortLabels(labels []string) {
	numeric := true
	values := make(map[string]float64, len(labels))
	for _, l := range labels {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		values[l] = v
	}
	if numeric {
		sort.Slice(labels, func(a, b int) bool { return values[labels[a]] < values[labels[b]] })
		return
	}
	sort.Strings(labels)
}

func row(x *mat.Dense, i int) []float64 {
	return x.RawRowView(i)
}

// TakeRows copies the given rows of x into a new matrix; idx must not be empty
func TakeRows(x *mat.Dense, idx []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for r, i := range idx {
		out.SetRow(r, row(x, i))
	}
	return out
}

func sqDist(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		t := a[i] - b[i]
		d += t * t
	}
	return d
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softmaxInPlace turns scores into probabilities
func softmaxInPlace(v []float64) {
	m := floats.Max(v)
	sum := 0.0
	for i := range v {
		v[i] = math.Exp(v[i] - m)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func argmaxRows(m *mat.Dense) []int {
	r, _ := m.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		out[i] = argmax(m.RawRowView(i))
	}
	return out
}

func colMeans(x *mat.Dense) []float64 {
	r, c := x.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(out, row(x, i))
	}
	floats.Scale(1/float64(r), out)
	return out
}

func bootstrap(rng *rand.Rand, n, size int) []int {
	idx := make([]int, size)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return idx
}

func pairwiseSqDist(x *mat.Dense) [][]float64 {
	n, _ := x.Dims()
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := sqDist(row(x, i), row(x, j))
			d[i][j], d[j][i] = v, v
		}
	}
	return d
}

func oneHotLabels(y []int, k int) *mat.Dense {
	out := mat.NewDense(len(y), k, nil)
	for i, c := range y {
		out.Set(i, c, 1)
	}
	return out
}

func countClasses(y []int, k int) []float64 {
	out := make([]float64, k)
	for _, c := range y {
		out[c]++
	}
	return out
}

// probaFromVotes spreads hard predictions into a one-hot probability matrix
func probaFromVotes(pred []int, k int) *mat.Dense {
	return oneHotLabels(pred, k)
}

func maxFeatures(spec string, frac float64, n int) int {
	switch spec {
	case "sqrt":
		return max(1, int(math.Sqrt(float64(n))))
	case "log2":
		return max(1, int(math.Log2(float64(n))))
	case "all", "":
		if frac > 0 && frac <= 1 {
			return max(1, int(frac*float64(n)))
		}
		return n
	}
	return n
}

// standardiser centres and scales columns; several linear and distance based
// models fit on standardised inputs internally
type standardiser struct {
	Mean  []float64
	Scale []float64
}

func fitStandardiser(x *mat.Dense) standardiser {
	r, c := x.Dims()
	mean := colMeans(x)
	scale := make([]float64, c)
	for i := 0; i < r; i++ {
		for j, v := range row(x, i) {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(r))
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return standardiser{Mean: mean, Scale: scale}
}

func (s standardiser) apply(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src, dst := row(x, i), out.RawRowView(i)
		for j := range src {
			dst[j] = (src[j] - s.Mean[j]) / s.Scale[j]
		}
	}
	return out
}
