package estimators

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// contaminationThreshold returns the score above which the top share of rows lies
func contaminationThreshold(scores []float64, share float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)
	idx := min(max(int(math.Ceil((1-share)*float64(n)))-1, 0), n-1)
	return sorted[idx]
}

func outlierLabels(scores []float64, threshold float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = 1
		if s > threshold {
			out[i] = -1
		}
	}
	return out
}

// EllipticEnvelope fits a robust Gaussian with minimum covariance determinant
// C-steps and flags rows with a large Mahalanobis distance.
type EllipticEnvelope struct {
	Contamination   float64
	SupportFraction float64
	Seed            int
	Location        []float64
	// Precision is the row-major inverse of the robust covariance
	Precision []float64
	Threshold float64
}

func (m *EllipticEnvelope) FitPredict(x *mat.Dense) ([]int, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	h := (n + c + 1) / 2
	if m.SupportFraction > 0 {
		h = int(m.SupportFraction * float64(n))
	}
	h = min(max(h, min(c+1, n)), n)

	rng := newRand(m.Seed)
	bestDet := math.Inf(1)
	for start := 0; start < 10; start++ {
		subset := rng.Perm(n)[:min(c+1, n)]
		var det float64
		var loc, prec []float64
		for step := 0; step < 30; step++ {
			var ok bool
			loc, prec, det, ok = gaussianFit(x, subset)
			if !ok {
				break
			}
			next := smallest(m.mahalanobis(x, loc, prec), h)
			if sameSet(next, subset) {
				break
			}
			subset = next
		}
		if prec != nil && det < bestDet {
			bestDet, m.Location, m.Precision = det, loc, prec
		}
	}
	if m.Precision == nil {
		loc, prec, _, _ := gaussianFit(x, allRows(n))
		m.Location, m.Precision = loc, prec
	}
	dist := m.mahalanobis(x, m.Location, m.Precision)
	m.Threshold = contaminationThreshold(dist, m.Contamination)
	return outlierLabels(dist, m.Threshold), nil
}

// gaussianFit returns the mean, the regularised precision matrix and the covariance log determinant
func gaussianFit(x *mat.Dense, idx []int) ([]float64, []float64, float64, bool) {
	_, c := x.Dims()
	sub := TakeRows(x, idx)
	loc := colMeans(sub)
	cov := mat.NewSymDense(c, nil)
	diff := make([]float64, c)
	for i := range idx {
		floats.SubTo(diff, row(sub, i), loc)
		cov.SymRankOne(cov, 1/float64(len(idx)), mat.NewVecDense(c, diff))
	}
	for d := 0; d < c; d++ {
		cov.SetSym(d, d, cov.At(d, d)+1e-9)
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil, nil, 0, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, nil, 0, false
	}
	prec := make([]float64, c*c)
	for a := 0; a < c; a++ {
		for b := 0; b < c; b++ {
			prec[a*c+b] = inv.At(a, b)
		}
	}
	return loc, prec, chol.LogDet(), true
}

func (m *EllipticEnvelope) mahalanobis(x *mat.Dense, loc, prec []float64) []float64 {
	r, c := x.Dims()
	p := mat.NewDense(c, c, prec)
	out := make([]float64, r)
	diff := mat.NewVecDense(c, nil)
	var tmp mat.VecDense
	for i := 0; i < r; i++ {
		floats.SubTo(diff.RawVector().Data, row(x, i), loc)
		tmp.MulVec(p, diff)
		out[i] = mat.Dot(diff, &tmp)
	}
	return out
}

func smallest(v []float64, h int) []int {
	idx := allRows(len(v))
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	out := idx[:h]
	sort.Ints(out)
	return out
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	s := append([]int(nil), b...)
	sort.Ints(s)
	for i := range a {
		if a[i] != s[i] {
			return false
		}
	}
	return true
}

func (m *EllipticEnvelope) PredictOutlier(x *mat.Dense) []int {
	return outlierLabels(m.mahalanobis(x, m.Location, m.Precision), m.Threshold)
}

// IsoNode is a node of an isolation tree; leaves have Feature -1
type IsoNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Size      int
}

// IsolationForest scores rows by how quickly random splits isolate them
type IsolationForest struct {
	NEstimators   int
	MaxSamples    int
	Contamination float64
	Seed          int
	SampleSize    int
	Trees         [][]IsoNode
	Threshold     float64
}

// averagePath is the expected path length of an unsuccessful BST search over n points
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	f := float64(n)
	return 2*(math.Log(f-1)+0.5772156649) - 2*(f-1)/f
}

func (m *IsolationForest) FitPredict(x *mat.Dense) ([]int, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	rng := newRand(m.Seed)
	m.SampleSize = min(256, n)
	if m.MaxSamples > 0 {
		m.SampleSize = min(m.MaxSamples, n)
	}
	limit := int(math.Ceil(math.Log2(float64(max(m.SampleSize, 2)))))
	m.Trees = make([][]IsoNode, max(1, m.NEstimators))
	for t := range m.Trees {
		idx := rng.Perm(n)[:m.SampleSize]
		var nodes []IsoNode
		var grow func(idx []int, depth int) int
		grow = func(idx []int, depth int) int {
			at := len(nodes)
			nodes = append(nodes, IsoNode{Feature: -1, Size: len(idx)})
			if depth >= limit || len(idx) <= 1 {
				return at
			}
			f := rng.IntN(c)
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, i := range idx {
				v := x.At(i, f)
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
			if lo == hi {
				return at
			}
			thr := lo + rng.Float64()*(hi-lo)
			var left, right []int
			for _, i := range idx {
				if x.At(i, f) < thr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			l := grow(left, depth+1)
			r := grow(right, depth+1)
			nodes[at].Feature, nodes[at].Threshold, nodes[at].Left, nodes[at].Right = f, thr, l, r
			return at
		}
		grow(idx, 0)
		m.Trees[t] = nodes
	}
	scores := m.scores(x)
	m.Threshold = 0.5
	if m.Contamination > 0 {
		m.Threshold = contaminationThreshold(scores, m.Contamination)
	}
	return outlierLabels(scores, m.Threshold), nil
}

// scores returns anomaly scores in (0, 1]; higher is more anomalous
func (m *IsolationForest) scores(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	norm := averagePath(m.SampleSize)
	if norm == 0 {
		norm = 1
	}
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		xi := row(x, i)
		total := 0.0
		for _, nodes := range m.Trees {
			at, depth := 0, 0.0
			for nodes[at].Feature >= 0 {
				if xi[nodes[at].Feature] < nodes[at].Threshold {
					at = nodes[at].Left
				} else {
					at = nodes[at].Right
				}
				depth++
			}
			total += depth + averagePath(nodes[at].Size)
		}
		out[i] = math.Pow(2, -total/float64(len(m.Trees))/norm)
	}
	return out
}

func (m *IsolationForest) PredictOutlier(x *mat.Dense) []int {
	return outlierLabels(m.scores(x), m.Threshold)
}

// SGDOneClassSVM is a linear one-class SVM trained by stochastic gradient descent
type SGDOneClassSVM struct {
	Nu      float64
	Config  SGDConfig
	Weights []float64
	Offset  float64
}

func (m *SGDOneClassSVM) FitPredict(x *mat.Dense) ([]int, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	nu := math.Min(math.Max(m.Nu, 1e-6), 1)
	cfg := m.Config
	cfg.Alpha = nu
	rng := newRand(cfg.Seed)
	m.Weights = make([]float64, c)
	m.Offset = 1
	t := 1
	for epoch := 0; epoch < max(1, cfg.MaxIter); epoch++ {
		for _, i := range rng.Perm(n) {
			xi := row(x, i)
			eta := cfg.eta(t)
			violated := floats.Dot(m.Weights, xi) < m.Offset
			floats.Scale(1-eta*cfg.Alpha, m.Weights)
			if violated {
				floats.AddScaled(m.Weights, eta, xi)
				m.Offset -= eta * (1 - nu)
			} else {
				m.Offset += eta * nu
			}
			t++
		}
	}
	return m.PredictOutlier(x), nil
}

func (m *SGDOneClassSVM) PredictOutlier(x *mat.Dense) []int {
	r, _ := x.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		out[i] = 1
		if floats.Dot(m.Weights, row(x, i)) < m.Offset {
			out[i] = -1
		}
	}
	return out
}
