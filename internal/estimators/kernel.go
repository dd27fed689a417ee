package estimators

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Kernel is a positive semi-definite similarity between rows
type Kernel struct {
	Kind      string
	GammaSpec string
	Gamma     float64
	Degree    int
	Coef0     float64
}

func kernelFrom(p Params) Kernel {
	k := Kernel{
		Kind:   p.String("kernel", "rbf"),
		Degree: p.Int("degree", 3),
		Coef0:  p.Float("coef0", 0),
	}
	switch v := p["gamma"].(type) {
	case string:
		k.GammaSpec = v
	case float64:
		k.Gamma = v
	default:
		k.GammaSpec = "scale"
	}
	return k
}

// resolve fixes a data dependent gamma
func (k *Kernel) resolve(x *mat.Dense) {
	_, c := x.Dims()
	switch k.GammaSpec {
	case "auto":
		k.Gamma = 1 / float64(c)
	case "scale":
		v := stat.Variance(x.RawMatrix().Data, nil)
		if v <= 0 || math.IsNaN(v) {
			v = 1
		}
		k.Gamma = 1 / (float64(c) * v)
	}
	if k.Gamma <= 0 {
		k.Gamma = 1 / float64(c)
	}
}

func (k Kernel) eval(a, b []float64) float64 {
	switch k.Kind {
	case "linear":
		return floats.Dot(a, b)
	case "poly":
		return math.Pow(k.Gamma*floats.Dot(a, b)+k.Coef0, float64(k.Degree))
	case "sigmoid":
		return math.Tanh(k.Gamma*floats.Dot(a, b) + k.Coef0)
	default:
		return math.Exp(-k.Gamma * sqDist(a, b))
	}
}

// pegasos runs kernelised Pegasos. violated reports whether a sample's current score
// breaks the margin and returns the update direction. The returned coefficients
// already include the final 1/(λT) scaling.
func pegasos(x *mat.Dense, k Kernel, lambda float64, steps int, seed int, violated func(i int, score float64) float64) []float64 {
	n, _ := x.Dims()
	rng := newRand(seed)
	counts := make([]float64, n)
	sums := make([]float64, n)
	for t := 1; t <= steps; t++ {
		i := rng.IntN(n)
		score := sums[i] / (lambda * float64(t))
		dir := violated(i, score)
		if dir == 0 {
			continue
		}
		counts[i] += dir
		xi := row(x, i)
		for j := 0; j < n; j++ {
			sums[j] += dir * (k.eval(xi, row(x, j)) + 1)
		}
	}
	floats.Scale(1/(lambda*float64(steps)), counts)
	return counts
}

// KernelMachine is the fitted form shared by SVC and SVR
type KernelMachine struct {
	Kernel  Kernel
	Support *mat.Dense
	// Dual holds one coefficient row per output over the support rows
	Dual [][]float64
}

func (km *KernelMachine) scores(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	s, _ := km.Support.Dims()
	out := mat.NewDense(r, len(km.Dual), nil)
	kv := make([]float64, s)
	for i := 0; i < r; i++ {
		xi := row(x, i)
		for j := 0; j < s; j++ {
			kv[j] = km.Kernel.eval(xi, row(km.Support, j)) + 1
		}
		for o, dual := range km.Dual {
			out.Set(i, o, floats.Dot(kv, dual))
		}
	}
	return out
}

// keepSupport drops rows whose coefficient is zero for every output
func (km *KernelMachine) keepSupport(x *mat.Dense, dual [][]float64) {
	n, _ := x.Dims()
	var keep []int
	for j := 0; j < n; j++ {
		for _, d := range dual {
			if d[j] != 0 {
				keep = append(keep, j)
				break
			}
		}
	}
	if len(keep) == 0 {
		keep = []int{0}
	}
	km.Support = TakeRows(x, keep)
	km.Dual = make([][]float64, len(dual))
	for o, d := range dual {
		km.Dual[o] = pick(d, keep)
	}
}

func pegasosSteps(maxIter, n int) int {
	if maxIter > 0 {
		return maxIter
	}
	return min(max(20*n, 1000), 200000)
}

// SVC is a kernel support vector classifier, one-vs-rest for more than two classes
type SVC struct {
	C        float64
	MaxIter  int
	Seed     int
	NClasses int
	Scaler   standardiser
	KernelMachine
}

func (m *SVC) Fit(x *mat.Dense, y []int, nClasses int) error {
	n, _ := x.Dims()
	if n == 0 {
		return errors.New("cannot fit on zero samples")
	}
	m.NClasses = nClasses
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	m.Kernel.resolve(xs)

	outputs := nClasses
	if nClasses <= 2 {
		outputs = 1
	}
	lambda := 1 / (math.Max(m.C, 1e-12) * float64(n))
	steps := pegasosSteps(m.MaxIter, n)
	dual := make([][]float64, outputs)
	for o := 0; o < outputs; o++ {
		target := o
		if outputs == 1 {
			target = 1
		}
		signs := make([]float64, n)
		for i, c := range y {
			signs[i] = -1
			if c == target {
				signs[i] = 1
			}
		}
		dual[o] = pegasos(xs, m.Kernel, lambda, steps, m.Seed+o, func(i int, score float64) float64 {
			if signs[i]*score < 1 {
				return signs[i]
			}
			return 0
		})
	}
	m.keepSupport(xs, dual)
	return nil
}

func (m *SVC) DecisionFunction(x *mat.Dense) *mat.Dense {
	s := m.scores(m.Scaler.apply(x))
	r, _ := s.Dims()
	if len(m.Dual) > 1 {
		return s
	}
	out := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		v := s.At(i, 0)
		out.Set(i, 0, -v)
		out.Set(i, 1, v)
	}
	return out
}

func (m *SVC) Predict(x *mat.Dense) []int { return argmaxRows(m.DecisionFunction(x)) }

// SVR is kernel epsilon-insensitive regression on standardised targets
type SVR struct {
	C       float64
	Epsilon float64
	MaxIter int
	Seed    int
	Scaler  standardiser
	YMean   float64
	YScale  float64
	KernelMachine
}

func (m *SVR) Fit(x *mat.Dense, y []float64) error {
	n, _ := x.Dims()
	if n == 0 {
		return errors.New("cannot fit on zero samples")
	}
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	m.Kernel.resolve(xs)
	m.YMean, m.YScale = stat.PopMeanStdDev(y, nil)
	if m.YScale == 0 {
		m.YScale = 1
	}
	ys := make([]float64, n)
	for i, v := range y {
		ys[i] = (v - m.YMean) / m.YScale
	}

	lambda := 1 / (math.Max(m.C, 1e-12) * float64(n))
	dual := pegasos(xs, m.Kernel, lambda, pegasosSteps(m.MaxIter, n), m.Seed, func(i int, score float64) float64 {
		d := ys[i] - score
		if math.Abs(d) > m.Epsilon {
			return math.Copysign(1, d)
		}
		return 0
	})
	m.keepSupport(xs, [][]float64{dual})
	return nil
}

func (m *SVR) Predict(x *mat.Dense) []float64 {
	s := m.scores(m.Scaler.apply(x))
	out := mat.Col(nil, 0, s)
	for i := range out {
		out[i] = out[i]*m.YScale + m.YMean
	}
	return out
}

// OneClassSVM estimates the support of the data as a kernel density level set;
// the level is the nu-quantile of the training scores.
type OneClassSVM struct {
	Nu     float64
	Kernel Kernel
	Scaler standardiser
	Train  *mat.Dense
	Rho    float64
}

func (m *OneClassSVM) density(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	n, _ := m.Train.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		xi := row(x, i)
		s := 0.0
		for j := 0; j < n; j++ {
			s += m.Kernel.eval(xi, row(m.Train, j))
		}
		out[i] = s / float64(n)
	}
	return out
}

func (m *OneClassSVM) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errors.New("cannot fit on zero samples")
	}
	m.Scaler = fitStandardiser(x)
	xs := m.Scaler.apply(x)
	m.Kernel.resolve(xs)
	m.Train = xs
	if n > 2000 {
		m.Train = TakeRows(xs, newRand(42).Perm(n)[:2000])
	}
	scores := m.density(xs)
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	m.Rho = sorted[min(int(m.Nu*float64(n)), n-1)]
	return m.label(scores), nil
}

func (m *OneClassSVM) DecisionScores(x *mat.Dense) []float64 {
	scores := m.density(m.Scaler.apply(x))
	for i := range scores {
		scores[i] -= m.Rho
	}
	return scores
}

func (m *OneClassSVM) PredictOutlier(x *mat.Dense) []int {
	return m.label(m.density(m.Scaler.apply(x)))
}

func (m *OneClassSVM) label(scores []float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = 1
		if s < m.Rho {
			out[i] = -1
		}
	}
	return out
}
