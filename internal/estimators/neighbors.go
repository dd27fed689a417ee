package estimators

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type neighbor struct {
	index int
	dist  float64
}

// Neighbors keeps the fitted rows for the instance based models
type Neighbors struct {
	K       int
	Radius  float64
	Weights string
	Metric  string
	P       float64
	Train   *mat.Dense
}

func neighborsFrom(p Params) Neighbors {
	return Neighbors{
		K:       max(1, p.Int("n_neighbors", 5)),
		Radius:  p.Float("radius", 1),
		Weights: p.String("weights", "uniform"),
		Metric:  p.String("metric", "minkowski"),
		P:       p.Float("p", 2),
	}
}

func (nb *Neighbors) fit(x *mat.Dense) error {
	r, _ := x.Dims()
	if r == 0 {
		return errors.New("cannot fit on zero samples")
	}
	nb.Train = mat.DenseCopyOf(x)
	return nil
}

func (nb *Neighbors) distance(a, b []float64) float64 {
	switch {
	case nb.Metric == "manhattan" || (nb.Metric == "minkowski" && nb.P == 1):
		d := 0.0
		for i := range a {
			d += math.Abs(a[i] - b[i])
		}
		return d
	case nb.Metric == "chebyshev":
		d := 0.0
		for i := range a {
			d = math.Max(d, math.Abs(a[i]-b[i]))
		}
		return d
	case nb.Metric == "minkowski" && nb.P != 2 && nb.P > 0:
		return floats.Distance(a, b, nb.P)
	default:
		return math.Sqrt(sqDist(a, b))
	}
}

// nearest returns the k closest fitted rows, skipping index skip when it is non-negative
func (nb *Neighbors) nearest(q []float64, k, skip int) []neighbor {
	n, _ := nb.Train.Dims()
	all := make([]neighbor, 0, n)
	for j := 0; j < n; j++ {
		if j == skip {
			continue
		}
		all = append(all, neighbor{j, nb.distance(q, row(nb.Train, j))})
	}
	sort.Slice(all, func(a, b int) bool { return all[a].dist < all[b].dist })
	return all[:min(k, len(all))]
}

func (nb *Neighbors) within(q []float64) []neighbor {
	n, _ := nb.Train.Dims()
	var out []neighbor
	for j := 0; j < n; j++ {
		if d := nb.distance(q, row(nb.Train, j)); d <= nb.Radius {
			out = append(out, neighbor{j, d})
		}
	}
	return out
}

func (nb *Neighbors) weight(d float64) float64 {
	if nb.Weights != "distance" {
		return 1
	}
	if d == 0 {
		return 1e12
	}
	return 1 / d
}

// KNeighborsClassifier votes among the k nearest rows
type KNeighborsClassifier struct {
	Neighbors
	NClasses int
	Labels   []int
	// UseRadius switches to radius neighbours, falling back to class priors when empty
	UseRadius bool
	Prior     []float64
}

func (m *KNeighborsClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = nClasses
	m.Labels = append([]int(nil), y...)
	m.Prior = countClasses(y, nClasses)
	floats.Scale(1/float64(len(y)), m.Prior)
	return m.fit(x)
}

func (m *KNeighborsClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, max(m.NClasses, 2), nil)
	for i := 0; i < r; i++ {
		var near []neighbor
		if m.UseRadius {
			near = m.within(row(x, i))
		} else {
			near = m.nearest(row(x, i), m.K, -1)
		}
		p := out.RawRowView(i)
		if len(near) == 0 {
			copy(p, m.Prior)
			continue
		}
		for _, nb := range near {
			p[m.Labels[nb.index]] += m.weight(nb.dist)
		}
		floats.Scale(1/floats.Sum(p), p)
	}
	return out
}

func (m *KNeighborsClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.PredictProba(x)) }

// KNeighborsRegressor averages the targets of the nearest rows
type KNeighborsRegressor struct {
	Neighbors
	Targets   []float64
	UseRadius bool
	Mean      float64
}

func (m *KNeighborsRegressor) Fit(x *mat.Dense, y []float64) error {
	m.Targets = append([]float64(nil), y...)
	m.Mean = floats.Sum(y) / float64(max(len(y), 1))
	return m.fit(x)
}

func (m *KNeighborsRegressor) Predict(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		var near []neighbor
		if m.UseRadius {
			near = m.within(row(x, i))
		} else {
			near = m.nearest(row(x, i), m.K, -1)
		}
		if len(near) == 0 {
			out[i] = m.Mean
			continue
		}
		sum, wsum := 0.0, 0.0
		for _, nb := range near {
			w := m.weight(nb.dist)
			sum += w * m.Targets[nb.index]
			wsum += w
		}
		out[i] = sum / wsum
	}
	return out
}

// LocalOutlierFactor flags rows whose local reachability density is low
// relative to their neighbours.
type LocalOutlierFactor struct {
	Neighbors
	Contamination float64
	LRD           []float64
	KDist         []float64
	Threshold     float64
}

func (m *LocalOutlierFactor) FitPredict(x *mat.Dense) ([]int, error) {
	if err := m.fit(x); err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	k := min(m.K, n-1)
	if k < 1 {
		return nil, errors.New("local outlier factor needs at least two samples")
	}
	m.K = k
	near := make([][]neighbor, n)
	m.KDist = make([]float64, n)
	for i := 0; i < n; i++ {
		near[i] = m.nearest(row(x, i), k, i)
		m.KDist[i] = near[i][len(near[i])-1].dist
	}
	m.LRD = make([]float64, n)
	for i := 0; i < n; i++ {
		m.LRD[i] = m.lrd(near[i])
	}
	lof := make([]float64, n)
	for i := 0; i < n; i++ {
		lof[i] = m.factor(near[i], m.LRD[i])
	}

	m.Threshold = 1.5
	if m.Contamination > 0 {
		sorted := append([]float64(nil), lof...)
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
		m.Threshold = sorted[min(int(m.Contamination*float64(n)), n-1)]
	}
	return m.label(lof), nil
}

func (m *LocalOutlierFactor) lrd(near []neighbor) float64 {
	sum := 0.0
	for _, nb := range near {
		sum += math.Max(m.KDist[nb.index], nb.dist)
	}
	if sum == 0 {
		return 1e12
	}
	return float64(len(near)) / sum
}

func (m *LocalOutlierFactor) factor(near []neighbor, own float64) float64 {
	sum := 0.0
	for _, nb := range near {
		sum += m.LRD[nb.index]
	}
	return sum / float64(len(near)) / own
}

// PredictOutlier scores new rows against the fitted neighbourhoods
func (m *LocalOutlierFactor) PredictOutlier(x *mat.Dense) []int {
	r, _ := x.Dims()
	lof := make([]float64, r)
	for i := 0; i < r; i++ {
		near := m.nearest(row(x, i), m.K, -1)
		lof[i] = m.factor(near, m.lrd(near))
	}
	return m.label(lof)
}

func (m *LocalOutlierFactor) label(lof []float64) []int {
	out := make([]int, len(lof))
	for i, v := range lof {
		out[i] = 1
		if v > m.Threshold {
			out[i] = -1
		}
	}
	return out
}

func newKNeighborsClassifier(p Params) any {
	return &KNeighborsClassifier{Neighbors: neighborsFrom(p)}
}

func newRadiusNeighborsClassifier(p Params) any {
	return &KNeighborsClassifier{Neighbors: neighborsFrom(p), UseRadius: true}
}

func newKNeighborsRegressor(p Params) any {
	return &KNeighborsRegressor{Neighbors: neighborsFrom(p)}
}

func newRadiusNeighborsRegressor(p Params) any {
	return &KNeighborsRegressor{Neighbors: neighborsFrom(p), UseRadius: true}
}

func newLocalOutlierFactor(p Params) any {
	nb := neighborsFrom(p)
	nb.K = max(1, p.Int("n_neighbors", 20))
	return &LocalOutlierFactor{Neighbors: nb, Contamination: p.Float("contamination", 0)}
}
