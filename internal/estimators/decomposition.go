package estimators

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func componentCount(want, n, c int) int {
	limit := min(n, c)
	if want <= 0 || want > limit {
		return limit
	}
	return want
}

// flipSigns makes the largest absolute loading of every component positive
func flipSigns(components *mat.Dense) {
	k, _ := components.Dims()
	for i := 0; i < k; i++ {
		r := components.RawRowView(i)
		if r[floats.MaxIdx(absAll(r))] < 0 {
			floats.Scale(-1, r)
		}
	}
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

// topRightSingular returns the first k right singular vectors as rows and every singular value
func topRightSingular(x *mat.Dense, k int) (*mat.Dense, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, nil, errors.New("singular value decomposition did not converge")
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)
	_, c := x.Dims()
	comps := mat.NewDense(k, c, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < c; j++ {
			comps.Set(i, j, v.At(j, i))
		}
	}
	flipSigns(comps)
	return comps, values, nil
}

func project(x, components *mat.Dense, mean []float64) *mat.Dense {
	r, c := x.Dims()
	k, _ := components.Dims()
	centred := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		dst := centred.RawRowView(i)
		copy(dst, row(x, i))
		if mean != nil {
			floats.Sub(dst, mean)
		}
	}
	out := mat.NewDense(r, k, nil)
	out.Mul(centred, components.T())
	return out
}

// PCA projects centred rows onto the leading principal axes
type PCA struct {
	NComponents int
	Mean        []float64
	Components  *mat.Dense
	Variance    []float64
	Ratio       []float64
}

func (m *PCA) FitTransform(x *mat.Dense, _ []int) (*mat.Dense, error) {
	n, c := x.Dims()
	if n < 2 {
		return nil, fmt.Errorf("PCA needs at least 2 samples, got %d", n)
	}
	k := componentCount(m.NComponents, n, c)
	m.Mean = colMeans(x)
	centred := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		floats.Sub(centred.RawRowView(i), m.Mean)
	}
	comps, values, err := topRightSingular(centred, k)
	if err != nil {
		return nil, err
	}
	m.Components = comps
	total := 0.0
	all := make([]float64, len(values))
	for i, s := range values {
		all[i] = s * s / float64(n-1)
		total += all[i]
	}
	m.Variance = all[:k]
	m.Ratio = make([]float64, k)
	for i := range m.Ratio {
		if total > 0 {
			m.Ratio[i] = m.Variance[i] / total
		}
	}
	return m.Transform(x), nil
}

func (m *PCA) Transform(x *mat.Dense) *mat.Dense { return project(x, m.Components, m.Mean) }

func (m *PCA) ExplainedVarianceRatio() []float64 { return m.Ratio }

// TruncatedSVD projects uncentred rows onto the leading right singular vectors
type TruncatedSVD struct {
	NComponents int
	Components  *mat.Dense
	Ratio       []float64
}

func (m *TruncatedSVD) FitTransform(x *mat.Dense, _ []int) (*mat.Dense, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	if m.NComponents >= c {
		return nil, fmt.Errorf("n_components must be < n_features; got %d >= %d", m.NComponents, c)
	}
	comps, _, err := topRightSingular(x, componentCount(m.NComponents, n, c))
	if err != nil {
		return nil, err
	}
	m.Components = comps
	out := m.Transform(x)
	total := 0.0
	for j := 0; j < c; j++ {
		total += variance(mat.Col(nil, j, x))
	}
	_, k := out.Dims()
	m.Ratio = make([]float64, k)
	for j := range m.Ratio {
		if total > 0 {
			m.Ratio[j] = variance(mat.Col(nil, j, out)) / total
		}
	}
	return out, nil
}

func variance(v []float64) float64 {
	mean := floats.Sum(v) / float64(len(v))
	s := 0.0
	for _, x := range v {
		s += (x - mean) * (x - mean)
	}
	return s / float64(len(v))
}

func (m *TruncatedSVD) Transform(x *mat.Dense) *mat.Dense { return project(x, m.Components, nil) }

func (m *TruncatedSVD) ExplainedVarianceRatio() []float64 { return m.Ratio }

// LinearDiscriminantAnalysis projects onto directions maximising between-class
// over within-class scatter.
type LinearDiscriminantAnalysis struct {
	NComponents int
	Mean        []float64
	Scalings    *mat.Dense
	Ratio       []float64
}

func (m *LinearDiscriminantAnalysis) FitTransform(x *mat.Dense, y []int) (*mat.Dense, error) {
	n, c := x.Dims()
	if y == nil {
		return nil, errors.New("linear discriminant analysis requires a target")
	}
	k := 0
	for _, v := range y {
		k = max(k, v+1)
	}
	limit := min(k-1, c)
	if limit < 1 {
		return nil, errors.New("linear discriminant analysis needs at least two classes")
	}
	if m.NComponents > limit {
		return nil, fmt.Errorf("n_components cannot be larger than min(n_features, n_classes - 1) = %d", limit)
	}
	comps := m.NComponents
	if comps <= 0 {
		comps = limit
	}

	m.Mean = colMeans(x)
	counts := countClasses(y, k)
	means := mat.NewDense(k, c, nil)
	for i := 0; i < n; i++ {
		floats.Add(means.RawRowView(y[i]), row(x, i))
	}
	for j := 0; j < k; j++ {
		if counts[j] > 0 {
			floats.Scale(1/counts[j], means.RawRowView(j))
		}
	}
	within := mat.NewSymDense(c, nil)
	between := mat.NewSymDense(c, nil)
	diff := make([]float64, c)
	for i := 0; i < n; i++ {
		floats.SubTo(diff, row(x, i), means.RawRowView(y[i]))
		within.SymRankOne(within, 1/float64(n), mat.NewVecDense(c, diff))
	}
	for j := 0; j < k; j++ {
		floats.SubTo(diff, means.RawRowView(j), m.Mean)
		between.SymRankOne(between, counts[j]/float64(n), mat.NewVecDense(c, diff))
	}
	for d := 0; d < c; d++ {
		within.SetSym(d, d, within.At(d, d)+1e-6)
	}

	var chol mat.Cholesky
	if !chol.Factorize(within) {
		return nil, errors.New("within-class scatter is singular")
	}
	var l, linv mat.TriDense
	chol.LTo(&l)
	if err := linv.InverseTri(&l); err != nil {
		return nil, err
	}
	// M = L⁻¹ Sb L⁻ᵀ
	var linvB, mm mat.Dense
	linvB.Mul(&linv, between)
	mm.Mul(&linvB, linv.T())
	sym := mat.NewSymDense(c, nil)
	for a := 0; a < c; a++ {
		for b := a; b < c; b++ {
			sym.SetSym(a, b, (mm.At(a, b)+mm.At(b, a))/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, errors.New("discriminant eigen decomposition did not converge")
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// W = L⁻ᵀ v, largest eigenvalues first
	top := mat.NewDense(c, comps, nil)
	for j := 0; j < comps; j++ {
		top.SetCol(j, mat.Col(nil, c-1-j, &vecs))
	}
	var w mat.Dense
	w.Mul(linv.T(), top)
	m.Scalings = mat.NewDense(comps, c, nil)
	m.Scalings.Copy(w.T())
	flipSigns(m.Scalings)

	total := 0.0
	for _, v := range values {
		total += math.Max(v, 0)
	}
	m.Ratio = make([]float64, comps)
	for j := range m.Ratio {
		if total > 0 {
			m.Ratio[j] = math.Max(values[c-1-j], 0) / total
		}
	}
	return m.Transform(x), nil
}

func (m *LinearDiscriminantAnalysis) Transform(x *mat.Dense) *mat.Dense {
	return project(x, m.Scalings, m.Mean)
}

func (m *LinearDiscriminantAnalysis) ExplainedVarianceRatio() []float64 { return m.Ratio }

// NMF factorises non-negative rows as W·H with multiplicative updates
type NMF struct {
	NComponents int
	MaxIter     int
	Tol         float64
	Seed        int
	Components  *mat.Dense
}

const nmfEps = 1e-10

func (m *NMF) FitTransform(x *mat.Dense, _ []int) (*mat.Dense, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	if floats.Min(x.RawMatrix().Data) < 0 {
		return nil, errors.New("negative values in data passed to NMF")
	}
	k := componentCount(m.NComponents, n, c)
	rng := newRand(m.Seed)
	scale := math.Sqrt(floats.Sum(x.RawMatrix().Data) / float64(n*c) / float64(k))
	w := mat.NewDense(n, k, nil)
	h := mat.NewDense(k, c, nil)
	w.Apply(func(_, _ int, _ float64) float64 { return scale * math.Abs(rng.NormFloat64()) }, w)
	h.Apply(func(_, _ int, _ float64) float64 { return scale * math.Abs(rng.NormFloat64()) }, h)

	prev := math.Inf(1)
	for it := 0; it < max(1, m.MaxIter); it++ {
		updateH(x, w, h)
		updateW(x, w, h)
		if it%10 == 9 {
			err := reconstructionError(x, w, h)
			if prev-err < m.Tol*prev {
				break
			}
			prev = err
		}
	}
	m.Components = h
	return w, nil
}

func updateH(x, w, h *mat.Dense) {
	var num, wtw, den mat.Dense
	num.Mul(w.T(), x)
	wtw.Mul(w.T(), w)
	den.Mul(&wtw, h)
	h.Apply(func(i, j int, v float64) float64 { return v * num.At(i, j) / (den.At(i, j) + nmfEps) }, h)
}

func updateW(x, w, h *mat.Dense) {
	var num, hht, den mat.Dense
	num.Mul(x, h.T())
	hht.Mul(h, h.T())
	den.Mul(w, &hht)
	w.Apply(func(i, j int, v float64) float64 { return v * num.At(i, j) / (den.At(i, j) + nmfEps) }, w)
}

func reconstructionError(x, w, h *mat.Dense) float64 {
	var wh mat.Dense
	wh.Mul(w, h)
	wh.Sub(x, &wh)
	return mat.Norm(&wh, 2)
}

// Transform solves for W with the fitted components held fixed
func (m *NMF) Transform(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	k, _ := m.Components.Dims()
	w := mat.NewDense(r, k, nil)
	w.Apply(func(_, _ int, _ float64) float64 { return 1 }, w)
	for it := 0; it < max(200, m.MaxIter); it++ {
		updateW(x, w, m.Components)
	}
	return w
}

// Isomap embeds rows by classical scaling of geodesic distances on the
// k-nearest-neighbour graph.
type Isomap struct {
	NNeighbors  int
	NComponents int
	Train       *mat.Dense
	Geodesic    [][]float64
	RowMeans    []float64
	// Projection maps centred squared geodesics to embedding coordinates
	Projection *mat.Dense
}

type distItem struct {
	node int
	dist float64
}

type distHeap []distItem

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(a, b int) bool { return h[a].dist < h[b].dist }
func (h distHeap) Swap(a, b int)      { h[a], h[b] = h[b], h[a] }
func (h *distHeap) Push(v any)        { *h = append(*h, v.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}

func (m *Isomap) FitTransform(x *mat.Dense, _ []int) (*mat.Dense, error) {
	n, _ := x.Dims()
	k := min(m.NNeighbors, n-1)
	if k < 1 {
		return nil, errors.New("isomap needs at least two samples")
	}
	m.Train = mat.DenseCopyOf(x)
	nb := Neighbors{Train: m.Train}
	graph := make([][]neighbor, n)
	for i := 0; i < n; i++ {
		for _, e := range nb.nearest(row(x, i), k, i) {
			graph[i] = append(graph[i], e)
			graph[e.index] = append(graph[e.index], neighbor{i, e.dist})
		}
	}
	m.Geodesic = make([][]float64, n)
	longest := 0.0
	for s := 0; s < n; s++ {
		m.Geodesic[s] = dijkstra(graph, s)
		for _, d := range m.Geodesic[s] {
			if !math.IsInf(d, 1) {
				longest = math.Max(longest, d)
			}
		}
	}
	sq := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := m.Geodesic[i][j]
			if math.IsInf(d, 1) {
				d = longest
				m.Geodesic[i][j], m.Geodesic[j][i] = d, d
			}
			sq.SetSym(i, j, d*d)
		}
	}
	m.RowMeans = make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.RowMeans[i] += sq.At(i, j)
		}
		total += m.RowMeans[i]
		m.RowMeans[i] /= float64(n)
	}
	grand := total / float64(n*n)
	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			gram.SetSym(i, j, -0.5*(sq.At(i, j)-m.RowMeans[i]-m.RowMeans[j]+grand))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(gram, true) {
		return nil, errors.New("isomap eigen decomposition did not converge")
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	comps := m.NComponents
	if comps <= 0 || comps > n {
		comps = min(2, n)
	}
	out := mat.NewDense(n, comps, nil)
	m.Projection = mat.NewDense(comps, n, nil)
	for j := 0; j < comps; j++ {
		lambda := math.Max(values[n-1-j], 1e-12)
		v := mat.Col(nil, n-1-j, &vecs)
		if v[floats.MaxIdx(absAll(v))] < 0 {
			floats.Scale(-1, v)
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, v[i]*math.Sqrt(lambda))
			m.Projection.Set(j, i, v[i]/math.Sqrt(lambda))
		}
	}
	return out, nil
}

func dijkstra(graph [][]neighbor, src int) []float64 {
	dist := make([]float64, len(graph))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[src] = 0
	h := &distHeap{{src, 0}}
	for h.Len() > 0 {
		cur := heap.Pop(h).(distItem)
		if cur.dist > dist[cur.node] {
			continue
		}
		for _, e := range graph[cur.node] {
			if d := cur.dist + e.dist; d < dist[e.index] {
				dist[e.index] = d
				heap.Push(h, distItem{e.index, d})
			}
		}
	}
	return dist
}

// Transform places new rows by routing through their nearest fitted neighbours
func (m *Isomap) Transform(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	n, _ := m.Train.Dims()
	nb := Neighbors{Train: m.Train}
	k := min(m.NNeighbors, n)
	comps, _ := m.Projection.Dims()
	out := mat.NewDense(r, comps, nil)
	delta := make([]float64, n)
	for i := 0; i < r; i++ {
		near := nb.nearest(row(x, i), k, -1)
		for j := 0; j < n; j++ {
			best := math.Inf(1)
			for _, e := range near {
				best = math.Min(best, e.dist+m.Geodesic[e.index][j])
			}
			delta[j] = -0.5 * (best*best - m.RowMeans[j])
		}
		for cmp := 0; cmp < comps; cmp++ {
			out.Set(i, cmp, floats.Dot(m.Projection.RawRowView(cmp), delta))
		}
	}
	return out
}

// TSNE embeds rows by matching neighbour distributions with exact gradients.
// It has no out-of-sample transform.
type TSNE struct {
	NComponents  int
	Perplexity   float64
	LearningRate float64
	MaxIter      int
	Seed         int
	KLDivergence float64
}

func (m *TSNE) FitTransform(x *mat.Dense, _ []int) (*mat.Dense, error) {
	n, _ := x.Dims()
	if float64(n) <= m.Perplexity {
		return nil, fmt.Errorf("perplexity must be less than n_samples (%d)", n)
	}
	dims := max(1, m.NComponents)
	p := m.affinities(pairwiseSqDist(x))

	lr := m.LearningRate
	if lr <= 0 {
		lr = math.Max(float64(n)/12/4, 50)
	}
	rng := newRand(m.Seed)
	y := mat.NewDense(n, dims, nil)
	y.Apply(func(_, _ int, _ float64) float64 { return 1e-4 * rng.NormFloat64() }, y)
	update := mat.NewDense(n, dims, nil)
	gains := mat.NewDense(n, dims, nil)
	gains.Apply(func(_, _ int, _ float64) float64 { return 1 }, gains)
	q := make([][]float64, n)
	for i := range q {
		q[i] = make([]float64, n)
	}
	grad := make([]float64, dims)
	iters := max(250, m.MaxIter)
	for it := 0; it < iters; it++ {
		exag, momentum := 1.0, 0.8
		if it < 250 {
			exag, momentum = 12, 0.5
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				v := 1 / (1 + sqDist(row(y, i), row(y, j)))
				q[i][j], q[j][i] = v, v
				sum += 2 * v
			}
		}
		kl := 0.0
		for i := 0; i < n; i++ {
			for d := range grad {
				grad[d] = 0
			}
			yi := row(y, i)
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				qij := math.Max(q[i][j]/sum, 1e-12)
				mult := 4 * (exag*p[i][j] - qij) * q[i][j]
				yj := row(y, j)
				for d := range grad {
					grad[d] += mult * (yi[d] - yj[d])
				}
				if p[i][j] > 0 {
					kl += p[i][j] * math.Log(p[i][j]/qij)
				}
			}
			for d := range grad {
				g := gains.At(i, d)
				if (grad[d] > 0) != (update.At(i, d) > 0) {
					g += 0.2
				} else {
					g *= 0.8
				}
				g = math.Max(g, 0.01)
				gains.Set(i, d, g)
				update.Set(i, d, momentum*update.At(i, d)-lr*g*grad[d])
			}
		}
		y.Add(y, update)
		m.KLDivergence = kl
	}
	return y, nil
}

// affinities calibrates per-row Gaussian bandwidths to the perplexity and symmetrises
func (m *TSNE) affinities(d [][]float64) [][]float64 {
	n := len(d)
	target := math.Log(m.Perplexity)
	p := make([][]float64, n)
	for i := 0; i < n; i++ {
		p[i] = make([]float64, n)
		beta, lo, hi := 1.0, math.Inf(-1), math.Inf(1)
		for step := 0; step < 100; step++ {
			sum, weighted := 0.0, 0.0
			for j := 0; j < n; j++ {
				if j == i {
					p[i][j] = 0
					continue
				}
				p[i][j] = math.Exp(-d[i][j] * beta)
				sum += p[i][j]
				weighted += d[i][j] * p[i][j]
			}
			if sum == 0 {
				sum = 1e-12
			}
			entropy := math.Log(sum) + beta*weighted/sum
			for j := range p[i] {
				p[i][j] /= sum
			}
			diff := entropy - target
			if math.Abs(diff) < 1e-5 {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				if math.IsInf(lo, -1) {
					beta /= 2
				} else {
					beta = (beta + lo) / 2
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := math.Max((p[i][j]+p[j][i])/(2*float64(n)), 1e-12)
			p[i][j], p[j][i] = v, v
		}
	}
	return p
}
