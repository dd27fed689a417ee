package estimators

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errNoSamples = errors.New("cannot fit on zero samples")

func nearestCenter(x, centers *mat.Dense) []int {
	r, _ := x.Dims()
	k, _ := centers.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := math.Inf(1)
		for c := 0; c < k; c++ {
			if d := sqDist(row(x, i), row(centers, c)); d < best {
				best, out[i] = d, c
			}
		}
	}
	return out
}

// kmeansPlusPlus seeds k centres with D² sampling
func kmeansPlusPlus(x *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, c := x.Dims()
	centers := mat.NewDense(k, c, nil)
	centers.SetRow(0, row(x, rng.IntN(n)))
	closest := make([]float64, n)
	for i := range closest {
		closest[i] = sqDist(row(x, i), row(centers, 0))
	}
	for m := 1; m < k; m++ {
		total := floats.Sum(closest)
		pick := rng.IntN(n)
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range closest {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		}
		centers.SetRow(m, row(x, pick))
		for i := range closest {
			closest[i] = math.Min(closest[i], sqDist(row(x, i), row(centers, m)))
		}
	}
	return centers
}

// KMeans is Lloyd's algorithm with k-means++ restarts
type KMeans struct {
	NClusters int
	NInit     int
	MaxIter   int
	Tol       float64
	Seed      int
	Centers   *mat.Dense
	Inertia   float64
}

func (m *KMeans) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	if m.NClusters > n {
		return nil, fmt.Errorf("n_samples=%d should be >= n_clusters=%d", n, m.NClusters)
	}
	rng := newRand(m.Seed)
	m.Inertia = math.Inf(1)
	var best []int
	for run := 0; run < max(1, m.NInit); run++ {
		centers, labels, inertia := lloyd(x, kmeansPlusPlus(x, m.NClusters, rng), m.MaxIter, m.Tol)
		if inertia < m.Inertia {
			m.Centers, best, m.Inertia = centers, labels, inertia
		}
	}
	return best, nil
}

func lloyd(x, centers *mat.Dense, maxIter int, tol float64) (*mat.Dense, []int, float64) {
	n, c := x.Dims()
	k, _ := centers.Dims()
	labels := nearestCenter(x, centers)
	for it := 0; it < max(1, maxIter); it++ {
		next := mat.NewDense(k, c, nil)
		counts := make([]float64, k)
		for i := 0; i < n; i++ {
			floats.Add(next.RawRowView(labels[i]), row(x, i))
			counts[labels[i]]++
		}
		shift := 0.0
		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				next.SetRow(j, row(centers, j))
				continue
			}
			floats.Scale(1/counts[j], next.RawRowView(j))
			shift += sqDist(next.RawRowView(j), row(centers, j))
		}
		centers = next
		labels = nearestCenter(x, centers)
		if shift <= tol {
			break
		}
	}
	inertia := 0.0
	for i := 0; i < n; i++ {
		inertia += sqDist(row(x, i), row(centers, labels[i]))
	}
	return centers, labels, inertia
}

func (m *KMeans) PredictCluster(x *mat.Dense) []int { return nearestCenter(x, m.Centers) }

// MiniBatchKMeans updates centres from random batches with per-centre learning rates
type MiniBatchKMeans struct {
	NClusters int
	BatchSize int
	MaxIter   int
	Seed      int
	Centers   *mat.Dense
}

func (m *MiniBatchKMeans) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	if m.NClusters > n {
		return nil, fmt.Errorf("n_samples=%d should be >= n_clusters=%d", n, m.NClusters)
	}
	rng := newRand(m.Seed)
	m.Centers = kmeansPlusPlus(x, m.NClusters, rng)
	counts := make([]float64, m.NClusters)
	batch := min(max(1, m.BatchSize), n)
	steps := max(1, m.MaxIter) * max(1, n/batch)
	for s := 0; s < steps; s++ {
		idx := bootstrap(rng, n, batch)
		b := TakeRows(x, idx)
		labels := nearestCenter(b, m.Centers)
		for i, l := range labels {
			counts[l]++
			eta := 1 / counts[l]
			c := m.Centers.RawRowView(l)
			for j, v := range row(b, i) {
				c[j] += eta * (v - c[j])
			}
		}
	}
	return nearestCenter(x, m.Centers), nil
}

func (m *MiniBatchKMeans) PredictCluster(x *mat.Dense) []int { return nearestCenter(x, m.Centers) }

// AffinityPropagation passes responsibilities and availabilities until exemplars settle
type AffinityPropagation struct {
	Damping         float64
	MaxIter         int
	ConvergenceIter int
	Preference      *float64
	Centers         *mat.Dense
}

func (m *AffinityPropagation) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	d := pairwiseSqDist(x)
	s := make([][]float64, n)
	var off []float64
	for i := range s {
		s[i] = make([]float64, n)
		for j := range s[i] {
			s[i][j] = -d[i][j]
			if i != j {
				off = append(off, s[i][j])
			}
		}
	}
	pref := 0.0
	if m.Preference != nil {
		pref = *m.Preference
	} else if len(off) > 0 {
		sort.Float64s(off)
		pref = stat.Quantile(0.5, stat.Empirical, off, nil)
	}
	for i := range s {
		s[i][i] = pref
	}

	r := make([][]float64, n)
	a := make([][]float64, n)
	for i := range r {
		r[i] = make([]float64, n)
		a[i] = make([]float64, n)
	}
	damp := m.Damping
	stable := 0
	var exemplars []int
	for it := 0; it < m.MaxIter; it++ {
		for i := 0; i < n; i++ {
			first, second, arg := math.Inf(-1), math.Inf(-1), -1
			for k := 0; k < n; k++ {
				v := a[i][k] + s[i][k]
				if v > first {
					second, first, arg = first, v, k
				} else if v > second {
					second = v
				}
			}
			for k := 0; k < n; k++ {
				top := first
				if k == arg {
					top = second
				}
				r[i][k] = damp*r[i][k] + (1-damp)*(s[i][k]-top)
			}
		}
		for k := 0; k < n; k++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				if i != k {
					sum += math.Max(0, r[i][k])
				}
			}
			for i := 0; i < n; i++ {
				v := sum
				if i != k {
					v = math.Min(0, r[k][k]+sum-math.Max(0, r[i][k]))
				}
				a[i][k] = damp*a[i][k] + (1-damp)*v
			}
		}
		var current []int
		for k := 0; k < n; k++ {
			if a[k][k]+r[k][k] > 0 {
				current = append(current, k)
			}
		}
		if len(current) > 0 && slices.Equal(current, exemplars) {
			stable++
			if stable >= m.ConvergenceIter {
				break
			}
		} else {
			stable = 0
		}
		exemplars = current
	}

	if len(exemplars) == 0 {
		m.Centers = nil
		labels := make([]int, n)
		for i := range labels {
			labels[i] = -1
		}
		return labels, nil
	}
	m.Centers = TakeRows(x, exemplars)
	return m.PredictCluster(x), nil
}

func (m *AffinityPropagation) PredictCluster(x *mat.Dense) []int {
	if m.Centers == nil {
		r, _ := x.Dims()
		out := make([]int, r)
		for i := range out {
			out[i] = -1
		}
		return out
	}
	return nearestCenter(x, m.Centers)
}

// MeanShift climbs a flat kernel density to its modes
type MeanShift struct {
	Bandwidth float64
	MaxIter   int
	Seed      int
	Centers   *mat.Dense
}

// estimateBandwidth averages each row's distance to its 30th percentile neighbour
func estimateBandwidth(x *mat.Dense, rng *rand.Rand) float64 {
	n, _ := x.Dims()
	sample := x
	if n > 500 {
		sample = TakeRows(x, rng.Perm(n)[:500])
		n = 500
	}
	k := max(1, int(0.3*float64(n)))
	total := 0.0
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dist[j] = math.Sqrt(sqDist(row(sample, i), row(sample, j)))
		}
		sort.Float64s(dist)
		total += dist[min(k, n-1)]
	}
	return total / float64(n)
}

func (m *MeanShift) FitPredict(x *mat.Dense) ([]int, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	rng := newRand(m.Seed)
	bw := m.Bandwidth
	if bw <= 0 {
		bw = estimateBandwidth(x, rng)
	}
	if bw <= 0 {
		bw = 1
	}
	seeds := allRows(n)
	if n > 500 {
		seeds = rng.Perm(n)[:500]
	}
	type mode struct {
		center []float64
		size   int
	}
	var modes []mode
	for _, s := range seeds {
		center := append([]float64(nil), row(x, s)...)
		size := 0
		for it := 0; it < m.MaxIter; it++ {
			next := make([]float64, c)
			size = 0
			for i := 0; i < n; i++ {
				if sqDist(row(x, i), center) <= bw*bw {
					floats.Add(next, row(x, i))
					size++
				}
			}
			if size == 0 {
				break
			}
			floats.Scale(1/float64(size), next)
			shift := math.Sqrt(sqDist(next, center))
			center = next
			if shift < 1e-3*bw {
				break
			}
		}
		if size > 0 {
			modes = append(modes, mode{center, size})
		}
	}
	sort.SliceStable(modes, func(a, b int) bool { return modes[a].size > modes[b].size })
	var kept [][]float64
	for _, md := range modes {
		unique := true
		for _, k := range kept {
			if sqDist(k, md.center) < bw*bw {
				unique = false
				break
			}
		}
		if unique {
			kept = append(kept, md.center)
		}
	}
	m.Centers = mat.NewDense(len(kept), c, nil)
	for i, k := range kept {
		m.Centers.SetRow(i, k)
	}
	m.Bandwidth = bw
	return nearestCenter(x, m.Centers), nil
}

func (m *MeanShift) PredictCluster(x *mat.Dense) []int { return nearestCenter(x, m.Centers) }

// SpectralClustering embeds rows with the top eigenvectors of the normalised
// RBF affinity and runs k-means in that space.
type SpectralClustering struct {
	NClusters int
	Gamma     float64
	NInit     int
	Seed      int
}

func (m *SpectralClustering) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	k := m.NClusters
	if k > n {
		return nil, fmt.Errorf("n_samples=%d should be >= n_clusters=%d", n, k)
	}
	d := pairwiseSqDist(x)
	w := mat.NewSymDense(n, nil)
	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				deg[i] += math.Exp(-m.Gamma * d[i][j])
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			if i != j && deg[i] > 0 && deg[j] > 0 {
				v = math.Exp(-m.Gamma*d[i][j]) / math.Sqrt(deg[i]*deg[j])
			}
			w.SetSym(i, j, v)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(w, true) {
		return nil, errors.New("spectral embedding did not converge")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	emb := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			emb.Set(i, j, vecs.At(i, n-1-j))
		}
		if norm := floats.Norm(emb.RawRowView(i), 2); norm > 0 {
			floats.Scale(1/norm, emb.RawRowView(i))
		}
	}
	km := &KMeans{NClusters: k, NInit: max(1, m.NInit), MaxIter: 300, Tol: 1e-4, Seed: m.Seed}
	return km.FitPredict(emb)
}

type merge struct {
	a, b   int
	height float64
}

// linkageMerges runs the nearest-neighbour chain algorithm over Lance-Williams
// updates and returns every merge. Ward works on squared distances.
func linkageMerges(x *mat.Dense, weights []float64, linkage string) []merge {
	n, _ := x.Dims()
	d := pairwiseSqDist(x)
	if linkage != "ward" {
		for i := range d {
			for j := range d[i] {
				d[i][j] = math.Sqrt(d[i][j])
			}
		}
	}
	size := make([]float64, n)
	for i := range size {
		size[i] = 1
		if weights != nil {
			size[i] = weights[i]
		}
	}
	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}
	merges := make([]merge, 0, n-1)
	var chain []int
	remaining := n
	for remaining > 1 {
		if len(chain) == 0 {
			for i := range active {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}
		top := chain[len(chain)-1]
		prev := -1
		if len(chain) > 1 {
			prev = chain[len(chain)-2]
		}
		next, best := -1, math.Inf(1)
		if prev >= 0 {
			next, best = prev, d[top][prev]
		}
		for j := range active {
			if active[j] && j != top && d[top][j] < best {
				next, best = j, d[top][j]
			}
		}
		if next != prev {
			chain = append(chain, next)
			continue
		}
		chain = chain[:len(chain)-2]
		a, b := min(top, prev), max(top, prev)
		merges = append(merges, merge{a, b, best})
		for k := range active {
			if !active[k] || k == a || k == b {
				continue
			}
			var v float64
			switch linkage {
			case "single":
				v = math.Min(d[k][a], d[k][b])
			case "complete":
				v = math.Max(d[k][a], d[k][b])
			case "average":
				v = (size[a]*d[k][a] + size[b]*d[k][b]) / (size[a] + size[b])
			default:
				t := size[a] + size[b] + size[k]
				v = ((size[a]+size[k])*d[k][a] + (size[b]+size[k])*d[k][b] - size[k]*d[a][b]) / t
			}
			d[k][a], d[a][k] = v, v
		}
		size[a] += size[b]
		active[b] = false
		remaining--
	}
	sort.SliceStable(merges, func(i, j int) bool { return merges[i].height < merges[j].height })
	return merges
}

// cutMerges applies the lowest merges until k clusters remain and labels rows by first appearance
func cutMerges(n, k int, merges []merge) []int {
	parent := allRows(n)
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, mg := range merges[:max(0, min(n-k, len(merges)))] {
		parent[find(mg.b)] = find(mg.a)
	}
	ids := make(map[int]int)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels
}

// AgglomerativeClustering merges clusters bottom-up until NClusters remain
type AgglomerativeClustering struct {
	NClusters int
	Linkage   string
}

func (m *AgglomerativeClustering) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	if m.NClusters > n {
		return nil, fmt.Errorf("n_samples=%d should be >= n_clusters=%d", n, m.NClusters)
	}
	return cutMerges(n, m.NClusters, linkageMerges(x, nil, m.Linkage)), nil
}

// DBSCAN grows clusters from core points; noise is labelled -1
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

func (m *DBSCAN) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	eps2 := m.Eps * m.Eps
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if sqDist(row(x, i), row(x, j)) <= eps2 {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	visited := make([]bool, n)
	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] || len(neighbors[i]) < m.MinSamples {
			continue
		}
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			labels[p] = cluster
			if len(neighbors[p]) < m.MinSamples {
				continue
			}
			for _, q := range neighbors[p] {
				if !visited[q] {
					visited[q] = true
					queue = append(queue, q)
				}
			}
		}
		cluster++
	}
	return labels, nil
}

// OPTICS orders rows by reachability and extracts DBSCAN-like clusters at Eps.
// A zero Eps uses the 75th percentile of finite reachabilities.
type OPTICS struct {
	MinSamples int
	MaxEps     float64
	Eps        float64
	Order      []int
	Reach      []float64
}

func (m *OPTICS) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	minPts := min(max(2, m.MinSamples), n)
	maxEps := m.MaxEps
	if maxEps <= 0 {
		maxEps = math.Inf(1)
	}
	dist := make([][]float64, n)
	core := make([]float64, n)
	sorted := make([]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			dist[i][j] = math.Sqrt(sqDist(row(x, i), row(x, j)))
		}
		copy(sorted, dist[i])
		sort.Float64s(sorted)
		core[i] = sorted[minPts-1]
		if core[i] > maxEps {
			core[i] = math.Inf(1)
		}
	}

	m.Reach = make([]float64, n)
	for i := range m.Reach {
		m.Reach[i] = math.Inf(1)
	}
	processed := make([]bool, n)
	m.Order = make([]int, 0, n)
	for len(m.Order) < n {
		// next point: smallest reachability among unprocessed, lowest index on ties
		p, best := -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !processed[i] && (p < 0 || m.Reach[i] < best) {
				p, best = i, m.Reach[i]
			}
		}
		processed[p] = true
		m.Order = append(m.Order, p)
		if math.IsInf(core[p], 1) {
			continue
		}
		for q := 0; q < n; q++ {
			if processed[q] || dist[p][q] > maxEps {
				continue
			}
			if r := math.Max(core[p], dist[p][q]); r < m.Reach[q] {
				m.Reach[q] = r
			}
		}
	}

	eps := m.Eps
	if eps <= 0 {
		var finite []float64
		for _, r := range m.Reach {
			if !math.IsInf(r, 1) {
				finite = append(finite, r)
			}
		}
		if len(finite) > 0 {
			sort.Float64s(finite)
			eps = stat.Quantile(0.75, stat.Empirical, finite, nil)
		}
	}

	labels := make([]int, n)
	cluster := -1
	for _, p := range m.Order {
		if m.Reach[p] > eps {
			if core[p] <= eps {
				cluster++
				labels[p] = cluster
			} else {
				labels[p] = -1
			}
			continue
		}
		labels[p] = cluster
	}
	return labels, nil
}

// Birch summarises rows into clustering features under Threshold and groups the
// subcluster centroids with ward linkage.
type Birch struct {
	Threshold float64
	NClusters int
	Centroids *mat.Dense
	Labels    []int
}

func (m *Birch) FitPredict(x *mat.Dense) ([]int, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	type feature struct {
		n  float64
		ls []float64
		ss float64
	}
	var feats []*feature
	for i := 0; i < n; i++ {
		xi := row(x, i)
		var best *feature
		bestD := math.Inf(1)
		for _, f := range feats {
			centroid := make([]float64, c)
			floats.ScaleTo(centroid, 1/f.n, f.ls)
			if d := sqDist(centroid, xi); d < bestD {
				best, bestD = f, d
			}
		}
		if best != nil {
			nn := best.n + 1
			ls := make([]float64, c)
			floats.AddTo(ls, best.ls, xi)
			ss := best.ss + floats.Dot(xi, xi)
			radius := math.Sqrt(math.Max(0, ss/nn-floats.Dot(ls, ls)/(nn*nn)))
			if radius <= m.Threshold {
				best.n, best.ls, best.ss = nn, ls, ss
				continue
			}
		}
		feats = append(feats, &feature{n: 1, ls: append([]float64(nil), xi...), ss: floats.Dot(xi, xi)})
	}

	m.Centroids = mat.NewDense(len(feats), c, nil)
	sizes := make([]float64, len(feats))
	for i, f := range feats {
		floats.ScaleTo(m.Centroids.RawRowView(i), 1/f.n, f.ls)
		sizes[i] = f.n
	}
	m.Labels = allRows(len(feats))
	if m.NClusters > 0 && len(feats) > m.NClusters {
		m.Labels = cutMerges(len(feats), m.NClusters, linkageMerges(m.Centroids, sizes, "ward"))
	}
	return m.PredictCluster(x), nil
}

func (m *Birch) PredictCluster(x *mat.Dense) []int {
	sub := nearestCenter(x, m.Centroids)
	out := make([]int, len(sub))
	for i, s := range sub {
		out[i] = m.Labels[s]
	}
	return out
}

// GaussianMixture fits full-covariance components with expectation maximisation
type GaussianMixture struct {
	NComponents int
	MaxIter     int
	Tol         float64
	RegCovar    float64
	Seed        int
	Weights     []float64
	Means       *mat.Dense
	// Covariances holds one row-major c×c matrix per component
	Covariances [][]float64
}

func (m *GaussianMixture) FitPredict(x *mat.Dense) ([]int, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, errNoSamples
	}
	k := m.NComponents
	if k > n {
		return nil, fmt.Errorf("n_samples=%d should be >= n_components=%d", n, k)
	}
	km := &KMeans{NClusters: k, NInit: 1, MaxIter: 100, Tol: 1e-4, Seed: m.Seed}
	labels, err := km.FitPredict(x)
	if err != nil {
		return nil, err
	}
	resp := mat.NewDense(n, k, nil)
	for i, l := range labels {
		resp.Set(i, l, 1)
	}
	prev := math.Inf(-1)
	for it := 0; it < max(1, m.MaxIter); it++ {
		m.maximise(x, resp)
		ll, err := m.expect(x, resp)
		if err != nil {
			return nil, err
		}
		if math.Abs(ll-prev) < m.Tol {
			break
		}
		prev = ll
	}
	return argmaxRows(resp), nil
}

func (m *GaussianMixture) maximise(x, resp *mat.Dense) {
	n, c := x.Dims()
	_, k := resp.Dims()
	m.Weights = make([]float64, k)
	m.Means = mat.NewDense(k, c, nil)
	m.Covariances = make([][]float64, k)
	for j := 0; j < k; j++ {
		w := mat.Col(nil, j, resp)
		nk := floats.Sum(w) + 10*math.SmallestNonzeroFloat64
		m.Weights[j] = nk / float64(n)
		mean := m.Means.RawRowView(j)
		for i := 0; i < n; i++ {
			floats.AddScaled(mean, w[i]/nk, row(x, i))
		}
		cov := mat.NewSymDense(c, nil)
		diff := make([]float64, c)
		for i := 0; i < n; i++ {
			if w[i] == 0 {
				continue
			}
			floats.SubTo(diff, row(x, i), mean)
			cov.SymRankOne(cov, w[i]/nk, mat.NewVecDense(c, diff))
		}
		for d := 0; d < c; d++ {
			cov.SetSym(d, d, cov.At(d, d)+m.RegCovar)
		}
		m.Covariances[j] = make([]float64, c*c)
		for a := 0; a < c; a++ {
			for b := 0; b < c; b++ {
				m.Covariances[j][a*c+b] = cov.At(a, b)
			}
		}
	}
}

// logDensities returns log(weight_j · N(x_i | μ_j, Σ_j)) for every row and component
func (m *GaussianMixture) logDensities(x *mat.Dense) (*mat.Dense, error) {
	n, c := x.Dims()
	k := len(m.Weights)
	out := mat.NewDense(n, k, nil)
	diff := mat.NewVecDense(c, nil)
	sol := mat.NewVecDense(c, nil)
	for j := 0; j < k; j++ {
		var chol mat.Cholesky
		if !chol.Factorize(mat.NewSymDense(c, append([]float64(nil), m.Covariances[j]...))) {
			return nil, fmt.Errorf("covariance of component %d is not positive definite; increase reg_covar", j)
		}
		logDet := chol.LogDet()
		for i := 0; i < n; i++ {
			floats.SubTo(diff.RawVector().Data, row(x, i), m.Means.RawRowView(j))
			if err := chol.SolveVecTo(sol, diff); err != nil {
				return nil, err
			}
			maha := mat.Dot(diff, sol)
			out.Set(i, j, math.Log(m.Weights[j])-0.5*(float64(c)*math.Log(2*math.Pi)+logDet+maha))
		}
	}
	return out, nil
}

// expect fills resp with posterior responsibilities and returns the mean log likelihood
func (m *GaussianMixture) expect(x, resp *mat.Dense) (float64, error) {
	logp, err := m.logDensities(x)
	if err != nil {
		return 0, err
	}
	n, _ := x.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		lp := logp.RawRowView(i)
		norm := floats.LogSumExp(lp)
		total += norm
		r := resp.RawRowView(i)
		for j := range r {
			r[j] = math.Exp(lp[j] - norm)
		}
	}
	return total / float64(n), nil
}

func (m *GaussianMixture) PredictCluster(x *mat.Dense) []int {
	logp, err := m.logDensities(x)
	if err != nil {
		return nearestCenter(x, m.Means)
	}
	return argmaxRows(logp)
}
