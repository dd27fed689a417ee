package estimators

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Node is one node of a binary decision tree; leaves have Feature -1
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64
}

// Tree is a fitted CART tree. Leaf values hold class probabilities for
// classification and a single mean for regression.
type Tree struct {
	Nodes       []Node
	Importances []float64
}

// TreeConfig holds the growth limits shared by every tree based model
type TreeConfig struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Criterion       string
	RandomSplits    bool
}

func treeConfigFrom(p Params, criterion string) TreeConfig {
	return TreeConfig{
		MaxDepth:        p.OptionalInt("max_depth"),
		MinSamplesSplit: max(2, p.Int("min_samples_split", 2)),
		MinSamplesLeaf:  max(1, p.Int("min_samples_leaf", 1)),
		Criterion:       p.String("criterion", criterion),
	}
}

// leaf returns the leaf value reached by one row
func (t *Tree) leaf(x []float64) []float64 {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		node := t.Nodes[n]
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return t.Nodes[n].Value
}

// leafIndex returns the node index of the leaf reached by one row
func (t *Tree) leafIndex(x []float64) int {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		node := t.Nodes[n]
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return n
}

type treeBuilder struct {
	x       *mat.Dense
	classes []int
	targets []float64
	weights []float64
	k       int
	cfg     TreeConfig
	rng     *rand.Rand
	tree    *Tree
	leaves  map[int][]int
}

// growTree fits a tree. classes is used when k > 0, targets otherwise.
func growTree(x *mat.Dense, classes []int, targets []float64, weights []float64, k int, idx []int, cfg TreeConfig, rng *rand.Rand) (*Tree, map[int][]int, error) {
	if len(idx) == 0 {
		return nil, nil, errors.New("cannot grow a tree on zero samples")
	}
	_, nf := x.Dims()
	if cfg.MaxFeatures <= 0 || cfg.MaxFeatures > nf {
		cfg.MaxFeatures = nf
	}
	if weights == nil {
		weights = make([]float64, x.RawMatrix().Rows)
		for i := range weights {
			weights[i] = 1
		}
	}
	b := &treeBuilder{
		x: x, classes: classes, targets: targets, weights: weights, k: k,
		cfg: cfg, rng: rng,
		tree:   &Tree{Importances: make([]float64, nf)},
		leaves: make(map[int][]int),
	}
	b.build(append([]int(nil), idx...), 0)

	total := floats.Sum(b.tree.Importances)
	if total > 0 {
		floats.Scale(1/total, b.tree.Importances)
	}
	return b.tree, b.leaves, nil
}

type nodeStats struct {
	weight float64
	counts []float64
	sum    float64
	sumSq  float64
}

func (b *treeBuilder) stats(idx []int) nodeStats {
	s := nodeStats{}
	if b.k > 0 {
		s.counts = make([]float64, b.k)
	}
	for _, i := range idx {
		s.add(b, i, 1)
	}
	return s
}

func (s *nodeStats) add(b *treeBuilder, i int, sign float64) {
	w := b.weights[i] * sign
	s.weight += w
	if b.k > 0 {
		s.counts[b.classes[i]] += w
		return
	}
	y := b.targets[i]
	s.sum += w * y
	s.sumSq += w * y * y
}

func (b *treeBuilder) impurity(s nodeStats) float64 {
	if s.weight <= 0 {
		return 0
	}
	if b.k == 0 {
		mean := s.sum / s.weight
		return math.Max(s.sumSq/s.weight-mean*mean, 0)
	}
	imp := 0.0
	if b.cfg.Criterion == "entropy" || b.cfg.Criterion == "log_loss" {
		for _, c := range s.counts {
			if c > 0 {
				p := c / s.weight
				imp -= p * math.Log2(p)
			}
		}
		return imp
	}
	imp = 1
	for _, c := range s.counts {
		p := c / s.weight
		imp -= p * p
	}
	return imp
}

func (b *treeBuilder) value(s nodeStats) []float64 {
	if b.k == 0 {
		if s.weight == 0 {
			return []float64{0}
		}
		return []float64{s.sum / s.weight}
	}
	v := make([]float64, b.k)
	if s.weight > 0 {
		for c, n := range s.counts {
			v[c] = n / s.weight
		}
	}
	return v
}

func (b *treeBuilder) build(idx []int, depth int) int {
	st := b.stats(idx)
	imp := b.impurity(st)
	id := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1, Value: b.value(st)})

	if (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) ||
		len(idx) < b.cfg.MinSamplesSplit ||
		len(idx) < 2*b.cfg.MinSamplesLeaf ||
		imp <= 1e-12 {
		b.leaves[id] = idx
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(idx, st, imp)
	if !ok {
		b.leaves[id] = idx
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.tree.Importances[feature] += gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	node := &b.tree.Nodes[id]
	node.Feature, node.Threshold, node.Left, node.Right = feature, threshold, l, r
	return id
}

func (b *treeBuilder) bestSplit(idx []int, parent nodeStats, parentImp float64) (int, float64, float64, bool) {
	_, nf := b.x.Dims()
	features := b.rng.Perm(nf)[:b.cfg.MaxFeatures]

	bestGain, bestFeature, bestThreshold := 1e-12, -1, 0.0
	values := make([]float64, len(idx))
	order := make([]int, len(idx))

	for _, f := range features {
		for j, i := range idx {
			values[j] = b.x.At(i, f)
		}
		lo, hi := floats.Min(values), floats.Max(values)
		if lo == hi {
			continue
		}

		if b.cfg.RandomSplits {
			thr := lo + b.rng.Float64()*(hi-lo)
			left := b.emptyStats()
			n := 0
			for j, i := range idx {
				if values[j] <= thr {
					left.add(b, i, 1)
					n++
				}
			}
			if n < b.cfg.MinSamplesLeaf || len(idx)-n < b.cfg.MinSamplesLeaf {
				continue
			}
			if g := b.gain(parent, parentImp, left); g > bestGain {
				bestGain, bestFeature, bestThreshold = g, f, thr
			}
			continue
		}

		for j := range order {
			order[j] = j
		}
		sort.Slice(order, func(a, c int) bool { return values[order[a]] < values[order[c]] })
		left := b.emptyStats()
		for pos := 0; pos < len(order)-1; pos++ {
			left.add(b, idx[order[pos]], 1)
			nLeft := pos + 1
			if nLeft < b.cfg.MinSamplesLeaf || len(order)-nLeft < b.cfg.MinSamplesLeaf {
				continue
			}
			v, next := values[order[pos]], values[order[pos+1]]
			if v == next {
				continue
			}
			if g := b.gain(parent, parentImp, left); g > bestGain {
				bestGain, bestFeature, bestThreshold = g, f, (v+next)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain, bestFeature >= 0
}

func (b *treeBuilder) emptyStats() nodeStats {
	s := nodeStats{}
	if b.k > 0 {
		s.counts = make([]float64, b.k)
	}
	return s
}

func (b *treeBuilder) gain(parent nodeStats, parentImp float64, left nodeStats) float64 {
	right := nodeStats{
		weight: parent.weight - left.weight,
		sum:    parent.sum - left.sum,
		sumSq:  parent.sumSq - left.sumSq,
	}
	if b.k > 0 {
		right.counts = make([]float64, b.k)
		for c := range right.counts {
			right.counts[c] = parent.counts[c] - left.counts[c]
		}
	}
	return parent.weight*parentImp - left.weight*b.impurity(left) - right.weight*b.impurity(right)
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// DecisionTreeClassifier is a single CART classification tree
type DecisionTreeClassifier struct {
	Config   TreeConfig
	Seed     int
	NClasses int
	Tree     *Tree
}

func (m *DecisionTreeClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	return m.fitWeighted(x, y, nil, nClasses)
}

func (m *DecisionTreeClassifier) fitWeighted(x *mat.Dense, y []int, w []float64, nClasses int) error {
	r, _ := x.Dims()
	tree, _, err := growTree(x, y, nil, w, nClasses, allRows(r), m.Config, newRand(m.Seed))
	if err != nil {
		return err
	}
	m.Tree, m.NClasses = tree, nClasses
	return nil
}

func (m *DecisionTreeClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, m.NClasses, nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, m.Tree.leaf(row(x, i)))
	}
	return out
}

func (m *DecisionTreeClassifier) Predict(x *mat.Dense) []int {
	return argmaxRows(m.PredictProba(x))
}

func (m *DecisionTreeClassifier) FeatureImportances() []float64 { return m.Tree.Importances }

// DecisionTreeRegressor is a single CART regression tree
type DecisionTreeRegressor struct {
	Config TreeConfig
	Seed   int
	Tree   *Tree
}

func (m *DecisionTreeRegressor) Fit(x *mat.Dense, y []float64) error {
	return m.fitWeighted(x, y, nil)
}

func (m *DecisionTreeRegressor) fitWeighted(x *mat.Dense, y []float64, w []float64) error {
	r, _ := x.Dims()
	tree, _, err := growTree(x, nil, y, w, 0, allRows(r), m.Config, newRand(m.Seed))
	if err != nil {
		return err
	}
	m.Tree = tree
	return nil
}

func (m *DecisionTreeRegressor) Predict(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = m.Tree.leaf(row(x, i))[0]
	}
	return out
}

func (m *DecisionTreeRegressor) FeatureImportances() []float64 { return m.Tree.Importances }
