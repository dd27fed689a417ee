package estimators

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GradientBoosting fits additive trees to loss gradients with Newton leaf values.
// It backs the gradient boosting, XGB, LGBM and CatBoost model types, which only
// differ in parameter names and defaults.
type GradientBoosting struct {
	NEstimators  int
	LearningRate float64
	Subsample    float64
	Lambda       float64
	Config       TreeConfig
	Seed         int
	NClasses     int
	Init         []float64
	Stages       [][]*Tree
	Importances  []float64
}

func (g *GradientBoosting) outputs() int {
	if g.NClasses > 2 {
		return g.NClasses
	}
	return 1
}

// fitBoosting fits raw scores. classes is nil for regression.
func (g *GradientBoosting) fitBoosting(x *mat.Dense, classes []int, targets []float64) error {
	r, c := x.Dims()
	if r == 0 {
		return errors.New("cannot fit on zero samples")
	}
	rng := newRand(g.Seed)
	k := g.outputs()
	g.Init = make([]float64, k)
	switch {
	case classes == nil:
		g.Init[0] = floats.Sum(targets) / float64(r)
	case g.NClasses <= 2:
		pos := 0.0
		for _, y := range classes {
			if y == 1 {
				pos++
			}
		}
		p := math.Min(math.Max(pos/float64(r), 1e-6), 1-1e-6)
		g.Init[0] = math.Log(p / (1 - p))
	default:
		counts := countClasses(classes, k)
		for j := range counts {
			g.Init[j] = math.Log(math.Max(counts[j]/float64(r), 1e-6))
		}
	}

	raw := make([][]float64, r)
	for i := range raw {
		raw[i] = append([]float64(nil), g.Init...)
	}

	cfg := g.Config
	cfg.MaxFeatures = c
	g.Importances = make([]float64, c)
	g.Stages = make([][]*Tree, 0, g.NEstimators)
	grad := make([]float64, r)
	hess := make([]float64, r)

	for stage := 0; stage < g.NEstimators; stage++ {
		idx := allRows(r)
		if g.Subsample > 0 && g.Subsample < 1 {
			perm := rng.Perm(r)
			idx = perm[:max(1, int(g.Subsample*float64(r)))]
		}

		probs := g.probabilities(raw, classes)
		trees := make([]*Tree, k)
		for out := 0; out < k; out++ {
			for i := 0; i < r; i++ {
				switch {
				case classes == nil:
					grad[i], hess[i] = targets[i]-raw[i][0], 1
				case k == 1:
					y := 0.0
					if classes[i] == 1 {
						y = 1
					}
					p := probs[i][0]
					grad[i], hess[i] = y-p, p*(1-p)
				default:
					y := 0.0
					if classes[i] == out {
						y = 1
					}
					p := probs[i][out]
					grad[i], hess[i] = y-p, p*(1-p)
				}
			}

			tree, leaves, err := growTree(x, nil, grad, nil, 0, idx, cfg, newRand(rng.IntN(1<<30)))
			if err != nil {
				return err
			}
			scale := 1.0
			if classes != nil && k > 1 {
				scale = float64(k-1) / float64(k)
			}
			for node, members := range leaves {
				num, den := 0.0, g.Lambda
				for _, i := range members {
					num += grad[i]
					den += hess[i]
				}
				v := 0.0
				if den > 1e-12 {
					v = scale * num / den
				}
				tree.Nodes[node].Value = []float64{v}
			}
			for i := 0; i < r; i++ {
				raw[i][out] += g.LearningRate * tree.leaf(row(x, i))[0]
			}
			floats.Add(g.Importances, tree.Importances)
			trees[out] = tree
		}
		g.Stages = append(g.Stages, trees)
	}
	if s := floats.Sum(g.Importances); s > 0 {
		floats.Scale(1/s, g.Importances)
	}
	return nil
}

func (g *GradientBoosting) probabilities(raw [][]float64, classes []int) [][]float64 {
	if classes == nil {
		return nil
	}
	out := make([][]float64, len(raw))
	for i, v := range raw {
		if len(v) == 1 {
			out[i] = []float64{sigmoid(v[0])}
			continue
		}
		p := append([]float64(nil), v...)
		softmaxInPlace(p)
		out[i] = p
	}
	return out
}

func (g *GradientBoosting) rawScores(x *mat.Dense) [][]float64 {
	r, _ := x.Dims()
	raw := make([][]float64, r)
	for i := range raw {
		raw[i] = append([]float64(nil), g.Init...)
		for _, stage := range g.Stages {
			for out, t := range stage {
				raw[i][out] += g.LearningRate * t.leaf(row(x, i))[0]
			}
		}
	}
	return raw
}

// GradientBoostingClassifier uses binomial or multinomial deviance
type GradientBoostingClassifier struct {
	GradientBoosting
}

func (m *GradientBoostingClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = nClasses
	return m.fitBoosting(x, y, nil)
}

func (m *GradientBoostingClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	raw := m.rawScores(x)
	out := mat.NewDense(len(raw), max(m.NClasses, 2), nil)
	for i, v := range raw {
		if len(v) == 1 {
			p := sigmoid(v[0])
			out.Set(i, 0, 1-p)
			out.Set(i, 1, p)
			continue
		}
		p := append([]float64(nil), v...)
		softmaxInPlace(p)
		out.SetRow(i, p)
	}
	return out
}

func (m *GradientBoostingClassifier) Predict(x *mat.Dense) []int {
	return argmaxRows(m.PredictProba(x))
}

func (m *GradientBoostingClassifier) FeatureImportances() []float64 { return m.Importances }

// GradientBoostingRegressor uses squared error
type GradientBoostingRegressor struct {
	GradientBoosting
}

func (m *GradientBoostingRegressor) Fit(x *mat.Dense, y []float64) error {
	m.NClasses = 0
	return m.fitBoosting(x, nil, y)
}

func (m *GradientBoostingRegressor) Predict(x *mat.Dense) []float64 {
	raw := m.rawScores(x)
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v[0]
	}
	return out
}

func (m *GradientBoostingRegressor) FeatureImportances() []float64 { return m.Importances }

func gradientBoostingFrom(p Params) GradientBoosting {
	cfg := treeConfigFrom(p, "squared_error")
	cfg.MaxDepth = p.Int("max_depth", 3)
	return GradientBoosting{
		NEstimators:  max(1, p.Int("n_estimators", 100)),
		LearningRate: p.Float("learning_rate", 0.1),
		Subsample:    p.Float("subsample", 1),
		Config:       cfg,
		Seed:         p.Int("random_state", 42),
	}
}

func xgbFrom(p Params) GradientBoosting {
	cfg := TreeConfig{
		MaxDepth:        p.Int("max_depth", 6),
		MinSamplesSplit: 2,
		MinSamplesLeaf:  max(1, p.Int("min_child_weight", 1)),
	}
	return GradientBoosting{
		NEstimators:  max(1, p.Int("n_estimators", 100)),
		LearningRate: p.Float("learning_rate", 0.3),
		Subsample:    p.Float("subsample", 1),
		Lambda:       p.Float("reg_lambda", 1),
		Config:       cfg,
		Seed:         p.Int("random_state", 42),
	}
}

func lgbmFrom(p Params) GradientBoosting {
	depth := p.Int("max_depth", -1)
	if depth < 0 {
		// leaf-wise growth is bounded by num_leaves; a balanced depth of log2 covers it
		depth = max(1, int(math.Ceil(math.Log2(float64(max(2, p.Int("num_leaves", 31)))))))
	}
	cfg := TreeConfig{
		MaxDepth:        depth,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  max(1, p.Int("min_child_samples", 20)),
	}
	return GradientBoosting{
		NEstimators:  max(1, p.Int("n_estimators", 100)),
		LearningRate: p.Float("learning_rate", 0.1),
		Subsample:    p.Float("subsample", 1),
		Lambda:       p.Float("reg_lambda", 0),
		Config:       cfg,
		Seed:         p.Int("random_state", 42),
	}
}

func catboostFrom(p Params) GradientBoosting {
	cfg := TreeConfig{
		MaxDepth:        p.Int("depth", 6),
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	return GradientBoosting{
		NEstimators:  max(1, p.Int("iterations", 1000)),
		LearningRate: p.Float("learning_rate", 0.03),
		Subsample:    p.Float("subsample", 1),
		Lambda:       p.Float("l2_leaf_reg", 3),
		Config:       cfg,
		Seed:         p.Int("random_seed", 42),
	}
}

// AdaBoostClassifier is multi-class SAMME over depth-one trees
type AdaBoostClassifier struct {
	NEstimators  int
	LearningRate float64
	Seed         int
	NClasses     int
	Learners     []*DecisionTreeClassifier
	Alphas       []float64
	Importances  []float64
}

func (m *AdaBoostClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	r, c := x.Dims()
	m.NClasses = nClasses
	m.Learners, m.Alphas = nil, nil
	m.Importances = make([]float64, c)
	w := make([]float64, r)
	for i := range w {
		w[i] = 1 / float64(r)
	}
	k := float64(max(nClasses, 2))
	rng := newRand(m.Seed)

	for t := 0; t < m.NEstimators; t++ {
		stump := &DecisionTreeClassifier{
			Config: TreeConfig{MaxDepth: 1, MinSamplesSplit: 2, MinSamplesLeaf: 1, Criterion: "gini"},
			Seed:   rng.IntN(1 << 30),
		}
		if err := stump.fitWeighted(x, y, w, nClasses); err != nil {
			return err
		}
		pred := stump.Predict(x)
		errW := 0.0
		for i, p := range pred {
			if p != y[i] {
				errW += w[i]
			}
		}
		errW /= floats.Sum(w)

		if errW <= 0 {
			m.Learners = append(m.Learners, stump)
			m.Alphas = append(m.Alphas, 1)
			floats.Add(m.Importances, stump.Tree.Importances)
			break
		}
		if errW >= 1-1/k {
			if len(m.Learners) == 0 {
				return errors.New("base learner is no better than random guessing")
			}
			break
		}

		alpha := m.LearningRate * (math.Log((1-errW)/errW) + math.Log(k-1))
		for i, p := range pred {
			if p != y[i] {
				w[i] *= math.Exp(alpha)
			}
		}
		floats.Scale(1/floats.Sum(w), w)

		m.Learners = append(m.Learners, stump)
		m.Alphas = append(m.Alphas, alpha)
		weighted := append([]float64(nil), stump.Tree.Importances...)
		floats.Scale(alpha, weighted)
		floats.Add(m.Importances, weighted)
	}
	if s := floats.Sum(m.Importances); s > 0 {
		floats.Scale(1/s, m.Importances)
	}
	return nil
}

func (m *AdaBoostClassifier) DecisionFunction(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, m.NClasses, nil)
	total := floats.Sum(m.Alphas)
	for t, learner := range m.Learners {
		for i, p := range learner.Predict(x) {
			out.Set(i, p, out.At(i, p)+m.Alphas[t]/total)
		}
	}
	return out
}

func (m *AdaBoostClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	out := m.DecisionFunction(x)
	r, _ := out.Dims()
	scale := 1 / float64(max(m.NClasses-1, 1))
	for i := 0; i < r; i++ {
		v := out.RawRowView(i)
		floats.Scale(scale, v)
		softmaxInPlace(v)
	}
	return out
}

func (m *AdaBoostClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.DecisionFunction(x)) }

func (m *AdaBoostClassifier) FeatureImportances() []float64 { return m.Importances }

// AdaBoostRegressor is AdaBoost.R2 with a weighted-median ensemble prediction
type AdaBoostRegressor struct {
	NEstimators  int
	LearningRate float64
	Loss         string
	Seed         int
	Learners     []*DecisionTreeRegressor
	Alphas       []float64
	Importances  []float64
}

func (m *AdaBoostRegressor) Fit(x *mat.Dense, y []float64) error {
	r, c := x.Dims()
	m.Learners, m.Alphas = nil, nil
	m.Importances = make([]float64, c)
	w := make([]float64, r)
	for i := range w {
		w[i] = 1 / float64(r)
	}
	rng := newRand(m.Seed)
	cdf := make([]float64, r)

	for t := 0; t < m.NEstimators; t++ {
		floats.CumSum(cdf, w)
		idx := make([]int, r)
		for i := range idx {
			u := rng.Float64() * cdf[r-1]
			idx[i] = min(sort.SearchFloat64s(cdf, u), r-1)
		}
		learner := &DecisionTreeRegressor{
			Config: TreeConfig{MaxDepth: 3, MinSamplesSplit: 2, MinSamplesLeaf: 1},
			Seed:   rng.IntN(1 << 30),
		}
		tree, _, err := growTree(x, nil, y, nil, 0, idx, learner.Config, newRand(learner.Seed))
		if err != nil {
			return err
		}
		learner.Tree = tree

		pred := learner.Predict(x)
		losses := make([]float64, r)
		maxLoss := 0.0
		for i := range losses {
			losses[i] = math.Abs(pred[i] - y[i])
			maxLoss = math.Max(maxLoss, losses[i])
		}
		if maxLoss == 0 {
			m.Learners = append(m.Learners, learner)
			m.Alphas = append(m.Alphas, 1)
			break
		}
		avg := 0.0
		for i := range losses {
			l := losses[i] / maxLoss
			switch m.Loss {
			case "square":
				l *= l
			case "exponential":
				l = 1 - math.Exp(-l)
			}
			losses[i] = l
			avg += w[i] * l
		}
		if avg >= 0.5 {
			if len(m.Learners) == 0 {
				m.Learners = append(m.Learners, learner)
				m.Alphas = append(m.Alphas, 1)
			}
			break
		}
		beta := avg / (1 - avg)
		alpha := m.LearningRate * math.Log(1/beta)
		for i := range w {
			w[i] *= math.Pow(beta, (1-losses[i])*m.LearningRate)
		}
		floats.Scale(1/floats.Sum(w), w)

		m.Learners = append(m.Learners, learner)
		m.Alphas = append(m.Alphas, alpha)
		weighted := append([]float64(nil), tree.Importances...)
		floats.Scale(alpha, weighted)
		floats.Add(m.Importances, weighted)
	}
	if s := floats.Sum(m.Importances); s > 0 {
		floats.Scale(1/s, m.Importances)
	}
	return nil
}

func (m *AdaBoostRegressor) Predict(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	preds := make([][]float64, len(m.Learners))
	for t, l := range m.Learners {
		preds[t] = l.Predict(x)
	}
	total := floats.Sum(m.Alphas)
	out := make([]float64, r)
	order := make([]int, len(m.Learners))
	for i := 0; i < r; i++ {
		for t := range order {
			order[t] = t
		}
		sort.Slice(order, func(a, b int) bool { return preds[order[a]][i] < preds[order[b]][i] })
		acc := 0.0
		for _, t := range order {
			acc += m.Alphas[t]
			if acc >= total/2 {
				out[i] = preds[t][i]
				break
			}
		}
	}
	return out
}

func (m *AdaBoostRegressor) FeatureImportances() []float64 { return m.Importances }
