package estimators

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Forest is an averaged ensemble of trees. It backs random forests, extra trees
// and bagging, which differ in bootstrapping and split randomisation.
type Forest struct {
	NEstimators int
	Config      TreeConfig
	MaxFeatures string
	FeatureFrac float64
	Bootstrap   bool
	MaxSamples  float64
	Seed        int
	Trees       []*Tree
	Importances []float64
}

func forestFrom(p Params, criterion string, randomSplits, bootstrap bool, maxFeatures string) Forest {
	cfg := treeConfigFrom(p, criterion)
	cfg.RandomSplits = randomSplits
	return Forest{
		NEstimators: max(1, p.Int("n_estimators", 100)),
		Config:      cfg,
		MaxFeatures: p.String("max_features", maxFeatures),
		FeatureFrac: p.Float("max_features_fraction", 1),
		Bootstrap:   p.Bool("bootstrap", bootstrap),
		MaxSamples:  p.Float("max_samples", 1),
		Seed:        p.Int("random_state", 42),
	}
}

func (f *Forest) fit(x *mat.Dense, classes []int, targets []float64, k int) error {
	r, c := x.Dims()
	rng := newRand(f.Seed)
	cfg := f.Config
	cfg.MaxFeatures = maxFeatures(f.MaxFeatures, f.FeatureFrac, c)

	size := r
	if f.MaxSamples > 0 && f.MaxSamples < 1 {
		size = max(1, int(f.MaxSamples*float64(r)))
	}

	f.Trees = make([]*Tree, 0, f.NEstimators)
	f.Importances = make([]float64, c)
	for t := 0; t < f.NEstimators; t++ {
		idx := allRows(r)
		if f.Bootstrap {
			idx = bootstrap(rng, r, size)
		}
		tree, _, err := growTree(x, classes, targets, nil, k, idx, cfg, newRand(rng.IntN(1<<30)))
		if err != nil {
			return err
		}
		f.Trees = append(f.Trees, tree)
		floats.Add(f.Importances, tree.Importances)
	}
	floats.Scale(1/float64(len(f.Trees)), f.Importances)
	return nil
}

func (f *Forest) average(x *mat.Dense, width int) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, width, nil)
	for i := 0; i < r; i++ {
		acc := out.RawRowView(i)
		for _, t := range f.Trees {
			floats.Add(acc, t.leaf(row(x, i)))
		}
		floats.Scale(1/float64(len(f.Trees)), acc)
	}
	return out
}

// ForestClassifier averages class distributions over trees
type ForestClassifier struct {
	Forest
	NClasses int
}

func (m *ForestClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = nClasses
	return m.fit(x, y, nil, nClasses)
}

func (m *ForestClassifier) PredictProba(x *mat.Dense) *mat.Dense { return m.average(x, m.NClasses) }

func (m *ForestClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.PredictProba(x)) }

func (m *ForestClassifier) FeatureImportances() []float64 { return m.Importances }

// ForestRegressor averages leaf means over trees
type ForestRegressor struct {
	Forest
}

func (m *ForestRegressor) Fit(x *mat.Dense, y []float64) error { return m.fit(x, nil, y, 0) }

func (m *ForestRegressor) Predict(x *mat.Dense) []float64 {
	return mat.Col(nil, 0, m.average(x, 1))
}

func (m *ForestRegressor) FeatureImportances() []float64 { return m.Importances }

func newRandomForestClassifier(p Params) any {
	return &ForestClassifier{Forest: forestFrom(p, "gini", false, true, "sqrt")}
}

func newExtraTreesClassifier(p Params) any {
	return &ForestClassifier{Forest: forestFrom(p, "gini", true, false, "sqrt")}
}

func newBaggingClassifier(p Params) any {
	f := forestFrom(p, "gini", false, true, "all")
	f.NEstimators = max(1, p.Int("n_estimators", 10))
	f.FeatureFrac = p.Float("max_features", 1)
	return &ForestClassifier{Forest: f}
}

func newRandomForestRegressor(p Params) any {
	return &ForestRegressor{Forest: forestFrom(p, "squared_error", false, true, "all")}
}

func newExtraTreesRegressor(p Params) any {
	return &ForestRegressor{Forest: forestFrom(p, "squared_error", true, false, "all")}
}

func newBaggingRegressor(p Params) any {
	f := forestFrom(p, "squared_error", false, true, "all")
	f.NEstimators = max(1, p.Int("n_estimators", 10))
	f.FeatureFrac = p.Float("max_features", 1)
	return &ForestRegressor{Forest: f}
}
