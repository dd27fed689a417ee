package estimators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aegisshield/ml-workbench/internal/models"
)

// blobs draws per rows around each centre
func blobs(seed int, centers [][]float64, per int, std float64) (*mat.Dense, []int) {
	rng := newRand(seed)
	d := len(centers[0])
	x := mat.NewDense(len(centers)*per, d, nil)
	y := make([]int, 0, len(centers)*per)
	for c, center := range centers {
		for i := 0; i < per; i++ {
			r := c*per + i
			for j := 0; j < d; j++ {
				x.Set(r, j, center[j]+std*rng.NormFloat64())
			}
			y = append(y, c)
		}
	}
	return x, y
}

func linearTarget(seed, n int) (*mat.Dense, []float64) {
	rng := newRand(seed)
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b := rng.Float64()*10, rng.Float64()*10
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y[i] = 3*a - 2*b + 0.1*rng.NormFloat64()
	}
	return x, y
}

func accuracy(pred, y []int) float64 {
	hit := 0
	for i := range y {
		if pred[i] == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y))
}

func r2(pred, y []float64) float64 {
	mean := stat.Mean(y, nil)
	var ssRes, ssTot float64
	for i := range y {
		ssRes += (y[i] - pred[i]) * (y[i] - pred[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	return 1 - ssRes/ssTot
}

// pure reports whether every true group maps to a single predicted label
func pure(pred, y []int) bool {
	seen := make(map[int]int)
	for i, g := range y {
		if l, ok := seen[g]; ok && l != pred[i] {
			return false
		}
		seen[g] = pred[i]
	}
	return true
}

func TestClassifiersSeparateBlobs(t *testing.T) {
	x, y := blobs(1, [][]float64{{0, 0}, {5, 5}}, 30, 0.5)

	for _, name := range Types(models.TaskClassification) {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskClassification, name, nil)
			require.NoError(t, err)
			clf := est.(Classifier)
			require.NoError(t, clf.Fit(x, y, 2))

			pred := clf.Predict(x)
			assert.Len(t, pred, len(y))
			assert.GreaterOrEqual(t, accuracy(pred, y), 0.85)

			if pc, ok := est.(ProbaClassifier); ok && HasProba(est) {
				proba := pc.PredictProba(x)
				r, c := proba.Dims()
				assert.Equal(t, len(y), r)
				assert.Equal(t, 2, c)
				for i := 0; i < r; i++ {
					assert.InDelta(t, 1, mat.Sum(proba.RowView(i)), 1e-6)
				}
			}
			if df, ok := est.(DecisionFunctioner); ok {
				_, c := df.DecisionFunction(x).Dims()
				assert.Equal(t, 2, c)
			}
		})
	}
}

func TestMulticlass(t *testing.T) {
	x, y := blobs(2, [][]float64{{0, 0}, {6, 0}, {0, 6}}, 20, 0.5)

	for _, name := range []string{"logistic_regression", "random_forest_classifier", "gradient_boosting_classifier", "svc", "sgd_classifier", "k_neighbors_classifier"} {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskClassification, name, nil)
			require.NoError(t, err)
			clf := est.(Classifier)
			require.NoError(t, clf.Fit(x, y, 3))
			assert.GreaterOrEqual(t, accuracy(clf.Predict(x), y), 0.9)
		})
	}
}

func TestRegressorsFitLinearTarget(t *testing.T) {
	x, y := linearTarget(3, 80)
	strong := map[string]bool{
		"linear_regression": true, "ridge": true, "sgd_regressor": true,
		"random_forest_regressor": true, "gradient_boosting_regressor": true, "decision_tree_regressor": true,
		"xgb_regressor": true, "k_neighbors_regressor": true,
	}

	for _, name := range Types(models.TaskRegression) {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskRegression, name, nil)
			require.NoError(t, err)
			reg := est.(Regressor)
			require.NoError(t, reg.Fit(x, y))

			pred := reg.Predict(x)
			require.Len(t, pred, len(y))
			for _, v := range pred {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
			if strong[name] {
				assert.Greater(t, r2(pred, y), 0.9)
			}
		})
	}

	t.Run("ordinary least squares recovers weights", func(t *testing.T) {
		m := &LinearRegression{FitIntercept: true}
		require.NoError(t, m.Fit(x, y))
		assert.InDelta(t, 3, m.Weights[0], 0.05)
		assert.InDelta(t, -2, m.Weights[1], 0.05)
	})
}

func TestStackingOnlyTypes(t *testing.T) {
	assert.NotContains(t, Types(models.TaskRegression), "ridge_cv")
	assert.False(t, Supports(models.TaskRegression, "ridge_cv"))

	est, err := New(models.TaskRegression, "ridge_cv", nil)
	require.NoError(t, err)
	assert.IsType(t, &RidgeCV{}, est)
}

func TestClusterers(t *testing.T) {
	x, y := blobs(4, [][]float64{{0, 0}, {10, 10}, {-10, 10}}, 20, 0.3)
	params := map[string]map[string]any{
		"kmeans":                   {"n_clusters": 3.0},
		"mini_batch_kmeans":        {"n_clusters": 3.0},
		"agglomerative_clustering": {"n_clusters": 3.0},
		"spectral_clustering":      {"n_clusters": 3.0},
		"birch":                    {"n_clusters": 3.0},
		"gaussian_mixture":         {"n_components": 3.0},
		"dbscan":                   {"eps": 2.0},
		"mean_shift":               {"bandwidth": 3.0},
	}
	exact := map[string]bool{
		"kmeans": true, "agglomerative_clustering": true, "spectral_clustering": true,
		"gaussian_mixture": true, "dbscan": true, "mean_shift": true, "birch": true,
	}

	for _, name := range Types(models.TaskClustering) {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskClustering, name, params[name])
			require.NoError(t, err)
			labels, err := est.(Clusterer).FitPredict(x)
			require.NoError(t, err)
			require.Len(t, labels, len(y))
			if exact[name] {
				assert.True(t, pure(labels, y), "labels %v", labels)
				distinct := make(map[int]bool)
				for _, l := range labels {
					distinct[l] = true
				}
				assert.Len(t, distinct, 3)
			}
			if cp, ok := est.(ClusterPredictor); ok && exact[name] {
				assert.Equal(t, labels, cp.PredictCluster(x))
			}
		})
	}

	t.Run("more clusters than samples", func(t *testing.T) {
		small := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
		_, err := (&KMeans{NClusters: 3, NInit: 1, MaxIter: 10}).FitPredict(small)
		assert.Error(t, err)
	})
}

func TestOutlierDetectors(t *testing.T) {
	x, _ := blobs(5, [][]float64{{0, 0}}, 60, 1)
	far := [][]float64{{25, 25}, {-25, 25}, {25, -25}}
	data := mat.NewDense(63, 2, nil)
	data.Copy(x)
	for i, p := range far {
		data.SetRow(60+i, p)
	}
	flagsFar := map[string]bool{"isolation_forest": true, "elliptic_envelope": true, "local_outlier_factor": true}

	for _, name := range Types(models.TaskOutlierDetection) {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskOutlierDetection, name, nil)
			require.NoError(t, err)
			labels, err := est.(OutlierDetector).FitPredict(data)
			require.NoError(t, err)
			require.Len(t, labels, 63)
			for _, l := range labels {
				assert.Contains(t, []int{1, -1}, l)
			}
			if flagsFar[name] {
				assert.Equal(t, []int{-1, -1, -1}, labels[60:])
			}
			if op, ok := est.(OutlierPredictor); ok {
				assert.Len(t, op.PredictOutlier(data), 63)
			}
		})
	}
}

func TestReducers(t *testing.T) {
	rng := newRand(6)
	x := mat.NewDense(40, 3, nil)
	y := make([]int, 40)
	for i := 0; i < 40; i++ {
		tval := rng.Float64() * 10
		x.Set(i, 0, tval)
		x.Set(i, 1, 2*tval+0.01*rng.NormFloat64())
		x.Set(i, 2, 1+0.01*rng.Float64())
		if tval > 5 {
			y[i] = 1
		}
	}
	params := map[string]map[string]any{
		"pca":           {"n_components": 2.0},
		"truncated_svd": {"n_components": 2.0},
		"nmf":           {"n_components": 2.0},
		"isomap":        {"n_components": 2.0},
		"tsne":          {"n_components": 2.0, "perplexity": 5.0, "max_iter": 300.0},
	}

	for _, name := range Types(models.TaskDimensionalityReduction) {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskDimensionalityReduction, name, params[name])
			require.NoError(t, err)
			var target []int
			if name == "lda" {
				target = y
			}
			out, err := est.(Reducer).FitTransform(x, target)
			require.NoError(t, err)
			r, c := out.Dims()
			assert.Equal(t, 40, r)
			if name == "lda" {
				assert.Equal(t, 1, c)
			} else {
				assert.Equal(t, 2, c)
			}
			if tr, ok := est.(Transformer); ok && (name == "pca" || name == "truncated_svd" || name == "lda") {
				again := tr.Transform(x)
				assert.InDelta(t, out.At(0, 0), again.At(0, 0), 1e-6)
			}
		})
	}

	t.Run("pca keeps the dominant direction first", func(t *testing.T) {
		pca := &PCA{NComponents: 2}
		_, err := pca.FitTransform(x, nil)
		require.NoError(t, err)
		assert.Greater(t, pca.ExplainedVarianceRatio()[0], 0.99)
	})

	t.Run("lda without target", func(t *testing.T) {
		_, err := (&LinearDiscriminantAnalysis{}).FitTransform(x, nil)
		assert.Error(t, err)
	})

	t.Run("nmf rejects negative values", func(t *testing.T) {
		neg := mat.NewDense(2, 2, []float64{-1, 0, 1, 1})
		_, err := (&NMF{NComponents: 1, MaxIter: 10}).FitTransform(neg, nil)
		assert.Error(t, err)
	})
}

func TestCompositions(t *testing.T) {
	x, y := blobs(7, [][]float64{{0, 0}, {5, 5}}, 30, 0.5)
	classes := []string{"no", "yes"}
	fit := func(name string) Member {
		est, err := New(models.TaskClassification, name, nil)
		require.NoError(t, err)
		require.NoError(t, est.(Classifier).Fit(x, y, 2))
		return Member{Model: est, Classes: classes}
	}
	members := []Member{fit("logistic_regression"), fit("random_forest_classifier"), fit("svc")}

	t.Run("hard voting accepts members without probabilities", func(t *testing.T) {
		est, err := NewComposition(VotingClassifierType, members, map[string]any{"voting": "hard"}, classes)
		require.NoError(t, err)
		clf := est.(Classifier)
		require.NoError(t, clf.Fit(x, y, 2))
		assert.GreaterOrEqual(t, accuracy(clf.Predict(x), y), 0.9)
	})

	t.Run("soft voting requires probabilities", func(t *testing.T) {
		_, err := NewComposition(VotingClassifierType, members, map[string]any{"voting": "soft"}, classes)
		assert.Error(t, err)

		est, err := NewComposition(VotingClassifierType, members[:2], map[string]any{"voting": "soft"}, classes)
		require.NoError(t, err)
		assert.True(t, HasProba(est))
	})

	t.Run("stacking refits the final estimator", func(t *testing.T) {
		est, err := NewComposition(StackingClassifierType, members, map[string]any{"final_estimator": "logistic_regression"}, classes)
		require.NoError(t, err)
		clf := est.(Classifier)
		require.NoError(t, clf.Fit(x, y, 2))
		assert.GreaterOrEqual(t, accuracy(clf.Predict(x), y), 0.9)
	})

	t.Run("members with shuffled class order are aligned", func(t *testing.T) {
		flipped := make([]int, len(y))
		for i, v := range y {
			flipped[i] = 1 - v
		}
		est, err := New(models.TaskClassification, "logistic_regression", nil)
		require.NoError(t, err)
		require.NoError(t, est.(Classifier).Fit(x, flipped, 2))
		reversed := Member{Model: est, Classes: []string{"yes", "no"}}

		vote, err := NewComposition(VotingClassifierType, []Member{members[0], reversed}, map[string]any{"voting": "soft"}, classes)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, accuracy(vote.(Classifier).Predict(x), y), 0.9)
	})

	t.Run("unsupported final estimator", func(t *testing.T) {
		_, err := NewComposition(StackingClassifierType, members, map[string]any{"final_estimator": "svc"}, classes)
		assert.Error(t, err)
	})

	t.Run("too few members", func(t *testing.T) {
		_, err := NewComposition(VotingClassifierType, members[:1], nil, classes)
		assert.Error(t, err)
	})

	t.Run("regressors", func(t *testing.T) {
		rx, ry := linearTarget(8, 60)
		fitReg := func(name string) Member {
			est, err := New(models.TaskRegression, name, nil)
			require.NoError(t, err)
			require.NoError(t, est.(Regressor).Fit(rx, ry))
			return Member{Model: est}
		}
		regs := []Member{fitReg("linear_regression"), fitReg("ridge")}

		vote, err := NewComposition(VotingRegressorType, regs, nil, nil)
		require.NoError(t, err)
		assert.Greater(t, r2(vote.(Regressor).Predict(rx), ry), 0.99)

		stack, err := NewComposition(StackingRegressorType, regs, map[string]any{"final_estimator": "ridge_cv"}, nil)
		require.NoError(t, err)
		require.NoError(t, stack.(Regressor).Fit(rx, ry))
		assert.Greater(t, r2(stack.(Regressor).Predict(rx), ry), 0.99)
	})
}

func TestBundleRoundTrip(t *testing.T) {
	x, y := blobs(9, [][]float64{{0, 0}, {5, 5}}, 20, 0.5)
	labels := FitLabels([]string{"b", "a"})

	for _, name := range []string{"random_forest_classifier", "logistic_regression", "svc", "mlp_classifier", "gradient_boosting_classifier"} {
		t.Run(name, func(t *testing.T) {
			est, err := New(models.TaskClassification, name, nil)
			require.NoError(t, err)
			require.NoError(t, est.(Classifier).Fit(x, y, 2))

			b := &Bundle{TaskType: models.TaskClassification, ModelType: name, Features: []string{"f1", "f2"}, Target: "y", Labels: labels, Model: est}
			data, err := b.Marshal()
			require.NoError(t, err)
			back, err := UnmarshalBundle(data)
			require.NoError(t, err)

			assert.Equal(t, b.Features, back.Features)
			assert.Equal(t, []string{"a", "b"}, back.Labels.Classes)
			assert.Equal(t, est.(Classifier).Predict(x), back.Model.(Classifier).Predict(x))
		})
	}

	t.Run("composition", func(t *testing.T) {
		lr, _ := New(models.TaskClassification, "logistic_regression", nil)
		rf, _ := New(models.TaskClassification, "random_forest_classifier", nil)
		require.NoError(t, lr.(Classifier).Fit(x, y, 2))
		require.NoError(t, rf.(Classifier).Fit(x, y, 2))
		vote, err := NewComposition(VotingClassifierType, []Member{{lr, labels.Classes}, {rf, labels.Classes}}, map[string]any{"voting": "soft"}, labels.Classes)
		require.NoError(t, err)

		data, err := (&Bundle{Model: vote, Labels: labels}).Marshal()
		require.NoError(t, err)
		back, err := UnmarshalBundle(data)
		require.NoError(t, err)
		assert.Equal(t, vote.(Classifier).Predict(x), back.Model.(Classifier).Predict(x))
	})
}

func TestLabelEncoder(t *testing.T) {
	t.Run("numeric labels sort by value", func(t *testing.T) {
		enc := FitLabels([]string{"10", "2", "1", "2"})
		assert.Equal(t, []string{"1", "2", "10"}, enc.Classes)
		assert.Equal(t, []int{2, 0, -1}, enc.Encode([]string{"10", "1", "7"}))
		assert.Equal(t, []string{"2", ""}, enc.Decode([]int{1, 5}))
	})

	t.Run("mixed labels sort lexically", func(t *testing.T) {
		assert.Equal(t, []string{"1", "a", "b"}, FitLabels([]string{"b", "1", "a"}).Classes)
	})
}

func TestUnknownModel(t *testing.T) {
	_, err := New(models.TaskClustering, "svc", nil)
	assert.Error(t, err)
	_, err = New(models.TaskType("ranking"), "svc", nil)
	assert.Error(t, err)
}

func TestSplits(t *testing.T) {
	t.Run("train test split holds out the ceiling share", func(t *testing.T) {
		train, test, err := TrainTestSplit(10, 0.25, nil, 1)
		require.NoError(t, err)
		assert.Len(t, test, 3)
		assert.Len(t, train, 7)
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, append(train, test...))
	})

	t.Run("stratified split keeps class shares", func(t *testing.T) {
		y := make([]int, 100)
		for i := 80; i < 100; i++ {
			y[i] = 1
		}
		_, test, err := TrainTestSplit(100, 0.2, y, 1)
		require.NoError(t, err)
		require.Len(t, test, 20)
		ones := 0
		for _, i := range test {
			ones += y[i]
		}
		assert.Equal(t, 4, ones)
	})

	t.Run("stratify rejects singleton classes", func(t *testing.T) {
		_, _, err := TrainTestSplit(5, 0.4, []int{0, 0, 0, 0, 1}, 1)
		assert.Error(t, err)
	})

	t.Run("invalid test size", func(t *testing.T) {
		_, _, err := TrainTestSplit(10, 1, nil, 1)
		assert.Error(t, err)
	})

	t.Run("k fold sizes", func(t *testing.T) {
		folds, err := KFold(11, 5, false, 0)
		require.NoError(t, err)
		require.Len(t, folds, 5)
		assert.Equal(t, []int{0, 1, 2}, folds[0].Test)
		assert.Len(t, folds[4].Test, 2)
		assert.Len(t, folds[4].Train, 9)
	})

	t.Run("stratified k fold balances classes", func(t *testing.T) {
		y := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
		folds, err := StratifiedKFold(y, 5, true, 3)
		require.NoError(t, err)
		for _, f := range folds {
			require.Len(t, f.Test, 2)
			assert.NotEqual(t, y[f.Test[0]], y[f.Test[1]])
		}
	})
}
