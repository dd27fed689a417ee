package training

import (
	"context"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

func strPtr(s string) *string { return &s }

// groups draws per rows around one centre per label
func groups(seed uint64, labels []string, per int) (*frame.DataFrame, *frame.Series) {
	rng := rand.New(rand.NewPCG(seed, seed))
	var a, b []float64
	var y []string
	for c, l := range labels {
		for i := 0; i < per; i++ {
			a = append(a, float64(c*6)+rng.NormFloat64()*0.5)
			b = append(b, float64(c*6)+rng.NormFloat64()*0.5)
			y = append(y, l)
		}
	}
	return frame.MustNew(frame.NewFloat("a", a), frame.NewFloat("b", b)), frame.NewString("label", y, nil)
}

func linear(n int) (*frame.DataFrame, *frame.Series) {
	rng := rand.New(rand.NewPCG(11, 11))
	a, b, y := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range y {
		a[i], b[i] = rng.Float64()*10, rng.Float64()*10
		y[i] = 3*a[i] - b[i] + 0.05*rng.NormFloat64()
	}
	return frame.MustNew(frame.NewFloat("a", a), frame.NewFloat("b", b)), frame.NewFloat("y", y)
}

func meta(task models.TaskType, modelType string, target *string) *models.ModelMetadata {
	return &models.ModelMetadata{
		ID:             "m1",
		Filename:       "model",
		DataFrameID:    "df1",
		TaskType:       task,
		ModelParams:    models.ModelParams{ModelType: modelType},
		FeatureColumns: []string{"a", "b"},
		TargetColumn:   target,
		TestSize:       0.25,
		Stratify:       true,
		Status:         models.ModelStatusTrained,
	}
}

func build(t *testing.T, task models.TaskType, modelType string, params map[string]any) any {
	est, err := estimators.New(task, modelType, params)
	require.NoError(t, err)
	return est
}

func TestPrepare(t *testing.T) {
	tr := NewTrainer(1, zap.NewNop())

	t.Run("one class", func(t *testing.T) {
		features, target := groups(1, []string{"only"}, 10)
		_, err := tr.Prepare(meta(models.TaskClassification, "logistic_regression", strPtr("label")), features, target)
		assert.True(t, apperrors.HasCode(err, apperrors.OneClassClassification))
	})

	t.Run("eleven classes", func(t *testing.T) {
		labels := make([]string, 11)
		for i := range labels {
			labels[i] = "c" + strconv.Itoa(i)
		}
		features, target := groups(2, labels, 3)
		_, err := tr.Prepare(meta(models.TaskClassification, "logistic_regression", strPtr("label")), features, target)
		assert.True(t, apperrors.HasCode(err, apperrors.TooManyClassesClassification))
	})

	t.Run("ten classes are allowed", func(t *testing.T) {
		labels := make([]string, 10)
		for i := range labels {
			labels[i] = "c" + strconv.Itoa(i)
		}
		features, target := groups(3, labels, 3)
		ds, err := tr.Prepare(meta(models.TaskClassification, "logistic_regression", strPtr("label")), features, target)
		require.NoError(t, err)
		assert.Equal(t, 10, ds.NClasses)
	})

	t.Run("missing regression target", func(t *testing.T) {
		features, _ := linear(10)
		_, err := tr.Prepare(meta(models.TaskRegression, "ridge", nil), features, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelTraining))
	})
}

func TestTrain(t *testing.T) {
	ctx := context.Background()
	tr := NewTrainer(1, zap.NewNop())

	t.Run("binary classification", func(t *testing.T) {
		features, target := groups(4, []string{"no", "yes"}, 40)
		m := meta(models.TaskClassification, "logistic_regression", strPtr("label"))
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)

		res, err := tr.Train(ctx, m, build(t, m.TaskType, "logistic_regression", nil), features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 2)
		assert.Equal(t, models.ReportTrain, res.Reports[0].Type)
		assert.Equal(t, models.ReportValid, res.Reports[1].Type)
		for _, r := range res.Reports {
			for _, key := range []string{"accuracy", "roc_auc", "fpr", "tpr"} {
				assert.Contains(t, r.Body, key)
			}
			assert.NotNil(t, r.Body["roc_auc"])
		}

		require.Len(t, res.Predictions, 2)
		assert.Equal(t, 60, res.Predictions[0].Frame.NRows())
		assert.Equal(t, 20, res.Predictions[1].Frame.NRows())
		assert.Equal(t, []string{"a", "b", "label"}, res.Predictions[1].Frame.Columns())
		pred, _ := res.Predictions[1].Frame.Column("label")
		assert.ElementsMatch(t, []string{"no", "yes"}, pred.Unique())
		assert.Equal(t, []string{"no", "yes"}, res.Encoder.Classes)
	})

	t.Run("numeric class labels stay numeric", func(t *testing.T) {
		features, target := groups(5, []string{"0", "1"}, 20)
		numeric, err := target.ToNumeric()
		require.NoError(t, err)
		m := meta(models.TaskClassification, "decision_tree_classifier", strPtr("label"))
		ds, err := tr.Prepare(m, features, numeric)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, build(t, m.TaskType, "decision_tree_classifier", nil), features, ds)
		require.NoError(t, err)
		pred, _ := res.Predictions[0].Frame.Column("label")
		assert.True(t, pred.IsNumeric())
	})

	t.Run("regression", func(t *testing.T) {
		features, target := linear(40)
		m := meta(models.TaskRegression, "linear_regression", strPtr("y"))
		m.Stratify = false
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, build(t, m.TaskType, "linear_regression", nil), features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 2)
		assert.Greater(t, res.Reports[1].Body["r2"].(float64), 0.99)
		require.Len(t, res.Predictions, 2)
		assert.Equal(t, 10, res.Predictions[1].Frame.NRows())
	})

	t.Run("clustering", func(t *testing.T) {
		features, _ := groups(6, []string{"x", "y", "z"}, 15)
		m := meta(models.TaskClustering, "kmeans", nil)
		ds, err := tr.Prepare(m, features, nil)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, build(t, m.TaskType, "kmeans", map[string]any{"n_clusters": 3}), features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 1)
		assert.Equal(t, 3, res.Reports[0].Body["n_clusters"])
		assert.Empty(t, res.Predictions)
	})

	t.Run("outlier detection", func(t *testing.T) {
		features, _ := groups(7, []string{"x"}, 40)
		m := meta(models.TaskOutlierDetection, "isolation_forest", nil)
		ds, err := tr.Prepare(m, features, nil)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, build(t, m.TaskType, "isolation_forest", nil), features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 1)
		assert.Contains(t, res.Reports[0].Body, "n_outliers")
	})

	t.Run("dimensionality reduction joins the target", func(t *testing.T) {
		features, target := groups(8, []string{"p", "q"}, 20)
		m := meta(models.TaskDimensionalityReduction, "pca", nil)
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, build(t, m.TaskType, "pca", map[string]any{"n_components": 2}), features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 1)
		assert.NotNil(t, res.Reports[0].Body["explained_variance_ratio"])
	})

	t.Run("fit failures are wrapped", func(t *testing.T) {
		features, _ := groups(9, []string{"x"}, 2)
		m := meta(models.TaskClustering, "kmeans", nil)
		ds, err := tr.Prepare(m, features, nil)
		require.NoError(t, err)
		_, err = tr.Train(ctx, m, build(t, m.TaskType, "kmeans", map[string]any{"n_clusters": 5}), features, ds)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelTraining))
	})

	t.Run("impossible split", func(t *testing.T) {
		features, target := groups(10, []string{"no", "yes"}, 2)
		m := meta(models.TaskClassification, "logistic_regression", strPtr("label"))
		m.TestSize = 0.9
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)
		_, err = tr.Train(ctx, m, build(t, m.TaskType, "logistic_regression", nil), features, ds)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelTraining))
	})
}

func fitBundle(t *testing.T, task models.TaskType, modelType string, features *frame.DataFrame, target *frame.Series) *estimators.Bundle {
	tr := NewTrainer(1, zap.NewNop())
	m := meta(task, modelType, strPtr(target.Name()))
	ds, err := tr.Prepare(m, features, target)
	require.NoError(t, err)
	res, err := tr.Train(context.Background(), m, build(t, task, modelType, nil), features, ds)
	require.NoError(t, err)
	return &estimators.Bundle{
		TaskType:  task,
		ModelType: modelType,
		Features:  features.Columns(),
		Target:    target.Name(),
		Labels:    res.Encoder,
		Model:     res.Model,
	}
}

func TestCompositionTraining(t *testing.T) {
	ctx := context.Background()
	tr := NewTrainer(1, zap.NewNop())

	t.Run("stacking classifier refits on the split", func(t *testing.T) {
		features, target := groups(12, []string{"no", "yes"}, 30)
		bundles := []*estimators.Bundle{
			fitBundle(t, models.TaskClassification, "logistic_regression", features, target),
			fitBundle(t, models.TaskClassification, "random_forest_classifier", features, target),
		}
		m := meta(models.TaskClassification, estimators.StackingClassifierType, strPtr("label"))
		m.IsComposition = true
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)
		comp, err := NewComposition(estimators.StackingClassifierType, bundles, nil, ds)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, comp, features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 2)
		assert.GreaterOrEqual(t, res.Reports[1].Body["accuracy"].(float64), 0.9)
	})

	t.Run("voting regressor scores every row once", func(t *testing.T) {
		features, target := linear(30)
		bundles := []*estimators.Bundle{
			fitBundle(t, models.TaskRegression, "linear_regression", features, target),
			fitBundle(t, models.TaskRegression, "ridge", features, target),
		}
		m := meta(models.TaskRegression, estimators.VotingRegressorType, strPtr("y"))
		m.IsComposition = true
		ds, err := tr.Prepare(m, features, target)
		require.NoError(t, err)
		comp, err := NewComposition(estimators.VotingRegressorType, bundles, nil, ds)
		require.NoError(t, err)
		res, err := tr.Train(ctx, m, comp, features, ds)
		require.NoError(t, err)
		require.Len(t, res.Reports, 1)
		assert.Equal(t, models.ReportTrain, res.Reports[0].Type)
		require.Len(t, res.Predictions, 1)
		assert.Equal(t, 30, res.Predictions[0].Frame.NRows())
	})

	t.Run("a single member is rejected", func(t *testing.T) {
		features, target := linear(10)
		ds, err := NewDataset(models.TaskRegression, features, target)
		require.NoError(t, err)
		_, err = NewComposition(estimators.VotingRegressorType, []*estimators.Bundle{{Model: nil}}, nil, ds)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelConstruction))
	})
}

func TestCheckMembers(t *testing.T) {
	member := func(id, dataframe string, task models.TaskType, features []string, target string) *models.ModelMetadata {
		m := meta(task, "logistic_regression", strPtr(target))
		m.ID, m.Filename, m.DataFrameID, m.FeatureColumns = id, id, dataframe, features
		return m
	}
	frames := map[string]*models.DataFrameMetadata{
		"d1": {ID: "d1", FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"a", "b", "y"}}, TargetFeature: strPtr("y")},
		"d2": {ID: "d2", FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"b", "a", "y"}}, TargetFeature: strPtr("y")},
		"d3": {ID: "d3", FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"a", "b", "c", "y"}}, TargetFeature: strPtr("y")},
	}
	ab := []string{"a", "b"}
	m1 := member("m1", "d1", models.TaskClassification, ab, "y")
	m2 := member("m2", "d2", models.TaskClassification, ab, "y")

	t.Run("same schema on different dataframes", func(t *testing.T) {
		assert.NoError(t, CheckMembers(estimators.VotingClassifierType, []*models.ModelMetadata{m1, m2}, frames))
	})

	cases := []struct {
		name    string
		kind    string
		members []*models.ModelMetadata
		code    apperrors.Code
	}{
		{"unknown type", "blending", []*models.ModelMetadata{m1, m2}, apperrors.UnknownCompositionType},
		{"too few", estimators.VotingClassifierType, []*models.ModelMetadata{m1}, apperrors.CompositionTooFewModels},
		{"different dataframes", estimators.VotingClassifierType,
			[]*models.ModelMetadata{m1, member("m3", "d3", models.TaskClassification, ab, "y")},
			apperrors.DifferentDataFramesComposition},
		{"different tasks", estimators.VotingClassifierType,
			[]*models.ModelMetadata{m1, member("m4", "d1", models.TaskRegression, ab, "y")},
			apperrors.DifferentTaskTypesComposition},
		{"wrong task", estimators.VotingRegressorType, []*models.ModelMetadata{m1, m2}, apperrors.WrongTaskTypeComposition},
		{"different features", estimators.VotingClassifierType,
			[]*models.ModelMetadata{m1, member("m5", "d1", models.TaskClassification, []string{"a", "b", "c"}, "y")},
			apperrors.DifferentFeatureColumnsComposition},
		{"different targets", estimators.StackingClassifierType,
			[]*models.ModelMetadata{m1, member("m6", "d1", models.TaskClassification, ab, "z")},
			apperrors.DifferentTargetColumnsComposition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckMembers(tc.kind, tc.members, frames)
			assert.True(t, apperrors.HasCode(err, tc.code), "%v", err)
		})
	}

	t.Run("untrained member", func(t *testing.T) {
		waiting := member("m7", "d1", models.TaskClassification, ab, "y")
		waiting.Status = models.ModelStatusWaiting
		err := CheckMembers(estimators.VotingClassifierType, []*models.ModelMetadata{m1, waiting}, frames)
		assert.True(t, apperrors.HasCode(err, apperrors.CompositionMemberNotTrained))
	})
}

func TestPredict(t *testing.T) {
	features, target := groups(13, []string{"no", "yes"}, 30)
	b := fitBundle(t, models.TaskClassification, "logistic_regression", features, target)

	t.Run("reorders features and decodes labels", func(t *testing.T) {
		a, _ := features.Column("a")
		bcol, _ := features.Column("b")
		swapped := frame.MustNew(bcol, a)
		out, err := Predict(b, swapped)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "label"}, out.Columns())
		pred, _ := out.Column("label")
		assert.ElementsMatch(t, []string{"no", "yes"}, pred.Unique())
	})

	t.Run("missing feature", func(t *testing.T) {
		_, err := Predict(b, features.Drop("b"))
		assert.True(t, apperrors.HasCode(err, apperrors.FeaturesNotEqual))
	})

	t.Run("clusterer without prediction", func(t *testing.T) {
		db := &estimators.Bundle{TaskType: models.TaskClustering, ModelType: "dbscan", Features: []string{"a", "b"},
			Model: build(t, models.TaskClustering, "dbscan", nil)}
		_, err := Predict(db, features)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelPrediction))
	})
}
