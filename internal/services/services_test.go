package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/hyperopt"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/pipeline"
	"github.com/aegisshield/ml-workbench/internal/selection"
	"github.com/aegisshield/ml-workbench/internal/storage"
	"github.com/aegisshield/ml-workbench/internal/training"
)

const user = "user-1"

type fixture struct {
	repos      *database.Repositories
	store      *storage.LocalStorage
	dataframes *DataFrameService
	models     *ModelService
	reports    *ReportService
}

func newFixture(t *testing.T, cfg config.MLConfig) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "meta.db")})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	repos := database.NewRepositories(db)
	store := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
	metrics := monitoring.NewCollector(prometheus.NewRegistry())
	recorder := pipeline.NewRecorder(repos.DataFrames, store, methods.NewApplier(0), 0, logger)

	dataframes := NewDataFrameService(repos, store, recorder, metrics, cfg, logger)
	search := hyperopt.DefaultConfig()
	search.Evals, search.StartupTrials, search.Folds = 6, 3, 3
	searcher := hyperopt.NewSearcher(dataframes, search, logger)
	validator := params.NewValidator(searcher, logger)
	trainer := training.NewTrainer(42, logger)
	modelService := NewModelService(repos, store, dataframes, recorder, validator, trainer, metrics, cfg, logger)

	return &fixture{
		repos:      repos,
		store:      store,
		dataframes: dataframes,
		models:     modelService,
		reports:    NewReportService(repos.Reports),
	}
}

// housesCSV has columns age:int, city:str, price:float
func housesCSV(rows int) string {
	var b strings.Builder
	b.WriteString("age,city,price\n")
	cities := []string{"A", "B", "C"}
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,%s,%.2f\n", 20+i, cities[i%3], 100.5+float64(i))
	}
	return b.String()
}

// blobsCSV has two separable numeric features and a binary label column y
func blobsCSV(seed uint64, rows int, extra bool) string {
	rng := rand.New(rand.NewPCG(seed, 1))
	var b strings.Builder
	if extra {
		b.WriteString("a,b,c,y\n")
	} else {
		b.WriteString("a,b,y\n")
	}
	for i := 0; i < rows; i++ {
		label := i % 2
		shift := float64(label) * 4
		fmt.Fprintf(&b, "%.4f,%.4f", shift+rng.NormFloat64(), shift+rng.NormFloat64())
		if extra {
			fmt.Fprintf(&b, ",%.4f", rng.NormFloat64())
		}
		fmt.Fprintf(&b, ",%d\n", label)
	}
	return b.String()
}

func (f *fixture) upload(t *testing.T, name, csv string) *models.DataFrameMetadata {
	t.Helper()
	meta, err := f.dataframes.Upload(context.Background(), user, name, strings.NewReader(csv))
	require.NoError(t, err)
	return meta
}

func (f *fixture) uploadLabelled(t *testing.T, name, csv string) *models.DataFrameMetadata {
	t.Helper()
	meta := f.upload(t, name, csv)
	meta, err := f.dataframes.SetTarget(context.Background(), user, meta.ID, "y")
	require.NoError(t, err)
	return meta
}

func (f *fixture) trainedClassifier(t *testing.T, name string, df *models.DataFrameMetadata) *models.ModelMetadata {
	t.Helper()
	ctx := context.Background()
	m, err := f.models.CreateModel(ctx, user, CreateModelRequest{
		Filename:    name,
		DataFrameID: df.ID,
		TaskType:    models.TaskClassification,
		ModelParams: models.ModelParams{ModelType: "logistic_regression"},
		ParamsType:  models.ParamsDefault,
		Stratify:    true,
	})
	require.NoError(t, err)
	m, err = f.models.Train(ctx, user, m.ID)
	require.NoError(t, err)
	require.Equal(t, models.ModelStatusTrained, m.Status)
	return m
}

func TestUploadAndContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})

	meta := f.upload(t, "houses", housesCSV(120))
	assert.Equal(t, []string{"age", "price"}, meta.FeatureColumnsTypes.Numeric)
	assert.Equal(t, []string{"city"}, meta.FeatureColumnsTypes.Categorical)
	assert.Nil(t, meta.TargetFeature)

	t.Run("second page", func(t *testing.T) {
		page, err := f.dataframes.Content(ctx, user, meta.ID, 2, 50)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Records, 50)
		assert.EqualValues(t, 70, page.Records[0]["age"])
		assert.EqualValues(t, 119, page.Records[49]["age"])
	})

	t.Run("duplicate filename", func(t *testing.T) {
		_, err := f.dataframes.Upload(ctx, user, "houses", strings.NewReader(housesCSV(3)))
		assert.True(t, apperrors.HasCode(err, apperrors.FilenameExists))
	})

	t.Run("low cardinality downgrade", func(t *testing.T) {
		g := newFixture(t, config.MLConfig{DowngradeLowCardinality: true})
		meta := g.upload(t, "labels", blobsCSV(1, 40, false))
		assert.Equal(t, []string{"a", "b"}, meta.FeatureColumnsTypes.Numeric)
		assert.Equal(t, []string{"y"}, meta.FeatureColumnsTypes.Categorical)
	})

	t.Run("statistics and correlation", func(t *testing.T) {
		desc, err := f.dataframes.Statistics(ctx, user, meta.ID)
		require.NoError(t, err)
		assert.Len(t, desc, 3)

		corr, err := f.dataframes.Correlation(ctx, user, meta.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"age", "price"}, corr.Columns)
	})
}

func TestDataFrameEditing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	root := f.upload(t, "houses", housesCSV(30))

	t.Run("target must be classified", func(t *testing.T) {
		_, err := f.dataframes.SetTarget(ctx, user, root.ID, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.SetTargetNotFoundInMetadata))
	})

	t.Run("apply methods creates a child", func(t *testing.T) {
		child, err := f.dataframes.ApplyMethods(ctx, user, root.ID, []models.ApplyMethodParams{{
			MethodName: methods.OneHotEncoding,
			Columns:    []string{"city"},
			Params:     map[string]any{},
		}})
		require.NoError(t, err)
		require.NotNil(t, child.ParentID)
		assert.Equal(t, root.ID, *child.ParentID)
		assert.Equal(t, "houses_one_hot_encoding", child.Filename)
		assert.Len(t, child.Pipeline, 1)
		assert.ElementsMatch(t, []string{"age", "price", "city_B", "city_C"}, child.FeatureColumnsTypes.All())

		moved, err := f.dataframes.MoveToRoot(ctx, user, child.ID)
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)

		_, err = f.dataframes.MoveToRoot(ctx, user, child.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameIsRoot))
	})

	t.Run("change type and delete column", func(t *testing.T) {
		changed, err := f.dataframes.ChangeColumnType(ctx, user, root.ID, "age", "categorical")
		require.NoError(t, err)
		assert.True(t, changed.FeatureColumnsTypes.IsCategorical("age"))

		dropped, err := f.dataframes.DeleteColumn(ctx, user, root.ID, "price")
		require.NoError(t, err)
		assert.False(t, dropped.FeatureColumnsTypes.Contains("price"))
	})

	t.Run("rename", func(t *testing.T) {
		renamed, err := f.dataframes.Rename(ctx, user, root.ID, "homes")
		require.NoError(t, err)
		assert.Equal(t, "homes", renamed.Filename)

		same, err := f.dataframes.Rename(ctx, user, root.ID, "homes")
		require.NoError(t, err)
		assert.Equal(t, "homes", same.Filename)

		_, err = f.dataframes.Rename(ctx, user, root.ID, "houses_one_hot_encoding")
		assert.True(t, apperrors.HasCode(err, apperrors.FilenameExists))
	})

	t.Run("supervised split needs a target", func(t *testing.T) {
		_, _, err := f.dataframes.FeatureTargetSupervised(ctx, user, root.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.TargetNotFound))
	})

	t.Run("categorical features are rejected", func(t *testing.T) {
		_, err := f.dataframes.SetTarget(ctx, user, root.ID, "price")
		require.NoError(t, err)
		_, _, err = f.dataframes.FeatureTargetSupervised(ctx, user, root.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.CategoricalColumnFound))
	})
}

func TestFeatureImportances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	df := f.uploadLabelled(t, "blobs", blobsCSV(3, 60, true))

	selectors := []selection.Method{
		{MethodName: selection.VarianceThreshold, Params: map[string]any{}},
		{MethodName: selection.SelectKBest, Params: map[string]any{"k": 2}},
	}
	report, err := f.dataframes.FeatureImportances(ctx, user, df.ID, models.TaskClassification, selectors)
	require.NoError(t, err)
	assert.Len(t, report.Rows, 3)

	stored, err := f.dataframes.Get(ctx, user, df.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FeatureImportanceReport)

	t.Run("invalid selector params are rejected before any report", func(t *testing.T) {
		other := f.uploadLabelled(t, "blobs2", blobsCSV(4, 40, false))
		_, err := f.dataframes.FeatureImportances(ctx, user, other.ID, models.TaskClassification,
			[]selection.Method{{MethodName: selection.SelectKBest, Params: map[string]any{"k": "many"}}})
		assert.True(t, apperrors.HasCode(err, apperrors.InvalidSelectorParams))

		stored, err := f.dataframes.Get(ctx, user, other.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.FeatureImportanceReport)
	})
}

func TestModelLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	df := f.uploadLabelled(t, "blobs", blobsCSV(5, 100, false))

	m := f.trainedClassifier(t, "clf", df)
	assert.Equal(t, []string{"a", "b"}, m.FeatureColumns)
	assert.Len(t, m.MetricsReportIDs, 2)
	assert.Len(t, m.ModelPredictionIDs, 2)
	assert.True(t, f.store.ModelExists(ctx, user, m.ID))

	reps, err := f.reports.ListByModel(ctx, user, m.ID)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	for _, r := range reps {
		assert.Contains(t, []models.ReportType{models.ReportTrain, models.ReportValid}, r.ReportType)
		assert.Contains(t, string(r.Body), "roc_auc")
	}

	t.Run("training twice is rejected", func(t *testing.T) {
		_, err := f.models.Train(ctx, user, m.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.InvalidRequest))
	})

	t.Run("predict on a fresh table", func(t *testing.T) {
		fresh := f.upload(t, "fresh", blobsCSV(6, 20, false))
		pred, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: fresh.ID, ModelID: m.ID})
		require.NoError(t, err)
		assert.True(t, pred.IsPrediction)
		assert.Equal(t, "clf_prediction", pred.Filename)

		got, err := f.models.Get(ctx, user, m.ID)
		require.NoError(t, err)
		assert.Contains(t, got.ModelPredictionIDs, pred.ID)
	})

	t.Run("predict with different features", func(t *testing.T) {
		wide := f.upload(t, "wide", blobsCSV(7, 20, true))
		_, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: wide.ID, ModelID: m.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.FeaturesNotEqual))
	})

	t.Run("prediction moved to active is unlinked", func(t *testing.T) {
		predID := m.ModelPredictionIDs[0]
		active, err := f.dataframes.MovePredictionToActive(ctx, user, predID)
		require.NoError(t, err)
		assert.False(t, active.IsPrediction)

		got, err := f.models.Get(ctx, user, m.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.ModelPredictionIDs, predID)

		_, err = f.dataframes.MovePredictionToActive(ctx, user, predID)
		assert.True(t, apperrors.HasCode(err, apperrors.NotPredictionDataFrame))
	})

	t.Run("supervised model needs a target", func(t *testing.T) {
		plain := f.upload(t, "plain", blobsCSV(8, 20, false))
		_, err := f.models.CreateModel(ctx, user, CreateModelRequest{
			Filename:    "no-target",
			DataFrameID: plain.ID,
			TaskType:    models.TaskRegression,
			ModelParams: models.ModelParams{ModelType: "ridge"},
			ParamsType:  models.ParamsDefault,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.TargetColumnRequired))
	})

	t.Run("unknown model type", func(t *testing.T) {
		_, err := f.models.CreateModel(ctx, user, CreateModelRequest{
			Filename:    "bad",
			DataFrameID: df.ID,
			TaskType:    models.TaskClassification,
			ModelParams: models.ModelParams{ModelType: "oracle"},
			ParamsType:  models.ParamsDefault,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.UnknownClassificationModel))
	})

	t.Run("missing estimator file is critical", func(t *testing.T) {
		other := f.trainedClassifier(t, "clf-2", df)
		require.NoError(t, f.store.DeleteModel(ctx, user, other.ID))
		f.models.bundles.Flush()

		_, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: df.ID, ModelID: other.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.TrainedModelFileMissing))
	})
}

func TestTrainingFailureMarksProblem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	df := f.upload(t, "houses", housesCSV(30))

	m, err := f.models.CreateModel(ctx, user, CreateModelRequest{
		Filename:    "clusters",
		DataFrameID: df.ID,
		TaskType:    models.TaskClustering,
		ModelParams: models.ModelParams{ModelType: "kmeans"},
		ParamsType:  models.ParamsDefault,
	})
	require.NoError(t, err)

	_, err = f.models.Train(ctx, user, m.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CategoricalColumnFound))

	got, err := f.models.Get(ctx, user, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusProblem, got.Status)
	assert.False(t, f.store.ModelExists(ctx, user, m.ID))

	reps, err := f.reports.ListByModel(ctx, user, m.ID)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, models.ReportError, reps[0].ReportType)
	assert.Contains(t, string(reps[0].Body), "stack_trace")

	_, err = f.models.Predict(ctx, user, PredictRequest{DataFrameID: df.ID, ModelID: m.ID})
	assert.True(t, apperrors.HasCode(err, apperrors.ModelNotTrained))
}

func TestProblemDropsLinkedPredictions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	df := f.uploadLabelled(t, "blobs", blobsCSV(12, 60, false))
	m := f.trainedClassifier(t, "clf", df)
	require.Len(t, m.ModelPredictionIDs, 2)

	// a failure after the split predictions were stored
	f.models.markProblem(ctx, m, fmt.Errorf("status update failed"), "")

	got, err := f.models.Get(ctx, user, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusProblem, got.Status)
	assert.Empty(t, got.ModelPredictionIDs)
	for _, id := range m.ModelPredictionIDs {
		_, err := f.dataframes.Get(ctx, user, id)
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameNotFound), id)
	}
	assert.False(t, f.store.ModelExists(ctx, user, m.ID))
}

// mixedCSV has numeric a and b, categorical colour and a binary label y
func mixedCSV(seed uint64, rows int, header []string) string {
	rng := rand.New(rand.NewPCG(seed, 2))
	colours := []string{"red", "green", "blue"}
	var b strings.Builder
	b.WriteString(strings.Join(header, ",") + "\n")
	for i := 0; i < rows; i++ {
		label := i % 2
		shift := float64(label) * 4
		values := map[string]string{
			"a":      fmt.Sprintf("%.4f", shift+rng.NormFloat64()),
			"b":      fmt.Sprintf("%.4f", 10*shift+rng.NormFloat64()),
			"colour": colours[i%3],
			"y":      fmt.Sprint(label),
		}
		row := make([]string, len(header))
		for j, h := range header {
			row[j] = values[h]
		}
		b.WriteString(strings.Join(row, ",") + "\n")
	}
	return b.String()
}

func TestPredictReplaysTrainingPipeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	root := f.uploadLabelled(t, "mixed", mixedCSV(3, 60, []string{"a", "colour", "b", "y"}))

	child, err := f.dataframes.ApplyMethods(ctx, user, root.ID, []models.ApplyMethodParams{
		{MethodName: methods.OneHotEncoding, Columns: []string{"colour"}, Params: map[string]any{}},
		{MethodName: methods.StandardScaler, Columns: []string{"a", "b"}, Params: map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, child.Pipeline, 2)

	m := f.trainedClassifier(t, "clf", child)
	require.NotContains(t, m.FeatureColumns, "colour")

	raw := f.upload(t, "raw", mixedCSV(4, 15, []string{"y", "b", "colour", "a"}))

	t.Run("replayed features match the model", func(t *testing.T) {
		pred, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: raw.ID, ModelID: m.ID, ApplyPipeline: true})
		require.NoError(t, err)

		_, out, err := f.dataframes.Load(ctx, user, pred.ID)
		require.NoError(t, err)
		assert.Equal(t, append(slices.Clone(m.FeatureColumns), "y"), out.Columns())
		assert.Equal(t, 15, out.NRows())
	})

	t.Run("raw features without replay", func(t *testing.T) {
		_, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: raw.ID, ModelID: m.ID})
		assert.True(t, apperrors.HasCode(err, apperrors.FeaturesNotEqual))
	})
}

func TestHyperoptTraining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	df := f.uploadLabelled(t, "blobs", blobsCSV(9, 60, false))

	m, err := f.models.CreateModel(ctx, user, CreateModelRequest{
		Filename:    "searched",
		DataFrameID: df.ID,
		TaskType:    models.TaskClassification,
		ModelParams: models.ModelParams{ModelType: "logistic_regression"},
		ParamsType:  models.ParamsHyperopt,
	})
	require.NoError(t, err)

	m, err = f.models.Train(ctx, user, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusTrained, m.Status)

	schema, err := params.SchemaFor(models.TaskClassification, "logistic_regression")
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, p := range schema {
		names[p.Name] = true
	}
	for k := range m.ModelParams.Params {
		assert.True(t, names[k], "unexpected param %s", k)
	}
}

func TestComposition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	d1 := f.uploadLabelled(t, "d1", blobsCSV(10, 80, false))
	d2 := f.uploadLabelled(t, "d2", blobsCSV(11, 80, false))
	d3 := f.uploadLabelled(t, "d3", blobsCSV(12, 80, true))

	m1 := f.trainedClassifier(t, "m1", d1)
	m2 := f.trainedClassifier(t, "m2", d2)
	m3 := f.trainedClassifier(t, "m3", d3)

	comp, err := f.models.CreateComposition(ctx, user, CreateCompositionRequest{
		Filename:        "vote",
		ModelIDs:        []string{m1.ID, m2.ID},
		CompositionType: estimators.VotingClassifierType,
		Params:          map[string]any{"voting": "soft"},
	})
	require.NoError(t, err)
	assert.True(t, comp.IsComposition)
	assert.Equal(t, models.ModelStatusWaiting, comp.Status)

	built, err := f.models.BuildComposition(ctx, user, comp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ModelStatusTrained, built.Status)
	assert.Len(t, built.MetricsReportIDs, 2)

	t.Run("composition predicts", func(t *testing.T) {
		fresh := f.upload(t, "fresh", blobsCSV(13, 10, false))
		_, err := f.models.Predict(ctx, user, PredictRequest{DataFrameID: fresh.ID, ModelID: built.ID})
		assert.NoError(t, err)
	})

	t.Run("heterogeneous members", func(t *testing.T) {
		_, err := f.models.CreateComposition(ctx, user, CreateCompositionRequest{
			Filename:        "mixed",
			ModelIDs:        []string{m1.ID, m3.ID},
			CompositionType: estimators.VotingClassifierType,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.DifferentDataFramesComposition))
	})

	t.Run("compositions are built not trained", func(t *testing.T) {
		_, err := f.models.Train(ctx, user, comp.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.InvalidRequest))
	})
}

func TestDeleteCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.MLConfig{})
	d1 := f.uploadLabelled(t, "d1", blobsCSV(14, 60, false))

	child, err := f.dataframes.ApplyMethods(ctx, user, d1.ID, []models.ApplyMethodParams{{
		MethodName: methods.StandardScaler,
		Columns:    []string{"a"},
		Params:     map[string]any{},
	}})
	require.NoError(t, err)
	grandchild, err := f.dataframes.ApplyMethods(ctx, user, child.ID, []models.ApplyMethodParams{{
		MethodName: methods.MinMaxScaler,
		Columns:    []string{"b"},
		Params:     map[string]any{},
	}})
	require.NoError(t, err)

	m1 := f.trainedClassifier(t, "m1", d1)
	mChild := f.trainedClassifier(t, "m-child", child)
	predictions := append(append([]string{}, m1.ModelPredictionIDs...), mChild.ModelPredictionIDs...)

	require.NoError(t, f.dataframes.Delete(ctx, user, d1.ID))

	for _, id := range append([]string{d1.ID, child.ID, grandchild.ID}, predictions...) {
		_, err := f.dataframes.Get(ctx, user, id)
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameNotFound), "dataframe %s survived", id)
	}
	for _, id := range []string{m1.ID, mChild.ID} {
		_, err := f.models.Get(ctx, user, id)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelNotFound), "model %s survived", id)
		assert.False(t, f.store.ModelExists(ctx, user, id))
	}
	reps, err := f.reports.List(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, reps)
}
