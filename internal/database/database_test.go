package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/models"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })
	return NewRepositories(db)
}

func TestDataFrameRepository(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	meta := &models.DataFrameMetadata{
		UserID:   "u1",
		Filename: "houses",
		FeatureColumnsTypes: models.ColumnTypes{
			Numeric:     []string{"age", "price"},
			Categorical: []string{"city"},
		},
		Pipeline: []models.ApplyMethodParams{},
	}
	require.NoError(t, repos.DataFrames.Create(ctx, meta))
	assert.Len(t, meta.ID, 24)

	t.Run("filename unique per user", func(t *testing.T) {
		dup := &models.DataFrameMetadata{UserID: "u1", Filename: "houses"}
		err := repos.DataFrames.Create(ctx, dup)
		assert.True(t, apperrors.HasCode(err, apperrors.FilenameExists))

		other := &models.DataFrameMetadata{UserID: "u2", Filename: "houses"}
		assert.NoError(t, repos.DataFrames.Create(ctx, other))
	})

	t.Run("isolated by user", func(t *testing.T) {
		_, err := repos.DataFrames.Get(ctx, "u2", meta.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameNotFound))
	})

	t.Run("json fields round trip", func(t *testing.T) {
		got, err := repos.DataFrames.Get(ctx, "u1", meta.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"age", "price"}, got.FeatureColumnsTypes.Numeric)
		assert.Nil(t, got.FeatureImportanceReport)
	})

	t.Run("update and children", func(t *testing.T) {
		child := &models.DataFrameMetadata{UserID: "u1", Filename: "houses_one_hot_encoding", ParentID: &meta.ID}
		require.NoError(t, repos.DataFrames.Create(ctx, child))

		children, err := repos.DataFrames.ListChildren(ctx, "u1", meta.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, child.ID, children[0].ID)

		target := "price"
		updated, err := repos.DataFrames.Update(ctx, "u1", meta.ID, func(m *models.DataFrameMetadata) error {
			m.TargetFeature = &target
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "price", *updated.TargetFeature)
	})

	t.Run("update error aborts", func(t *testing.T) {
		_, err := repos.DataFrames.Update(ctx, "u1", meta.ID, func(m *models.DataFrameMetadata) error {
			m.Filename = "changed"
			return apperrors.New(apperrors.SetTargetNotFoundInMetadata, "nope")
		})
		assert.True(t, apperrors.HasCode(err, apperrors.SetTargetNotFoundInMetadata))

		got, err := repos.DataFrames.Get(ctx, "u1", meta.ID)
		require.NoError(t, err)
		assert.Equal(t, "houses", got.Filename)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repos.DataFrames.Delete(ctx, "u1", meta.ID))
		err := repos.DataFrames.Delete(ctx, "u1", meta.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameNotFound))
	})
}

func TestModelRepositoryAppendsAreSerialised(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	target := "y"
	model := &models.ModelMetadata{
		UserID:         "u1",
		Filename:       "clf",
		DataFrameID:    models.NewID(),
		TaskType:       models.TaskClassification,
		ModelParams:    models.ModelParams{ModelType: "logistic_regression", Params: map[string]any{}},
		ParamsType:     models.ParamsDefault,
		FeatureColumns: []string{"a", "b"},
		TargetColumn:   &target,
		Status:         models.ModelStatusWaiting,
	}
	require.NoError(t, repos.Models.Create(ctx, model))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repos.Models.AppendReport(ctx, "u1", model.ID, models.NewID()))
		}()
	}
	wg.Wait()

	got, err := repos.Models.Get(ctx, "u1", model.ID)
	require.NoError(t, err)
	assert.Len(t, got.MetricsReportIDs, 10)

	t.Run("prediction links", func(t *testing.T) {
		predID := models.NewID()
		require.NoError(t, repos.Models.AppendPrediction(ctx, "u1", model.ID, predID))

		owner, err := repos.Models.FindByPrediction(ctx, "u1", predID)
		require.NoError(t, err)
		assert.Equal(t, model.ID, owner.ID)

		require.NoError(t, repos.Models.RemovePrediction(ctx, "u1", model.ID, predID))
		_, err = repos.Models.FindByPrediction(ctx, "u1", predID)
		assert.True(t, apperrors.HasCode(err, apperrors.ModelNotFound))
	})

	t.Run("status", func(t *testing.T) {
		require.NoError(t, repos.Models.SetStatus(ctx, "u1", model.ID, models.ModelStatusBuilding))
		got, err := repos.Models.Get(ctx, "u1", model.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ModelStatusBuilding, got.Status)
	})
}

func TestReportAndJobRepositories(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	modelID, dfID := models.NewID(), models.NewID()
	for _, rt := range []models.ReportType{models.ReportTrain, models.ReportValid} {
		require.NoError(t, repos.Reports.Create(ctx, &models.Report{
			UserID:      "u1",
			ModelID:     modelID,
			DataFrameID: dfID,
			TaskType:    models.TaskRegression,
			ReportType:  rt,
			Body:        []byte(`{"mse": 1.5}`),
		}))
	}

	byModel, err := repos.Reports.ListByModel(ctx, "u1", modelID)
	require.NoError(t, err)
	assert.Len(t, byModel, 2)

	byDF, err := repos.Reports.ListByDataFrame(ctx, "u1", dfID)
	require.NoError(t, err)
	assert.Len(t, byDF, 2)

	require.NoError(t, repos.Reports.DeleteByModel(ctx, "u1", modelID))
	byModel, err = repos.Reports.ListByModel(ctx, "u1", modelID)
	require.NoError(t, err)
	assert.Empty(t, byModel)

	job := &models.BackgroundJob{
		UserID:      "u1",
		Type:        models.JobTrainModel,
		ObjectType:  models.ObjectModel,
		ObjectID:    modelID,
		Status:      models.JobStatusRunning,
		InputParams: map[string]any{"model_id": modelID},
	}
	require.NoError(t, repos.Jobs.Create(ctx, job))

	jobs, err := repos.Jobs.ListByObject(ctx, "u1", models.ObjectModel, modelID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, modelID, jobs[0].InputParams["model_id"])

	n, err := repos.Jobs.FailOrphans(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repos.Jobs.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, got.Status)
	require.NotNil(t, got.FinishedAt)
}
