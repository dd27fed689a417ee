package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/storage"
)

type fixture struct {
	recorder *Recorder
	repos    *database.Repositories
	store    *storage.LocalStorage
}

func newFixture(t *testing.T, retries int) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "meta.db")})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	repos := database.NewRepositories(db)
	store := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
	return &fixture{
		recorder: NewRecorder(repos.DataFrames, store, methods.NewApplier(0), retries, zap.NewNop()),
		repos:    repos,
		store:    store,
	}
}

func (f *fixture) upload(t *testing.T, filename string, cities ...string) *models.DataFrameMetadata {
	t.Helper()
	ages := make([]int64, len(cities))
	for i := range ages {
		ages[i] = int64(30 + i)
	}
	df := frame.MustNew(frame.NewInt("age", ages), frame.NewString("city", cities, nil))
	meta := &models.DataFrameMetadata{
		UserID:              "u1",
		FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"age"}, Categorical: []string{"city"}},
		Pipeline:            []models.ApplyMethodParams{},
	}
	require.NoError(t, f.recorder.Persist(context.Background(), meta, df, filename))
	return meta
}

func oneHot() []models.ApplyMethodParams {
	return []models.ApplyMethodParams{{MethodName: methods.OneHotEncoding, Columns: []string{"city"}}}
}

func TestRecordCreatesChild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	root := f.upload(t, "houses", "A", "B", "C")

	child, err := f.recorder.Record(ctx, "u1", root.ID, oneHot())
	require.NoError(t, err)

	assert.Equal(t, "houses_one_hot_encoding", child.Filename)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	require.Len(t, child.Pipeline, 1)
	assert.Equal(t, []string{"age", "city_B", "city_C"}, child.FeatureColumnsTypes.Numeric)

	stored, err := f.store.ReadDataFrame(ctx, "u1", child.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "city_B", "city_C"}, stored.Columns())

	t.Run("collision gets a numeric suffix", func(t *testing.T) {
		again, err := f.recorder.Record(ctx, "u1", root.ID, oneHot())
		require.NoError(t, err)
		assert.Regexp(t, `^houses_one_hot_encoding_\d{2}$`, again.Filename)
	})

	t.Run("multiple steps use the modified suffix", func(t *testing.T) {
		steps := append(oneHot(), models.ApplyMethodParams{MethodName: methods.StandardScaler, Columns: []string{"age"}})
		multi, err := f.recorder.Record(ctx, "u1", root.ID, steps)
		require.NoError(t, err)
		assert.Equal(t, "houses_modified", multi.Filename)

		grandchild, err := f.recorder.Record(ctx, "u1", multi.ID, []models.ApplyMethodParams{
			{MethodName: methods.DropColumns, Columns: []string{"city_C"}},
		})
		require.NoError(t, err)
		assert.Len(t, grandchild.Pipeline, 3)
	})
}

func TestRecordFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	root := f.upload(t, "houses", "A", "B")

	_, err := f.recorder.Record(ctx, "u1", root.ID, []models.ApplyMethodParams{
		{MethodName: methods.OneHotEncoding, Columns: []string{"city"}},
		{MethodName: methods.StandardScaler, Columns: []string{"missing"}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ColumnNotFoundInMetadata))

	all, err := f.repos.DataFrames.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReplayAndCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	train := f.upload(t, "train", "A", "B", "C")
	fresh := f.upload(t, "fresh", "B", "A")

	child, err := f.recorder.Record(ctx, "u1", train.ID, oneHot())
	require.NoError(t, err)

	result, err := f.recorder.Replay(ctx, "u1", child.ID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "city_B", "city_C"}, result.DataFrame.Columns())
	col, _ := result.DataFrame.Column("city_C")
	assert.Equal(t, []float64{0, 0}, col.Floats())

	copied, err := f.recorder.CopyPipeline(ctx, "u1", child.ID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh_copy_pipeline", copied.Filename)
	assert.Equal(t, fresh.ID, *copied.ParentID)

	t.Run("prediction dataframes are read only", func(t *testing.T) {
		_, err := f.repos.DataFrames.Update(ctx, "u1", fresh.ID, func(m *models.DataFrameMetadata) error {
			m.IsPrediction = true
			return nil
		})
		require.NoError(t, err)
		_, err = f.recorder.Record(ctx, "u1", fresh.ID, oneHot())
		assert.True(t, apperrors.HasCode(err, apperrors.PredictionDataFrameReadOnly))
	})
}

func TestFilenameRetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	root := f.upload(t, "x", "A")

	// occupy the base name and every possible two-digit suffix
	for i := 10; i < 100; i++ {
		f.upload(t, "x_drop_na_"+itoa(i), "A")
	}
	f.upload(t, "x_drop_na", "A")

	_, err := f.recorder.Record(ctx, "u1", root.ID, []models.ApplyMethodParams{{MethodName: methods.DropNA}})
	assert.True(t, apperrors.HasCode(err, apperrors.FilenameExists))
}

func itoa(i int) string {
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}
