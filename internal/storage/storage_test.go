package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
)

func TestDataFrameLifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStorage(root)

	df := frame.MustNew(
		frame.NewInt("age", []int64{31, 42}),
		frame.NewString("city", []string{"A", "B"}, nil),
	)

	require.NoError(t, store.WriteDataFrame(ctx, "u1", "0123456789abcdef01234567", df))
	assert.FileExists(t, filepath.Join(root, "u1", "dataframes", "0123456789abcdef01234567.csv"))

	loaded, err := store.ReadDataFrame(ctx, "u1", "0123456789abcdef01234567")
	require.NoError(t, err)
	assert.Equal(t, df.Columns(), loaded.Columns())
	assert.Equal(t, 2, loaded.NRows())

	t.Run("other user cannot see it", func(t *testing.T) {
		_, err := store.ReadDataFrame(ctx, "u2", "0123456789abcdef01234567")
		assert.True(t, apperrors.HasCode(err, apperrors.FileNotFound))
	})

	require.NoError(t, store.DeleteDataFrame(ctx, "u1", "0123456789abcdef01234567"))
	require.NoError(t, store.DeleteDataFrame(ctx, "u1", "0123456789abcdef01234567"))
	_, err = store.ReadDataFrame(ctx, "u1", "0123456789abcdef01234567")
	assert.True(t, apperrors.HasCode(err, apperrors.FileNotFound))
}

func TestModelFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStorage(root)

	assert.False(t, store.ModelExists(ctx, "u1", "m1"))
	require.NoError(t, store.WriteModel(ctx, "u1", "m1", []byte("payload")))
	assert.True(t, store.ModelExists(ctx, "u1", "m1"))
	assert.Equal(t, filepath.Join(root, "u1", "models", "m1.joblib"), store.ModelPath("u1", "m1"))

	data, err := store.ReadModel(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	entries, err := os.ReadDir(filepath.Join(root, "u1", "models"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")

	require.NoError(t, store.DeleteModel(ctx, "u1", "m1"))
	assert.False(t, store.ModelExists(ctx, "u1", "m1"))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewLocalStorage(t.TempDir())
	assert.ErrorIs(t, store.WriteModel(ctx, "u1", "m1", []byte("x")), context.Canceled)
}
