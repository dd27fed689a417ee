package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
)

const (
	dataFramesDir = "dataframes"
	modelsDir     = "models"
	dataFrameExt  = ".csv"
	modelExt      = ".joblib"
)

// Service defines the blob store interface.
// Files are addressed by (user_id, id); the store attaches no meaning to their content.
type Service interface {
	WriteDataFrame(ctx context.Context, userID, id string, df *frame.DataFrame) error
	ReadDataFrame(ctx context.Context, userID, id string) (*frame.DataFrame, error)
	DeleteDataFrame(ctx context.Context, userID, id string) error
	DataFramePath(userID, id string) string

	WriteModel(ctx context.Context, userID, id string, data []byte) error
	ReadModel(ctx context.Context, userID, id string) ([]byte, error)
	DeleteModel(ctx context.Context, userID, id string) error
	ModelExists(ctx context.Context, userID, id string) bool
	ModelPath(userID, id string) string
}

// LocalStorage implements the blob store on the local file system
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage service
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// DataFramePath returns the on-disk location of a table
func (ls *LocalStorage) DataFramePath(userID, id string) string {
	return filepath.Join(ls.basePath, userID, dataFramesDir, id+dataFrameExt)
}

// ModelPath returns the on-disk location of a serialised estimator
func (ls *LocalStorage) ModelPath(userID, id string) string {
	return filepath.Join(ls.basePath, userID, modelsDir, id+modelExt)
}

// WriteDataFrame stores a table as CSV
func (ls *LocalStorage) WriteDataFrame(ctx context.Context, userID, id string, df *frame.DataFrame) error {
	var buf bytes.Buffer
	if err := frame.WriteCSV(&buf, df); err != nil {
		return fmt.Errorf("failed to encode dataframe %s: %w", id, err)
	}
	return ls.write(ctx, ls.DataFramePath(userID, id), buf.Bytes())
}

// ReadDataFrame loads a table; a missing file is a critical error
func (ls *LocalStorage) ReadDataFrame(ctx context.Context, userID, id string) (*frame.DataFrame, error) {
	data, err := ls.read(ctx, ls.DataFramePath(userID, id))
	if err != nil {
		return nil, err
	}
	df, err := frame.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataframe %s: %w", id, err)
	}
	return df, nil
}

// DeleteDataFrame removes a table; deleting a missing file is not an error
func (ls *LocalStorage) DeleteDataFrame(ctx context.Context, userID, id string) error {
	return ls.remove(ctx, ls.DataFramePath(userID, id))
}

// WriteModel stores a serialised estimator
func (ls *LocalStorage) WriteModel(ctx context.Context, userID, id string, data []byte) error {
	return ls.write(ctx, ls.ModelPath(userID, id), data)
}

// ReadModel loads a serialised estimator
func (ls *LocalStorage) ReadModel(ctx context.Context, userID, id string) ([]byte, error) {
	return ls.read(ctx, ls.ModelPath(userID, id))
}

// DeleteModel removes a serialised estimator
func (ls *LocalStorage) DeleteModel(ctx context.Context, userID, id string) error {
	return ls.remove(ctx, ls.ModelPath(userID, id))
}

// ModelExists reports whether the estimator file is present
func (ls *LocalStorage) ModelExists(ctx context.Context, userID, id string) bool {
	_, err := os.Stat(ls.ModelPath(userID, id))
	return err == nil
}

// write replaces the file atomically through a temp file in the same directory
func (ls *LocalStorage) write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func (ls *LocalStorage) read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.New(apperrors.FileNotFound, "file %s does not exist", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (ls *LocalStorage) remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
