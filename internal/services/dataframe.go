// Package services implements the dataframe and model operations behind the
// HTTP surface.
package services

import (
	"context"
	"errors"
	"io"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/pipeline"
	"github.com/aegisshield/ml-workbench/internal/selection"
	"github.com/aegisshield/ml-workbench/internal/statistics"
	"github.com/aegisshield/ml-workbench/internal/storage"
	"github.com/aegisshield/ml-workbench/internal/training"
)

const (
	defaultCategoricalThreshold = 10
	histogramBins               = 10
	predictionSuffix            = "prediction"
)

// ModelDeleter removes a model with everything it owns
type ModelDeleter interface {
	DeleteModel(ctx context.Context, userID, id string) error
}

// DataFrameService manages uploaded, derived and prediction dataframes
type DataFrameService struct {
	repos      *database.Repositories
	storage    storage.Service
	recorder   *pipeline.Recorder
	summariser *selection.Summariser
	metrics    *monitoring.Collector
	config     config.MLConfig
	models     ModelDeleter
	logger     *zap.Logger
}

// NewDataFrameService creates the dataframe service
func NewDataFrameService(
	repos *database.Repositories,
	store storage.Service,
	recorder *pipeline.Recorder,
	metrics *monitoring.Collector,
	cfg config.MLConfig,
	logger *zap.Logger,
) *DataFrameService {
	if cfg.CategoricalThreshold <= 0 {
		cfg.CategoricalThreshold = defaultCategoricalThreshold
	}
	return &DataFrameService{
		repos:      repos,
		storage:    store,
		recorder:   recorder,
		summariser: selection.NewSummariser(),
		metrics:    metrics,
		config:     cfg,
		logger:     logger.With(zap.String("component", "dataframe_service")),
	}
}

// SetModelDeleter wires the model service used by cascading deletes
func (s *DataFrameService) SetModelDeleter(m ModelDeleter) {
	s.models = m
}

// Upload parses a CSV table, infers its column types and stores it as a root dataframe
func (s *DataFrameService) Upload(ctx context.Context, userID, filename string, r io.Reader) (*models.DataFrameMetadata, error) {
	if filename == "" {
		return nil, apperrors.New(apperrors.InvalidRequest, "filename is required")
	}
	df, err := frame.ReadCSV(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidCSV, err, "cannot parse uploaded table")
	}
	if df.NCols() == 0 {
		return nil, apperrors.New(apperrors.EmptyDataFrame, "uploaded table has no columns")
	}

	exists, err := s.repos.DataFrames.FilenameExists(ctx, userID, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.New(apperrors.FilenameExists, "dataframe %q already exists", filename).
			With("filename", filename)
	}

	types := s.inferTypes(df, s.config.DowngradeLowCardinality)
	if !df.SameColumnSet(types.All()) {
		return nil, apperrors.New(apperrors.ColumnTypesUndefined, "column types could not be inferred for every column").
			With("columns", df.Columns())
	}

	meta := &models.DataFrameMetadata{
		ID:                  models.NewID(),
		UserID:              userID,
		Filename:            filename,
		FeatureColumnsTypes: types,
		Pipeline:            []models.ApplyMethodParams{},
	}
	if err := s.storage.WriteDataFrame(ctx, userID, meta.ID, df); err != nil {
		return nil, err
	}
	if err := s.repos.DataFrames.Create(ctx, meta); err != nil {
		if rmErr := s.storage.DeleteDataFrame(ctx, userID, meta.ID); rmErr != nil {
			s.logger.Error("Failed to remove orphaned dataframe file", zap.String("dataframe_id", meta.ID), zap.Error(rmErr))
		}
		return nil, err
	}
	s.metrics.DataFramesUploaded.Inc()

	s.logger.Info("Dataframe uploaded",
		zap.String("user_id", userID),
		zap.String("dataframe_id", meta.ID),
		zap.Int("rows", df.NRows()),
		zap.Int("columns", df.NCols()))
	return meta, nil
}

// inferTypes classifies columns by dtype family. Numeric columns with few
// distinct values become categorical when downgrade is set.
func (s *DataFrameService) inferTypes(df *frame.DataFrame, downgrade bool) models.ColumnTypes {
	types := models.ColumnTypes{Numeric: []string{}, Categorical: []string{}}
	for _, col := range df.Series() {
		switch col.Kind() {
		case frame.Int, frame.Float:
			if downgrade && col.NUnique() <= s.config.CategoricalThreshold {
				types.Categorical = append(types.Categorical, col.Name())
			} else {
				types.Numeric = append(types.Numeric, col.Name())
			}
		default:
			types.Categorical = append(types.Categorical, col.Name())
		}
	}
	return types
}

// SaveTransformed persists a transformed table as a child of parent
func (s *DataFrameService) SaveTransformed(ctx context.Context, parent *models.DataFrameMetadata, result *methods.Result, methodName string) (*models.DataFrameMetadata, error) {
	return s.recorder.SaveChild(ctx, parent, result.DataFrame, result.Types, result.Steps, methodName)
}

// SavePrediction persists a prediction table; name collisions get a random suffix
func (s *DataFrameService) SavePrediction(ctx context.Context, userID, filename string, df *frame.DataFrame) (*models.DataFrameMetadata, error) {
	meta := &models.DataFrameMetadata{
		ID:                  models.NewID(),
		UserID:              userID,
		IsPrediction:        true,
		FeatureColumnsTypes: s.inferTypes(df, false),
		Pipeline:            []models.ApplyMethodParams{},
	}
	if err := s.recorder.Persist(ctx, meta, df, filename); err != nil {
		return nil, err
	}
	return meta, nil
}

// Get returns a dataframe's metadata
func (s *DataFrameService) Get(ctx context.Context, userID, id string) (*models.DataFrameMetadata, error) {
	return s.repos.DataFrames.Get(ctx, userID, id)
}

// List returns every dataframe of a user
func (s *DataFrameService) List(ctx context.Context, userID string) ([]models.DataFrameMetadata, error) {
	return s.repos.DataFrames.List(ctx, userID)
}

// Rename changes a dataframe's filename
func (s *DataFrameService) Rename(ctx context.Context, userID, id, filename string) (*models.DataFrameMetadata, error) {
	if filename == "" {
		return nil, apperrors.New(apperrors.InvalidRequest, "new filename is required")
	}
	current, err := s.repos.DataFrames.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if current.Filename == filename {
		return current, nil
	}
	exists, err := s.repos.DataFrames.FilenameExists(ctx, userID, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.New(apperrors.FilenameExists, "dataframe %q already exists", filename).
			With("filename", filename)
	}
	return s.repos.DataFrames.Update(ctx, userID, id, func(m *models.DataFrameMetadata) error {
		m.Filename = filename
		return nil
	})
}

// DownloadPath returns the stored table's location and the name to serve it under
func (s *DataFrameService) DownloadPath(ctx context.Context, userID, id string) (path, filename string, err error) {
	meta, err := s.repos.DataFrames.Get(ctx, userID, id)
	if err != nil {
		return "", "", err
	}
	return s.storage.DataFramePath(userID, id), meta.Filename + ".csv", nil
}

// SetTarget marks a classified column as the target feature
func (s *DataFrameService) SetTarget(ctx context.Context, userID, id, name string) (*models.DataFrameMetadata, error) {
	return s.repos.DataFrames.Update(ctx, userID, id, func(m *models.DataFrameMetadata) error {
		if !m.FeatureColumnsTypes.Contains(name) {
			return apperrors.New(apperrors.SetTargetNotFoundInMetadata, "column %q is not a column of dataframe %q", name, m.Filename).
				With("column", name)
		}
		m.TargetFeature = &name
		return nil
	})
}

// MoveToRoot detaches a derived dataframe from its parent
func (s *DataFrameService) MoveToRoot(ctx context.Context, userID, id string) (*models.DataFrameMetadata, error) {
	return s.repos.DataFrames.Update(ctx, userID, id, func(m *models.DataFrameMetadata) error {
		if m.IsPrediction {
			return apperrors.New(apperrors.PredictionDataFrameReadOnly, "prediction dataframe %q cannot be moved to root", m.Filename)
		}
		if m.ParentID == nil {
			return apperrors.New(apperrors.DataFrameIsRoot, "dataframe %q is already a root dataframe", m.Filename)
		}
		m.ParentID = nil
		return nil
	})
}

// MovePredictionToActive turns a prediction into an editable dataframe, re-inferring
// its column types and unlinking it from the model that produced it
func (s *DataFrameService) MovePredictionToActive(ctx context.Context, userID, id string) (*models.DataFrameMetadata, error) {
	meta, err := s.repos.DataFrames.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !meta.IsPrediction {
		return nil, apperrors.New(apperrors.NotPredictionDataFrame, "dataframe %q is not a prediction", meta.Filename)
	}
	df, err := s.storage.ReadDataFrame(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	types := s.inferTypes(df, s.config.DowngradeLowCardinality)

	updated, err := s.repos.DataFrames.Update(ctx, userID, id, func(m *models.DataFrameMetadata) error {
		m.IsPrediction = false
		m.FeatureColumnsTypes = types
		if m.TargetFeature != nil && !types.Contains(*m.TargetFeature) {
			m.TargetFeature = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.unlinkPrediction(ctx, userID, id); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *DataFrameService) unlinkPrediction(ctx context.Context, userID, id string) error {
	owner, err := s.repos.Models.FindByPrediction(ctx, userID, id)
	if apperrors.HasCode(err, apperrors.ModelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repos.Models.RemovePrediction(ctx, userID, owner.ID, id)
}

// Load returns a dataframe's metadata and table, verifying they agree on the column set
func (s *DataFrameService) Load(ctx context.Context, userID, id string) (*models.DataFrameMetadata, *frame.DataFrame, error) {
	meta, err := s.repos.DataFrames.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	df, err := s.storage.ReadDataFrame(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if !df.SameColumnSet(meta.FeatureColumnsTypes.All()) {
		return nil, nil, apperrors.New(apperrors.ColumnsNotEqual, "dataframe %q columns differ from its metadata", meta.Filename).
			With("dataframe_columns", df.Columns()).
			With("metadata_columns", meta.FeatureColumnsTypes.All())
	}
	return meta, df, nil
}

// FeatureTargetSupervised splits a dataframe into features and its target; the
// target must be set
func (s *DataFrameService) FeatureTargetSupervised(ctx context.Context, userID, id string) (*frame.DataFrame, *frame.Series, error) {
	meta, df, err := s.Load(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if meta.TargetFeature == nil {
		return nil, nil, apperrors.New(apperrors.TargetNotFound, "dataframe %q has no target feature", meta.Filename)
	}
	return splitFeatures(meta, df)
}

// FeatureTarget splits a dataframe into features and its target, which is nil when unset
func (s *DataFrameService) FeatureTarget(ctx context.Context, userID, id string) (*frame.DataFrame, *frame.Series, error) {
	meta, df, err := s.Load(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	return splitFeatures(meta, df)
}

func splitFeatures(meta *models.DataFrameMetadata, df *frame.DataFrame) (*frame.DataFrame, *frame.Series, error) {
	categorical := slices.Clone(meta.FeatureColumnsTypes.Categorical)
	var target *frame.Series
	features := df
	if meta.TargetFeature != nil {
		name := *meta.TargetFeature
		if !meta.FeatureColumnsTypes.Contains(name) {
			return nil, nil, apperrors.New(apperrors.TargetNotInColumnTypes, "target feature %q missing from column types", name)
		}
		target, _ = df.Column(name)
		features = df.Drop(name)
		categorical = slices.DeleteFunc(categorical, func(c string) bool { return c == name })
	}
	if len(categorical) > 0 {
		return nil, nil, apperrors.New(apperrors.CategoricalColumnFound, "categorical columns remain among the features of %q", meta.Filename).
			With("columns", categorical)
	}
	return features, target, nil
}

// Dataset loads the encoded training data of a dataframe for a task
func (s *DataFrameService) Dataset(ctx context.Context, userID, dataframeID string, task models.TaskType) (*training.Dataset, error) {
	var (
		features *frame.DataFrame
		target   *frame.Series
		err      error
	)
	if task.IsSupervised() {
		features, target, err = s.FeatureTargetSupervised(ctx, userID, dataframeID)
	} else {
		features, _, err = s.FeatureTarget(ctx, userID, dataframeID)
	}
	if err != nil {
		return nil, err
	}
	ds, err := training.NewDataset(task, features, target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ParamsSearching, err, "cannot prepare search data")
	}
	return ds, nil
}

// ApplyMethods runs methods on a dataframe and saves the result as its child
func (s *DataFrameService) ApplyMethods(ctx context.Context, userID, id string, steps []models.ApplyMethodParams) (*models.DataFrameMetadata, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.InvalidRequest, "at least one method is required")
	}
	return s.recorder.Record(ctx, userID, id, steps)
}

// ChangeColumnType reclassifies one column as numeric or categorical
func (s *DataFrameService) ChangeColumnType(ctx context.Context, userID, id, column, newType string) (*models.DataFrameMetadata, error) {
	return s.recorder.Record(ctx, userID, id, []models.ApplyMethodParams{{
		MethodName: methods.ChangeColumnsType,
		Columns:    []string{column},
		Params:     map[string]any{"new_type": newType},
	}})
}

// DeleteColumn drops one column
func (s *DataFrameService) DeleteColumn(ctx context.Context, userID, id, column string) (*models.DataFrameMetadata, error) {
	return s.recorder.Record(ctx, userID, id, []models.ApplyMethodParams{{
		MethodName: methods.DropColumns,
		Columns:    []string{column},
		Params:     map[string]any{},
	}})
}

// CopyPipeline replays the source's pipeline on the target and saves the result
func (s *DataFrameService) CopyPipeline(ctx context.Context, userID, sourceID, targetID string) (*models.DataFrameMetadata, error) {
	return s.recorder.CopyPipeline(ctx, userID, sourceID, targetID)
}

// ValidateSelectors checks selector names and params before a job is queued
func (s *DataFrameService) ValidateSelectors(selectors []selection.Method) error {
	if len(selectors) == 0 {
		return apperrors.New(apperrors.InvalidRequest, "at least one selector is required")
	}
	return s.summariser.Validate(selectors)
}

// FeatureImportances runs the selectors and stores the cross-method summary. An
// empty summary is stored first and cleared again when the run fails.
func (s *DataFrameService) FeatureImportances(ctx context.Context, userID, id string, task models.TaskType, selectors []selection.Method) (*models.FeatureImportanceReport, error) {
	if err := s.ValidateSelectors(selectors); err != nil {
		return nil, err
	}
	if task != models.TaskClassification && task != models.TaskRegression {
		return nil, apperrors.New(apperrors.UnknownTaskType, "feature selection supports classification and regression, got %q", task).
			With("task_type", string(task))
	}
	features, target, err := s.FeatureTargetSupervised(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.setImportances(ctx, userID, id, selection.EmptyReport(features.Columns(), selectors)); err != nil {
		return nil, err
	}

	report, err := s.summarise(task, features, target, selectors)
	if err != nil {
		if _, clearErr := s.setImportances(ctx, userID, id, nil); clearErr != nil {
			s.logger.Error("Failed to clear feature importance report", zap.String("dataframe_id", id), zap.Error(clearErr))
		}
		return nil, err
	}
	if _, err := s.setImportances(ctx, userID, id, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *DataFrameService) summarise(task models.TaskType, features *frame.DataFrame, target *frame.Series, selectors []selection.Method) (*models.FeatureImportanceReport, error) {
	ds, err := training.NewDataset(task, features, target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.SelectorProcessing, err, "cannot prepare selection data")
	}
	return s.summariser.Summarise(&selection.Input{
		X:        ds.X,
		Columns:  ds.Features,
		Task:     task,
		Labels:   ds.Labels,
		NClasses: ds.NClasses,
		Target:   ds.Values,
	}, selectors)
}

func (s *DataFrameService) setImportances(ctx context.Context, userID, id string, report *models.FeatureImportanceReport) (*models.DataFrameMetadata, error) {
	return s.repos.DataFrames.Update(ctx, userID, id, func(m *models.DataFrameMetadata) error {
		m.FeatureImportanceReport = report
		return nil
	})
}

// Content returns one page of rows
func (s *DataFrameService) Content(ctx context.Context, userID, id string, page, rowsOnPage int) (*statistics.Page, error) {
	_, df, err := s.Load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return statistics.Window(df, page, rowsOnPage)
}

// Statistics describes every classified column
func (s *DataFrameService) Statistics(ctx context.Context, userID, id string) ([]statistics.Description, error) {
	meta, df, err := s.Load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return statistics.Describe(df, meta.FeatureColumnsTypes, histogramBins)
}

// Correlation returns the Pearson correlation matrix of the numeric columns
func (s *DataFrameService) Correlation(ctx context.Context, userID, id string) (*statistics.CorrelationMatrix, error) {
	meta, df, err := s.Load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return statistics.Correlation(df, meta.FeatureColumnsTypes)
}

// Delete removes a dataframe, its descendants and every model trained on it
func (s *DataFrameService) Delete(ctx context.Context, userID, id string) error {
	meta, err := s.repos.DataFrames.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	children, err := s.repos.DataFrames.ListChildren(ctx, userID, id)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		g.Go(func() error {
			err := s.Delete(gctx, userID, child.ID)
			if apperrors.HasCode(err, apperrors.DataFrameNotFound) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	owned, err := s.repos.Models.ListByDataFrame(ctx, userID, id)
	if err != nil {
		return err
	}
	if len(owned) > 0 && s.models == nil {
		return errors.New("model deleter not configured")
	}
	for _, m := range owned {
		if err := s.models.DeleteModel(ctx, userID, m.ID); err != nil && !apperrors.HasCode(err, apperrors.ModelNotFound) {
			return err
		}
	}

	if meta.IsPrediction {
		if err := s.unlinkPrediction(ctx, userID, id); err != nil {
			return err
		}
	}
	if err := s.storage.DeleteDataFrame(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repos.DataFrames.Delete(ctx, userID, id); err != nil {
		return err
	}

	s.logger.Info("Dataframe deleted",
		zap.String("user_id", userID),
		zap.String("dataframe_id", id),
		zap.Int("children", len(children)),
		zap.Int("models", len(owned)))
	return nil
}
