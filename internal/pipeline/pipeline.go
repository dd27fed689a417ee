// Package pipeline records method applications as child dataframes and replays
// recorded pipelines on other tables.
package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/storage"
)

const (
	modifiedSuffix     = "modified"
	copiedSuffix       = "copy_pipeline"
	defaultNameRetries = 20
)

// Recorder applies methods to stored dataframes and persists the results
type Recorder struct {
	dataframes *database.DataFrameRepository
	storage    storage.Service
	applier    *methods.Applier
	retries    int
	logger     *zap.Logger
}

// NewRecorder creates a recorder; retries bounds filename collision attempts
func NewRecorder(
	dataframes *database.DataFrameRepository,
	store storage.Service,
	applier *methods.Applier,
	retries int,
	logger *zap.Logger,
) *Recorder {
	if retries <= 0 {
		retries = defaultNameRetries
	}
	return &Recorder{
		dataframes: dataframes,
		storage:    store,
		applier:    applier,
		retries:    retries,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
}

// Record applies steps to the source dataframe and saves the result as its child.
// Nothing is persisted when any step fails.
func (r *Recorder) Record(ctx context.Context, userID, sourceID string, steps []models.ApplyMethodParams) (*models.DataFrameMetadata, error) {
	source, err := r.dataframes.Get(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if source.IsPrediction {
		return nil, apperrors.New(apperrors.PredictionDataFrameReadOnly, "prediction dataframe %s cannot be transformed", sourceID)
	}

	df, err := r.storage.ReadDataFrame(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	result, err := r.applier.Apply(df, source, steps)
	if err != nil {
		return nil, err
	}

	suffix := modifiedSuffix
	if len(steps) == 1 {
		suffix = steps[0].MethodName
	}
	child, err := r.SaveChild(ctx, source, result.DataFrame, result.Types, result.Steps, suffix)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Pipeline steps recorded",
		zap.String("user_id", userID),
		zap.String("parent_id", sourceID),
		zap.String("dataframe_id", child.ID),
		zap.Int("steps", len(steps)))
	return child, nil
}

// SaveChild persists df as a child of parent. The child inherits the parent's target
// feature when it survived the transformation and extends the parent's pipeline.
func (r *Recorder) SaveChild(
	ctx context.Context,
	parent *models.DataFrameMetadata,
	df *frame.DataFrame,
	types models.ColumnTypes,
	steps []models.ApplyMethodParams,
	suffix string,
) (*models.DataFrameMetadata, error) {
	pipeline := make([]models.ApplyMethodParams, 0, len(parent.Pipeline)+len(steps))
	pipeline = append(pipeline, parent.Pipeline...)
	pipeline = append(pipeline, steps...)

	var target *string
	if parent.TargetFeature != nil && types.Contains(*parent.TargetFeature) {
		t := *parent.TargetFeature
		target = &t
	}

	parentID := parent.ID
	child := &models.DataFrameMetadata{
		ID:                  models.NewID(),
		UserID:              parent.UserID,
		ParentID:            &parentID,
		FeatureColumnsTypes: types,
		TargetFeature:       target,
		Pipeline:            pipeline,
	}
	if err := r.Persist(ctx, child, df, parent.Filename+"_"+suffix); err != nil {
		return nil, err
	}
	return child, nil
}

// Persist writes the table then creates its metadata under the first free filename
// derived from base. The table is removed again when the metadata cannot be created.
func (r *Recorder) Persist(ctx context.Context, meta *models.DataFrameMetadata, df *frame.DataFrame, base string) error {
	if meta.ID == "" {
		meta.ID = models.NewID()
	}
	if err := r.storage.WriteDataFrame(ctx, meta.UserID, meta.ID, df); err != nil {
		return err
	}

	err := r.createUnique(ctx, meta, base)
	if err != nil {
		if rmErr := r.storage.DeleteDataFrame(ctx, meta.UserID, meta.ID); rmErr != nil {
			r.logger.Error("Failed to remove orphaned dataframe file",
				zap.String("dataframe_id", meta.ID),
				zap.Error(rmErr))
		}
		return err
	}
	return nil
}

func (r *Recorder) createUnique(ctx context.Context, meta *models.DataFrameMetadata, base string) error {
	name := base
	for attempt := 0; attempt <= r.retries; attempt++ {
		meta.Filename = name
		err := r.dataframes.Create(ctx, meta)
		if err == nil {
			return nil
		}
		if !apperrors.HasCode(err, apperrors.FilenameExists) {
			return err
		}
		name = fmt.Sprintf("%s_%d", base, 10+rand.IntN(90))
	}
	return apperrors.New(apperrors.FilenameExists, "no free filename derived from %q after %d attempts", base, r.retries).
		With("filename", base)
}

// Replay runs the source dataframe's full pipeline on the target dataframe's table
// without persisting anything.
func (r *Recorder) Replay(ctx context.Context, userID, sourceID, targetID string) (*methods.Result, error) {
	source, err := r.dataframes.Get(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := r.dataframes.Get(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	df, err := r.storage.ReadDataFrame(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	return r.ReplayOn(df, target, source.Pipeline)
}

// ReplayOn runs a recorded pipeline on an in-memory table described by meta
func (r *Recorder) ReplayOn(df *frame.DataFrame, meta *models.DataFrameMetadata, pipeline []models.ApplyMethodParams) (*methods.Result, error) {
	return r.applier.Replay(df, meta, pipeline)
}

// CopyPipeline replays the source's pipeline on the target and saves the result as
// a child of the target.
func (r *Recorder) CopyPipeline(ctx context.Context, userID, sourceID, targetID string) (*models.DataFrameMetadata, error) {
	target, err := r.dataframes.Get(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsPrediction {
		return nil, apperrors.New(apperrors.PredictionDataFrameReadOnly, "prediction dataframe %s cannot be transformed", targetID)
	}

	result, err := r.Replay(ctx, userID, sourceID, targetID)
	if err != nil {
		return nil, err
	}

	child, err := r.SaveChild(ctx, target, result.DataFrame, result.Types, result.Steps, copiedSuffix)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Pipeline copied",
		zap.String("user_id", userID),
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.String("dataframe_id", child.ID))
	return child, nil
}
