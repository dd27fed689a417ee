package services

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/pipeline"
	"github.com/aegisshield/ml-workbench/internal/reports"
	"github.com/aegisshield/ml-workbench/internal/storage"
	"github.com/aegisshield/ml-workbench/internal/training"
)

const (
	defaultModelCacheTTL = 30 * time.Minute
	defaultTestSize      = 0.2
)

// CreateModelRequest describes a model to create
type CreateModelRequest struct {
	Filename    string             `json:"model_name" binding:"required"`
	DataFrameID string             `json:"dataframe_id" binding:"required"`
	TaskType    models.TaskType    `json:"task_type" binding:"required"`
	ModelParams models.ModelParams `json:"model_params"`
	ParamsType  models.ParamsType  `json:"params_type" binding:"required"`
	TestSize    *float64           `json:"test_size"`
	Stratify    bool               `json:"stratify"`
}

// CreateCompositionRequest describes a composition of trained models
type CreateCompositionRequest struct {
	Filename        string         `json:"model_name" binding:"required"`
	ModelIDs        []string       `json:"model_ids" binding:"required"`
	CompositionType string         `json:"composition_type" binding:"required"`
	Params          map[string]any `json:"composition_params"`
	TestSize        *float64       `json:"test_size"`
	Stratify        *bool          `json:"stratify"`
}

// PredictRequest describes a prediction run
type PredictRequest struct {
	DataFrameID    string `json:"dataframe_id" binding:"required"`
	ModelID        string `json:"model_id" binding:"required"`
	PredictionName string `json:"prediction_name"`
	ApplyPipeline  bool   `json:"apply_pipeline"`
}

// ModelService runs the model lifecycle: creation, training, composition and prediction
type ModelService struct {
	repos      *database.Repositories
	storage    storage.Service
	dataframes *DataFrameService
	recorder   *pipeline.Recorder
	validator  *params.Validator
	trainer    *training.Trainer
	bundles    *cache.Cache
	metrics    *monitoring.Collector
	logger     *zap.Logger
}

// NewModelService creates the model service and registers it for cascading dataframe deletes
func NewModelService(
	repos *database.Repositories,
	store storage.Service,
	dataframes *DataFrameService,
	recorder *pipeline.Recorder,
	validator *params.Validator,
	trainer *training.Trainer,
	metrics *monitoring.Collector,
	cfg config.MLConfig,
	logger *zap.Logger,
) *ModelService {
	ttl := cfg.ModelCacheTTL
	if ttl <= 0 {
		ttl = defaultModelCacheTTL
	}
	s := &ModelService{
		repos:      repos,
		storage:    store,
		dataframes: dataframes,
		recorder:   recorder,
		validator:  validator,
		trainer:    trainer,
		bundles:    cache.New(ttl, 2*ttl),
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "model_service")),
	}
	dataframes.SetModelDeleter(s)
	return s
}

// CreateModel validates a model request and stores the model as Waiting. The
// dataframe's feature columns are captured at creation.
func (s *ModelService) CreateModel(ctx context.Context, userID string, req CreateModelRequest) (*models.ModelMetadata, error) {
	if !slices.Contains(models.TaskTypes, req.TaskType) {
		return nil, apperrors.New(apperrors.UnknownTaskType, "unknown task type %q", req.TaskType).
			With("task_type", string(req.TaskType))
	}
	if !slices.Contains(models.ParamsTypes, req.ParamsType) {
		return nil, apperrors.New(apperrors.UnknownParamsType, "unknown params type %q", req.ParamsType).
			With("params_type", string(req.ParamsType))
	}
	testSize := defaultTestSize
	if req.TestSize != nil {
		testSize = *req.TestSize
	}
	if req.TaskType.IsSupervised() && (testSize <= 0 || testSize >= 1) {
		return nil, apperrors.New(apperrors.InvalidTestSize, "test_size must lie in (0, 1), got %v", testSize).
			With("test_size", testSize)
	}

	dfMeta, df, err := s.dataframes.Load(ctx, userID, req.DataFrameID)
	if err != nil {
		return nil, err
	}
	if req.TaskType.IsSupervised() && dfMeta.TargetFeature == nil {
		return nil, apperrors.New(apperrors.TargetColumnRequired, "%s needs a target feature on dataframe %q", req.TaskType, dfMeta.Filename)
	}

	modelParams := req.ModelParams
	if modelParams.Params == nil {
		modelParams.Params = map[string]any{}
	}
	if req.ParamsType == models.ParamsHyperopt {
		if _, err := params.SchemaFor(req.TaskType, modelParams.ModelType); err != nil {
			return nil, err
		}
	} else {
		validated, err := s.validator.Validate(ctx, userID, req.TaskType, modelParams, req.ParamsType, req.DataFrameID)
		if err != nil {
			return nil, err
		}
		modelParams = *validated
	}

	features := df.Columns()
	if dfMeta.TargetFeature != nil {
		features = slices.DeleteFunc(features, func(c string) bool { return c == *dfMeta.TargetFeature })
	}

	meta := &models.ModelMetadata{
		ID:                  models.NewID(),
		UserID:              userID,
		Filename:            req.Filename,
		DataFrameID:         req.DataFrameID,
		TaskType:            req.TaskType,
		ModelParams:         modelParams,
		ParamsType:          req.ParamsType,
		FeatureColumns:      features,
		TargetColumn:        copyString(dfMeta.TargetFeature),
		TestSize:            testSize,
		Stratify:            req.Stratify,
		CompositionModelIDs: []string{},
		Status:              models.ModelStatusWaiting,
		MetricsReportIDs:    []string{},
		ModelPredictionIDs:  []string{},
	}
	if err := s.repos.Models.Create(ctx, meta); err != nil {
		return nil, err
	}

	s.logger.Info("Model created",
		zap.String("user_id", userID),
		zap.String("model_id", meta.ID),
		zap.String("task_type", string(meta.TaskType)),
		zap.String("model_type", meta.ModelParams.ModelType))
	return meta, nil
}

// CreateComposition checks member homogeneity and stores the composition as Waiting
func (s *ModelService) CreateComposition(ctx context.Context, userID string, req CreateCompositionRequest) (*models.ModelMetadata, error) {
	members, frames, err := s.loadMembers(ctx, userID, req.ModelIDs)
	if err != nil {
		return nil, err
	}
	if err := training.CheckMembers(req.CompositionType, members, frames); err != nil {
		return nil, err
	}
	clean, err := params.ValidateComposition(req.CompositionType, req.Params)
	if err != nil {
		return nil, err
	}

	first := members[0]
	testSize := first.TestSize
	if req.TestSize != nil {
		testSize = *req.TestSize
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, apperrors.New(apperrors.InvalidTestSize, "test_size must lie in (0, 1), got %v", testSize).
			With("test_size", testSize)
	}
	stratify := first.Stratify
	if req.Stratify != nil {
		stratify = *req.Stratify
	}

	meta := &models.ModelMetadata{
		ID:                  models.NewID(),
		UserID:              userID,
		Filename:            req.Filename,
		DataFrameID:         first.DataFrameID,
		IsComposition:       true,
		TaskType:            first.TaskType,
		ModelParams:         models.ModelParams{ModelType: req.CompositionType, Params: clean},
		ParamsType:          models.ParamsCustom,
		FeatureColumns:      slices.Clone(first.FeatureColumns),
		TargetColumn:        copyString(first.TargetColumn),
		TestSize:            testSize,
		Stratify:            stratify,
		CompositionModelIDs: slices.Clone(req.ModelIDs),
		Status:              models.ModelStatusWaiting,
		MetricsReportIDs:    []string{},
		ModelPredictionIDs:  []string{},
	}
	if err := s.repos.Models.Create(ctx, meta); err != nil {
		return nil, err
	}

	s.logger.Info("Composition created",
		zap.String("user_id", userID),
		zap.String("model_id", meta.ID),
		zap.String("composition_type", req.CompositionType),
		zap.Strings("members", req.ModelIDs))
	return meta, nil
}

func (s *ModelService) loadMembers(ctx context.Context, userID string, ids []string) ([]*models.ModelMetadata, map[string]*models.DataFrameMetadata, error) {
	members := make([]*models.ModelMetadata, 0, len(ids))
	frames := make(map[string]*models.DataFrameMetadata)
	for _, id := range ids {
		m, err := s.repos.Models.Get(ctx, userID, id)
		if err != nil {
			return nil, nil, err
		}
		members = append(members, m)
		if _, seen := frames[m.DataFrameID]; seen {
			continue
		}
		df, err := s.repos.DataFrames.Get(ctx, userID, m.DataFrameID)
		if err != nil && !apperrors.HasCode(err, apperrors.DataFrameNotFound) {
			return nil, nil, err
		}
		frames[m.DataFrameID] = df
	}
	return members, frames, nil
}

// Train runs the lifecycle of a single model: Waiting → Building → Training → Trained.
// Any failure flips the model to Problem and records an Error report.
func (s *ModelService) Train(ctx context.Context, userID, id string) (*models.ModelMetadata, error) {
	meta, err := s.startable(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	err = s.guard(ctx, meta, func() error {
		if err := s.repos.Models.SetStatus(ctx, userID, id, models.ModelStatusBuilding); err != nil {
			return err
		}
		validated, err := s.validator.Validate(ctx, userID, meta.TaskType, meta.ModelParams, meta.ParamsType, meta.DataFrameID)
		if err != nil {
			return err
		}
		if meta, err = s.repos.Models.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
			m.ModelParams = *validated
			return nil
		}); err != nil {
			return err
		}
		model, err := estimators.New(meta.TaskType, validated.ModelType, validated.Params)
		if err != nil {
			return apperrors.Wrap(apperrors.ModelConstruction, err, "cannot construct %s", validated.ModelType)
		}
		features, ds, err := s.trainingData(ctx, meta)
		if err != nil {
			return err
		}
		return s.fit(ctx, meta, model, features, ds)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Models.Get(ctx, userID, id)
}

// BuildComposition assembles the trained members of a composition and scores it
func (s *ModelService) BuildComposition(ctx context.Context, userID, id string) (*models.ModelMetadata, error) {
	meta, err := s.startable(ctx, userID, id, true)
	if err != nil {
		return nil, err
	}
	err = s.guard(ctx, meta, func() error {
		if err := s.repos.Models.SetStatus(ctx, userID, id, models.ModelStatusBuilding); err != nil {
			return err
		}
		members, frames, err := s.loadMembers(ctx, userID, meta.CompositionModelIDs)
		if err != nil {
			return err
		}
		kind := meta.ModelParams.ModelType
		if err := training.CheckMembers(kind, members, frames); err != nil {
			return err
		}
		bundles := make([]*estimators.Bundle, len(members))
		for i, m := range members {
			if bundles[i], err = s.loadBundle(ctx, m); err != nil {
				return err
			}
		}
		features, ds, err := s.trainingData(ctx, meta)
		if err != nil {
			return err
		}
		model, err := training.NewComposition(kind, bundles, meta.ModelParams.Params, ds)
		if err != nil {
			return err
		}
		return s.fit(ctx, meta, model, features, ds)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Models.Get(ctx, userID, id)
}

func (s *ModelService) startable(ctx context.Context, userID, id string, composition bool) (*models.ModelMetadata, error) {
	meta, err := s.repos.Models.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if meta.IsComposition != composition {
		if composition {
			return nil, apperrors.New(apperrors.InvalidRequest, "model %q is not a composition", meta.Filename)
		}
		return nil, apperrors.New(apperrors.InvalidRequest, "model %q is a composition; build it instead", meta.Filename)
	}
	if meta.Status != models.ModelStatusWaiting {
		return nil, apperrors.New(apperrors.InvalidRequest, "model %q is %s; only Waiting models can be trained", meta.Filename, meta.Status).
			With("status", string(meta.Status))
	}
	return meta, nil
}

// trainingData loads the model's dataframe restricted to its captured feature columns
func (s *ModelService) trainingData(ctx context.Context, meta *models.ModelMetadata) (*frame.DataFrame, *training.Dataset, error) {
	var (
		all    *frame.DataFrame
		target *frame.Series
		err    error
	)
	if meta.TaskType.IsSupervised() {
		all, target, err = s.dataframes.FeatureTargetSupervised(ctx, meta.UserID, meta.DataFrameID)
	} else {
		all, target, err = s.dataframes.FeatureTarget(ctx, meta.UserID, meta.DataFrameID)
	}
	if err != nil {
		return nil, nil, err
	}
	if meta.TargetColumn != nil && (target == nil || target.Name() != *meta.TargetColumn) {
		return nil, nil, apperrors.New(apperrors.TargetNotFound, "target %q is no longer the dataframe's target", *meta.TargetColumn)
	}
	features, err := all.Select(meta.FeatureColumns...)
	if err != nil || !all.SameColumnSet(meta.FeatureColumns) {
		return nil, nil, apperrors.New(apperrors.FeaturesNotEqual, "dataframe columns differ from the model's feature columns").
			With("dataframe_columns", all.Columns()).
			With("model_columns", meta.FeatureColumns)
	}
	ds, err := s.trainer.Prepare(meta, features, target)
	if err != nil {
		return nil, nil, err
	}
	return features, ds, nil
}

// fit trains a constructed model and persists its outcome. The estimator file is
// written before the status flips to Trained.
func (s *ModelService) fit(ctx context.Context, meta *models.ModelMetadata, model any, features *frame.DataFrame, ds *training.Dataset) error {
	if err := s.repos.Models.SetStatus(ctx, meta.UserID, meta.ID, models.ModelStatusTraining); err != nil {
		return err
	}
	res, err := s.trainer.Train(ctx, meta, model, features, ds)
	if err != nil {
		return err
	}

	for _, r := range res.Reports {
		if err := s.saveReport(ctx, meta, r.Type, r.Body); err != nil {
			return err
		}
	}

	bundle := &estimators.Bundle{
		TaskType:  meta.TaskType,
		ModelType: meta.ModelParams.ModelType,
		Features:  ds.Features,
		Labels:    res.Encoder,
		Model:     res.Model,
		CreatedAt: time.Now().UTC(),
	}
	if meta.TargetColumn != nil {
		bundle.Target = *meta.TargetColumn
	}
	data, err := bundle.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.ModelTraining, err, "cannot serialise the fitted model")
	}
	if err := s.storage.WriteModel(ctx, meta.UserID, meta.ID, data); err != nil {
		return err
	}

	for _, p := range res.Predictions {
		name := fmt.Sprintf("%s_%s_%s", meta.Filename, p.Split, predictionSuffix)
		pred, err := s.dataframes.SavePrediction(ctx, meta.UserID, name, p.Frame)
		if err != nil {
			return err
		}
		if err := s.repos.Models.AppendPrediction(ctx, meta.UserID, meta.ID, pred.ID); err != nil {
			return err
		}
	}

	if err := s.repos.Models.SetStatus(ctx, meta.UserID, meta.ID, models.ModelStatusTrained); err != nil {
		return err
	}
	s.bundles.SetDefault(bundleKey(meta.UserID, meta.ID), bundle)
	s.metrics.ModelsTrained.WithLabelValues(string(meta.TaskType)).Inc()
	return nil
}

// guard runs fn and turns any error or panic into the Problem state
func (s *ModelService) guard(ctx context.Context, meta *models.ModelMetadata, fn func() error) (err error) {
	var stack string
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = apperrors.New(apperrors.Internal, "training panicked: %v", r)
		}
		if err != nil {
			if stack == "" {
				stack = string(debug.Stack())
			}
			s.markProblem(ctx, meta, err, stack)
		}
	}()
	return fn()
}

func (s *ModelService) markProblem(ctx context.Context, meta *models.ModelMetadata, cause error, stack string) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("user_id", meta.UserID), zap.String("model_id", meta.ID))
	logger.Error("Model training failed", zap.Error(cause))

	if err := s.storage.DeleteModel(ctx, meta.UserID, meta.ID); err != nil {
		logger.Error("Failed to remove model file", zap.Error(err))
	}
	s.bundles.Delete(bundleKey(meta.UserID, meta.ID))
	s.dropPredictions(ctx, meta, logger)
	if err := s.repos.Models.SetStatus(ctx, meta.UserID, meta.ID, models.ModelStatusProblem); err != nil {
		logger.Error("Failed to mark model as Problem", zap.Error(err))
	}
	if err := s.saveReport(ctx, meta, models.ReportError, reports.Error(cause, stack)); err != nil {
		logger.Error("Failed to store error report", zap.Error(err))
	}
	s.metrics.ModelsFailed.WithLabelValues(string(meta.TaskType)).Inc()
}

// dropPredictions deletes the prediction dataframes a failed training run already linked
func (s *ModelService) dropPredictions(ctx context.Context, meta *models.ModelMetadata, logger *zap.Logger) {
	current, err := s.repos.Models.Get(ctx, meta.UserID, meta.ID)
	if err != nil {
		logger.Error("Failed to reload model", zap.Error(err))
		return
	}
	// Delete unlinks a prediction itself; ids whose dataframe is already gone are unlinked here
	for _, predID := range current.ModelPredictionIDs {
		err := s.dataframes.Delete(ctx, meta.UserID, predID)
		if apperrors.HasCode(err, apperrors.DataFrameNotFound) {
			err = s.repos.Models.RemovePrediction(ctx, meta.UserID, meta.ID, predID)
		}
		if err != nil {
			logger.Error("Failed to remove prediction dataframe", zap.String("dataframe_id", predID), zap.Error(err))
		}
	}
}

func (s *ModelService) saveReport(ctx context.Context, meta *models.ModelMetadata, kind models.ReportType, body reports.Body) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	report := &models.Report{
		ID:          models.NewID(),
		UserID:      meta.UserID,
		ModelID:     meta.ID,
		DataFrameID: meta.DataFrameID,
		TaskType:    meta.TaskType,
		ReportType:  kind,
		Body:        datatypes.JSON(data),
	}
	if err := s.repos.Reports.Create(ctx, report); err != nil {
		return err
	}
	return s.repos.Models.AppendReport(ctx, meta.UserID, meta.ID, report.ID)
}

// loadBundle returns a trained model's fitted estimator, from cache when possible
func (s *ModelService) loadBundle(ctx context.Context, meta *models.ModelMetadata) (*estimators.Bundle, error) {
	if meta.Status != models.ModelStatusTrained {
		return nil, apperrors.New(apperrors.ModelNotTrained, "model %q is %s", meta.Filename, meta.Status).
			With("model_id", meta.ID).
			With("status", string(meta.Status))
	}
	key := bundleKey(meta.UserID, meta.ID)
	if cached, ok := s.bundles.Get(key); ok {
		return cached.(*estimators.Bundle), nil
	}
	if !s.storage.ModelExists(ctx, meta.UserID, meta.ID) {
		return nil, apperrors.New(apperrors.TrainedModelFileMissing, "trained model %q has no estimator file", meta.Filename).
			With("model_id", meta.ID)
	}
	data, err := s.storage.ReadModel(ctx, meta.UserID, meta.ID)
	if err != nil {
		return nil, err
	}
	bundle, err := estimators.UnmarshalBundle(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "cannot load model %q", meta.Filename)
	}
	s.bundles.SetDefault(key, bundle)
	return bundle, nil
}

// Predict runs a trained model on a dataframe and stores the result as a
// prediction dataframe linked to the model
func (s *ModelService) Predict(ctx context.Context, userID string, req PredictRequest) (*models.DataFrameMetadata, error) {
	meta, err := s.repos.Models.Get(ctx, userID, req.ModelID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.loadBundle(ctx, meta)
	if err != nil {
		return nil, err
	}

	sourceMeta, df, err := s.dataframes.Load(ctx, userID, req.DataFrameID)
	if err != nil {
		return nil, err
	}
	if req.ApplyPipeline {
		trainedOn, err := s.repos.DataFrames.Get(ctx, userID, meta.DataFrameID)
		if err != nil {
			return nil, err
		}
		replayed, err := s.recorder.ReplayOn(df, sourceMeta, trainedOn.Pipeline)
		if err != nil {
			return nil, err
		}
		df = replayed.DataFrame
	}

	features := df
	if meta.TargetColumn != nil && df.Has(*meta.TargetColumn) {
		features = df.Drop(*meta.TargetColumn)
	}
	if !features.SameColumnSet(meta.FeatureColumns) {
		return nil, apperrors.New(apperrors.FeaturesNotEqual, "dataframe features differ from the model's feature columns").
			With("dataframe_columns", features.Columns()).
			With("model_columns", meta.FeatureColumns)
	}
	if features, err = features.Select(meta.FeatureColumns...); err != nil {
		return nil, apperrors.Wrap(apperrors.FeaturesNotEqual, err, "cannot order features")
	}

	out, err := training.Predict(bundle, features)
	if err != nil {
		return nil, err
	}

	name := req.PredictionName
	if name == "" {
		name = fmt.Sprintf("%s_%s", meta.Filename, predictionSuffix)
	}
	pred, err := s.dataframes.SavePrediction(ctx, userID, name, out)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Models.AppendPrediction(ctx, userID, meta.ID, pred.ID); err != nil {
		return nil, err
	}
	s.metrics.Predictions.WithLabelValues(string(meta.TaskType)).Inc()

	s.logger.Info("Prediction stored",
		zap.String("user_id", userID),
		zap.String("model_id", meta.ID),
		zap.String("source_id", req.DataFrameID),
		zap.String("dataframe_id", pred.ID),
		zap.Int("rows", out.NRows()))
	return pred, nil
}

// DeleteModel removes a model's prediction dataframes, reports, estimator file and metadata
func (s *ModelService) DeleteModel(ctx context.Context, userID, id string) error {
	meta, err := s.repos.Models.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	for _, predID := range meta.ModelPredictionIDs {
		if err := s.dataframes.Delete(ctx, userID, predID); err != nil && !apperrors.HasCode(err, apperrors.DataFrameNotFound) {
			return err
		}
	}
	if err := s.repos.Reports.DeleteByModel(ctx, userID, id); err != nil {
		return err
	}
	if err := s.storage.DeleteModel(ctx, userID, id); err != nil {
		return err
	}
	s.bundles.Delete(bundleKey(userID, id))
	if err := s.repos.Models.Delete(ctx, userID, id); err != nil {
		return err
	}

	s.logger.Info("Model deleted",
		zap.String("user_id", userID),
		zap.String("model_id", id),
		zap.Int("predictions", len(meta.ModelPredictionIDs)))
	return nil
}

// Get returns a model's metadata
func (s *ModelService) Get(ctx context.Context, userID, id string) (*models.ModelMetadata, error) {
	return s.repos.Models.Get(ctx, userID, id)
}

// List returns every model of a user
func (s *ModelService) List(ctx context.Context, userID string) ([]models.ModelMetadata, error) {
	return s.repos.Models.List(ctx, userID)
}

// ListByDataFrame returns the models trained on a dataframe
func (s *ModelService) ListByDataFrame(ctx context.Context, userID, dataframeID string) ([]models.ModelMetadata, error) {
	return s.repos.Models.ListByDataFrame(ctx, userID, dataframeID)
}

// Rename changes a model's filename
func (s *ModelService) Rename(ctx context.Context, userID, id, filename string) (*models.ModelMetadata, error) {
	if filename == "" {
		return nil, apperrors.New(apperrors.InvalidRequest, "new filename is required")
	}
	current, err := s.repos.Models.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if current.Filename == filename {
		return current, nil
	}
	exists, err := s.repos.Models.FilenameExists(ctx, userID, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.New(apperrors.FilenameExists, "model %q already exists", filename).
			With("filename", filename)
	}
	return s.repos.Models.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
		m.Filename = filename
		return nil
	})
}

// DownloadPath returns the estimator file of a trained model and the name to serve it under
func (s *ModelService) DownloadPath(ctx context.Context, userID, id string) (path, filename string, err error) {
	meta, err := s.repos.Models.Get(ctx, userID, id)
	if err != nil {
		return "", "", err
	}
	if meta.Status != models.ModelStatusTrained {
		return "", "", apperrors.New(apperrors.ModelNotTrained, "model %q is %s", meta.Filename, meta.Status)
	}
	if !s.storage.ModelExists(ctx, userID, id) {
		return "", "", apperrors.New(apperrors.TrainedModelFileMissing, "trained model %q has no estimator file", meta.Filename)
	}
	return s.storage.ModelPath(userID, id), meta.Filename + ".joblib", nil
}

func bundleKey(userID, id string) string {
	return userID + "/" + id
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
