package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// updateDocument loads one document under its id lock, applies fn and saves the result
// in a single transaction.
func updateDocument[T any](ctx context.Context, db *Database, userID, id string, notFound apperrors.Code, what string, fn func(*T) error) (*T, error) {
	unlock := db.locks.Lock(id)
	defer unlock()

	var doc T
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND id = ?", userID, id).First(&doc).Error; err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return tx.Save(&doc).Error
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, translate(err, notFound, what)
	}
	return &doc, nil
}

// DataFrameRepository provides database operations for dataframe metadata
type DataFrameRepository struct {
	db *Database
}

// NewDataFrameRepository creates a new dataframe repository
func NewDataFrameRepository(db *Database) *DataFrameRepository {
	return &DataFrameRepository{db: db}
}

// Create inserts metadata; a taken (user_id, filename) pair fails with FilenameExists
func (r *DataFrameRepository) Create(ctx context.Context, meta *models.DataFrameMetadata) error {
	exists, err := r.FilenameExists(ctx, meta.UserID, meta.Filename)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.New(apperrors.FilenameExists, "dataframe %q already exists", meta.Filename).
			With("filename", meta.Filename)
	}
	return translate(r.db.WithContext(ctx).Create(meta).Error, apperrors.DataFrameNotFound, "dataframe")
}

// Get retrieves a user's dataframe metadata by id
func (r *DataFrameRepository) Get(ctx context.Context, userID, id string) (*models.DataFrameMetadata, error) {
	var meta models.DataFrameMetadata
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&meta).Error
	if err != nil {
		return nil, translate(err, apperrors.DataFrameNotFound, "dataframe")
	}
	return &meta, nil
}

// List returns every dataframe of a user, oldest first
func (r *DataFrameRepository) List(ctx context.Context, userID string) ([]models.DataFrameMetadata, error) {
	var metas []models.DataFrameMetadata
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&metas).Error
	return metas, translate(err, apperrors.DataFrameNotFound, "dataframe")
}

// ListChildren returns the direct children of a dataframe
func (r *DataFrameRepository) ListChildren(ctx context.Context, userID, parentID string) ([]models.DataFrameMetadata, error) {
	var metas []models.DataFrameMetadata
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND parent_id = ?", userID, parentID).
		Order("created_at, id").
		Find(&metas).Error
	return metas, translate(err, apperrors.DataFrameNotFound, "dataframe")
}

// FilenameExists reports whether a user already owns a dataframe with this filename
func (r *DataFrameRepository) FilenameExists(ctx context.Context, userID, filename string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DataFrameMetadata{}).
		Where("user_id = ? AND filename = ?", userID, filename).
		Count(&count).Error
	if err != nil {
		return false, translate(err, apperrors.DataFrameNotFound, "dataframe")
	}
	return count > 0, nil
}

// Update applies fn to the stored document and saves it
func (r *DataFrameRepository) Update(ctx context.Context, userID, id string, fn func(*models.DataFrameMetadata) error) (*models.DataFrameMetadata, error) {
	return updateDocument(ctx, r.db, userID, id, apperrors.DataFrameNotFound, "dataframe", fn)
}

// Delete removes the metadata document
func (r *DataFrameRepository) Delete(ctx context.Context, userID, id string) error {
	unlock := r.db.locks.Lock(id)
	defer unlock()

	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.DataFrameMetadata{})
	if res.Error != nil {
		return translate(res.Error, apperrors.DataFrameNotFound, "dataframe")
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.DataFrameNotFound, "dataframe not found")
	}
	return nil
}

// ModelRepository provides database operations for model metadata
type ModelRepository struct {
	db *Database
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *Database) *ModelRepository {
	return &ModelRepository{db: db}
}

// Create inserts metadata; a taken (user_id, filename) pair fails with FilenameExists
func (r *ModelRepository) Create(ctx context.Context, meta *models.ModelMetadata) error {
	exists, err := r.FilenameExists(ctx, meta.UserID, meta.Filename)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.New(apperrors.FilenameExists, "model %q already exists", meta.Filename).
			With("filename", meta.Filename)
	}
	return translate(r.db.WithContext(ctx).Create(meta).Error, apperrors.ModelNotFound, "model")
}

// Get retrieves a user's model metadata by id
func (r *ModelRepository) Get(ctx context.Context, userID, id string) (*models.ModelMetadata, error) {
	var meta models.ModelMetadata
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&meta).Error
	if err != nil {
		return nil, translate(err, apperrors.ModelNotFound, "model")
	}
	return &meta, nil
}

// List returns every model of a user
func (r *ModelRepository) List(ctx context.Context, userID string) ([]models.ModelMetadata, error) {
	var metas []models.ModelMetadata
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&metas).Error
	return metas, translate(err, apperrors.ModelNotFound, "model")
}

// ListByDataFrame returns the models trained on a dataframe
func (r *ModelRepository) ListByDataFrame(ctx context.Context, userID, dataframeID string) ([]models.ModelMetadata, error) {
	var metas []models.ModelMetadata
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND dataframe_id = ?", userID, dataframeID).
		Order("created_at, id").
		Find(&metas).Error
	return metas, translate(err, apperrors.ModelNotFound, "model")
}

// FindByPrediction returns the model that owns a prediction dataframe, if any
func (r *ModelRepository) FindByPrediction(ctx context.Context, userID, predictionID string) (*models.ModelMetadata, error) {
	var metas []models.ModelMetadata
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND model_prediction_ids LIKE ?", userID, fmt.Sprintf("%%%q%%", predictionID)).
		Find(&metas).Error
	if err != nil {
		return nil, translate(err, apperrors.ModelNotFound, "model")
	}
	for i := range metas {
		for _, id := range metas[i].ModelPredictionIDs {
			if id == predictionID {
				return &metas[i], nil
			}
		}
	}
	return nil, apperrors.New(apperrors.ModelNotFound, "no model owns prediction %s", predictionID)
}

// FilenameExists reports whether a user already owns a model with this filename
func (r *ModelRepository) FilenameExists(ctx context.Context, userID, filename string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ModelMetadata{}).
		Where("user_id = ? AND filename = ?", userID, filename).
		Count(&count).Error
	if err != nil {
		return false, translate(err, apperrors.ModelNotFound, "model")
	}
	return count > 0, nil
}

// Update applies fn to the stored document and saves it
func (r *ModelRepository) Update(ctx context.Context, userID, id string, fn func(*models.ModelMetadata) error) (*models.ModelMetadata, error) {
	return updateDocument(ctx, r.db, userID, id, apperrors.ModelNotFound, "model", fn)
}

// SetStatus persists a lifecycle transition
func (r *ModelRepository) SetStatus(ctx context.Context, userID, id string, status models.ModelStatus) error {
	_, err := r.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
		m.Status = status
		return nil
	})
	return err
}

// AppendReport links a report to a model
func (r *ModelRepository) AppendReport(ctx context.Context, userID, id, reportID string) error {
	_, err := r.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
		m.MetricsReportIDs = append(m.MetricsReportIDs, reportID)
		return nil
	})
	return err
}

// AppendPrediction links a prediction dataframe to a model
func (r *ModelRepository) AppendPrediction(ctx context.Context, userID, id, dataframeID string) error {
	_, err := r.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
		m.ModelPredictionIDs = append(m.ModelPredictionIDs, dataframeID)
		return nil
	})
	return err
}

// RemovePrediction unlinks a prediction dataframe from a model
func (r *ModelRepository) RemovePrediction(ctx context.Context, userID, id, dataframeID string) error {
	_, err := r.Update(ctx, userID, id, func(m *models.ModelMetadata) error {
		kept := m.ModelPredictionIDs[:0]
		for _, p := range m.ModelPredictionIDs {
			if p != dataframeID {
				kept = append(kept, p)
			}
		}
		m.ModelPredictionIDs = kept
		return nil
	})
	return err
}

// Delete removes the metadata document
func (r *ModelRepository) Delete(ctx context.Context, userID, id string) error {
	unlock := r.db.locks.Lock(id)
	defer unlock()

	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.ModelMetadata{})
	if res.Error != nil {
		return translate(res.Error, apperrors.ModelNotFound, "model")
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.ModelNotFound, "model not found")
	}
	return nil
}

// ReportRepository provides database operations for training reports
type ReportRepository struct {
	db *Database
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *Database) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a report
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	return translate(r.db.WithContext(ctx).Create(report).Error, apperrors.ReportNotFound, "report")
}

// Get retrieves a user's report by id
func (r *ReportRepository) Get(ctx context.Context, userID, id string) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&report).Error
	if err != nil {
		return nil, translate(err, apperrors.ReportNotFound, "report")
	}
	return &report, nil
}

// List returns every report of a user
func (r *ReportRepository) List(ctx context.Context, userID string) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&reports).Error
	return reports, translate(err, apperrors.ReportNotFound, "report")
}

// ListByDataFrame returns the reports scored on a dataframe
func (r *ReportRepository) ListByDataFrame(ctx context.Context, userID, dataframeID string) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND dataframe_id = ?", userID, dataframeID).
		Order("created_at, id").
		Find(&reports).Error
	return reports, translate(err, apperrors.ReportNotFound, "report")
}

// ListByModel returns the reports of a model
func (r *ReportRepository) ListByModel(ctx context.Context, userID, modelID string) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND model_id = ?", userID, modelID).
		Order("created_at, id").
		Find(&reports).Error
	return reports, translate(err, apperrors.ReportNotFound, "report")
}

// DeleteByModel removes every report of a model
func (r *ReportRepository) DeleteByModel(ctx context.Context, userID, modelID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND model_id = ?", userID, modelID).
		Delete(&models.Report{}).Error
	return translate(err, apperrors.ReportNotFound, "report")
}

// JobRepository provides database operations for background jobs
type JobRepository struct {
	db *Database
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *Database) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a job
func (r *JobRepository) Create(ctx context.Context, job *models.BackgroundJob) error {
	return translate(r.db.WithContext(ctx).Create(job).Error, apperrors.JobNotFound, "job")
}

// Get retrieves a user's job by id
func (r *JobRepository) Get(ctx context.Context, userID, id string) (*models.BackgroundJob, error) {
	var job models.BackgroundJob
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&job).Error
	if err != nil {
		return nil, translate(err, apperrors.JobNotFound, "job")
	}
	return &job, nil
}

// List returns every job of a user, newest first
func (r *JobRepository) List(ctx context.Context, userID string) ([]models.BackgroundJob, error) {
	var jobs []models.BackgroundJob
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("started_at DESC, id").Find(&jobs).Error
	return jobs, translate(err, apperrors.JobNotFound, "job")
}

// ListByObject returns the jobs that ran against one dataframe or model
func (r *JobRepository) ListByObject(ctx context.Context, userID string, objectType models.ObjectType, objectID string) ([]models.BackgroundJob, error) {
	var jobs []models.BackgroundJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND object_type = ? AND object_id = ?", userID, objectType, objectID).
		Order("started_at DESC, id").
		Find(&jobs).Error
	return jobs, translate(err, apperrors.JobNotFound, "job")
}

// Update applies fn to the stored job and saves it
func (r *JobRepository) Update(ctx context.Context, userID, id string, fn func(*models.BackgroundJob) error) (*models.BackgroundJob, error) {
	return updateDocument(ctx, r.db, userID, id, apperrors.JobNotFound, "job", fn)
}

// FailOrphans flips jobs left Waiting or Running by a previous process to Error
func (r *JobRepository) FailOrphans(ctx context.Context, message string) (int64, error) {
	now := time.Now().UTC()
	errorType := "ServiceRestarted"
	res := r.db.WithContext(ctx).Model(&models.BackgroundJob{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusWaiting, models.JobStatusRunning}).
		Updates(map[string]any{
			"status":         models.JobStatusError,
			"output_message": message,
			"error_type":     errorType,
			"finished_at":    now,
		})
	if res.Error != nil {
		return 0, translate(res.Error, apperrors.JobNotFound, "job")
	}
	return res.RowsAffected, nil
}
