package models

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskType represents the learning task of a model
type TaskType string

const (
	TaskClassification          TaskType = "classification"
	TaskRegression              TaskType = "regression"
	TaskClustering              TaskType = "clustering"
	TaskOutlierDetection        TaskType = "outlier_detection"
	TaskDimensionalityReduction TaskType = "dimensionality_reduction"
)

// TaskTypes lists every task type
var TaskTypes = []TaskType{
	TaskClassification,
	TaskRegression,
	TaskClustering,
	TaskOutlierDetection,
	TaskDimensionalityReduction,
}

// IsSupervised reports whether the task requires a target column
func (t TaskType) IsSupervised() bool {
	return t == TaskClassification || t == TaskRegression
}

// ParamsType represents where a model's hyperparameters come from
type ParamsType string

const (
	ParamsDefault  ParamsType = "default"
	ParamsCustom   ParamsType = "custom"
	ParamsHyperopt ParamsType = "hyperopt"
)

// ParamsTypes lists every params type
var ParamsTypes = []ParamsType{ParamsDefault, ParamsCustom, ParamsHyperopt}

// ModelStatus represents the lifecycle state of a model
type ModelStatus string

const (
	ModelStatusWaiting  ModelStatus = "Waiting"
	ModelStatusBuilding ModelStatus = "Building"
	ModelStatusTraining ModelStatus = "Training"
	ModelStatusTrained  ModelStatus = "Trained"
	ModelStatusProblem  ModelStatus = "Problem"
)

// ModelStatuses lists every model status
var ModelStatuses = []ModelStatus{
	ModelStatusWaiting,
	ModelStatusBuilding,
	ModelStatusTraining,
	ModelStatusTrained,
	ModelStatusProblem,
}

// JobStatus represents the status of a background job
type JobStatus string

const (
	JobStatusWaiting  JobStatus = "Waiting"
	JobStatusRunning  JobStatus = "Running"
	JobStatusComplete JobStatus = "Complete"
	JobStatusError    JobStatus = "Error"
)

// JobStatuses lists every job status
var JobStatuses = []JobStatus{JobStatusWaiting, JobStatusRunning, JobStatusComplete, JobStatusError}

// JobType represents the operation a background job runs
type JobType string

const (
	JobApplyMethods       JobType = "apply_methods"
	JobFeatureImportances JobType = "feature_importances"
	JobTrainModel         JobType = "train_model"
	JobBuildComposition   JobType = "build_composition"
	JobPredictOnModel     JobType = "predict_on_model"
)

// ObjectType represents the kind of entity a job operates on
type ObjectType string

const (
	ObjectDataFrame ObjectType = "dataframe"
	ObjectModel     ObjectType = "model"
)

// ReportType represents the scoring pass a report describes
type ReportType string

const (
	ReportTrain ReportType = "Train"
	ReportValid ReportType = "Valid"
	ReportError ReportType = "Error"
)

// ColumnTypes classifies dataframe columns as numeric or categorical
type ColumnTypes struct {
	Numeric     []string `json:"numeric"`
	Categorical []string `json:"categorical"`
}

// All returns numeric then categorical column names
func (c ColumnTypes) All() []string {
	out := make([]string, 0, len(c.Numeric)+len(c.Categorical))
	out = append(out, c.Numeric...)
	return append(out, c.Categorical...)
}

// Contains reports whether a column is classified
func (c ColumnTypes) Contains(name string) bool {
	return c.IsNumeric(name) || c.IsCategorical(name)
}

func (c ColumnTypes) IsNumeric(name string) bool     { return slices.Contains(c.Numeric, name) }
func (c ColumnTypes) IsCategorical(name string) bool { return slices.Contains(c.Categorical, name) }

// Clone copies both name lists
func (c ColumnTypes) Clone() ColumnTypes {
	return ColumnTypes{
		Numeric:     append([]string{}, c.Numeric...),
		Categorical: append([]string{}, c.Categorical...),
	}
}

// Remove drops a column from whichever list holds it
func (c *ColumnTypes) Remove(name string) {
	c.Numeric = slices.DeleteFunc(c.Numeric, func(n string) bool { return n == name })
	c.Categorical = slices.DeleteFunc(c.Categorical, func(n string) bool { return n == name })
}

// SetNumeric moves or adds a column to the numeric list
func (c *ColumnTypes) SetNumeric(name string) {
	c.Remove(name)
	c.Numeric = append(c.Numeric, name)
}

// SetCategorical moves or adds a column to the categorical list
func (c *ColumnTypes) SetCategorical(name string) {
	c.Remove(name)
	c.Categorical = append(c.Categorical, name)
}

// ApplyMethodParams is one recorded pipeline step
type ApplyMethodParams struct {
	MethodName string         `json:"method_name"`
	Columns    []string       `json:"columns"`
	Params     map[string]any `json:"params"`
}

// FeatureImportanceRow holds one column's values across selection methods
type FeatureImportanceRow struct {
	Column string         `json:"column"`
	Values map[string]any `json:"values"`
}

// FeatureImportanceReport is the per-column cross-method selection summary
type FeatureImportanceReport struct {
	Methods []string               `json:"methods"`
	Rows    []FeatureImportanceRow `json:"rows"`
}

// DataFrameMetadata describes a persisted table
type DataFrameMetadata struct {
	ID                      string                   `gorm:"primaryKey;size:24" json:"id"`
	UserID                  string                   `gorm:"not null;index;uniqueIndex:idx_dataframe_user_filename;size:64" json:"user_id"`
	ParentID                *string                  `gorm:"index;size:24" json:"parent_id"`
	Filename                string                   `gorm:"not null;uniqueIndex:idx_dataframe_user_filename" json:"filename"`
	IsPrediction            bool                     `gorm:"not null;default:false" json:"is_prediction"`
	FeatureColumnsTypes     ColumnTypes              `gorm:"serializer:json" json:"feature_columns_types"`
	TargetFeature           *string                  `json:"target_feature"`
	Pipeline                []ApplyMethodParams      `gorm:"serializer:json" json:"pipeline"`
	FeatureImportanceReport *FeatureImportanceReport `gorm:"serializer:json" json:"feature_importance_report"`
	CreatedAt               time.Time                `json:"created_at"`
}

// TableName returns the collection name for dataframe metadata
func (DataFrameMetadata) TableName() string { return "dataframe_collection" }

// BeforeCreate assigns a document id when none is set
func (d *DataFrameMetadata) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	return nil
}

// ModelParams names an estimator type and its hyperparameters
type ModelParams struct {
	ModelType string         `json:"model_type"`
	Params    map[string]any `json:"params"`
}

// ModelMetadata describes a model or composition
type ModelMetadata struct {
	ID                  string      `gorm:"primaryKey;size:24" json:"id"`
	UserID              string      `gorm:"not null;index;uniqueIndex:idx_model_user_filename;size:64" json:"user_id"`
	Filename            string      `gorm:"not null;uniqueIndex:idx_model_user_filename" json:"filename"`
	DataFrameID         string      `gorm:"not null;index;size:24" json:"dataframe_id"`
	IsComposition       bool        `gorm:"not null;default:false" json:"is_composition"`
	TaskType            TaskType    `gorm:"not null" json:"task_type"`
	ModelParams         ModelParams `gorm:"serializer:json" json:"model_params"`
	ParamsType          ParamsType  `gorm:"not null" json:"params_type"`
	FeatureColumns      []string    `gorm:"serializer:json" json:"feature_columns"`
	TargetColumn        *string     `json:"target_column"`
	TestSize            float64     `json:"test_size"`
	Stratify            bool        `json:"stratify"`
	CompositionModelIDs []string    `gorm:"serializer:json" json:"composition_model_ids"`
	Status              ModelStatus `gorm:"not null;index" json:"status"`
	MetricsReportIDs    []string    `gorm:"serializer:json" json:"metrics_report_ids"`
	ModelPredictionIDs  []string    `gorm:"serializer:json" json:"model_prediction_ids"`
	CreatedAt           time.Time   `json:"created_at"`
}

// TableName returns the collection name for model metadata
func (ModelMetadata) TableName() string { return "model_collection" }

// BeforeCreate assigns a document id when none is set
func (m *ModelMetadata) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// Report is a single scoring pass of a model
type Report struct {
	ID          string         `gorm:"primaryKey;size:24" json:"id"`
	UserID      string         `gorm:"not null;index:idx_report_user_dataframe;index:idx_report_user_model;size:64" json:"user_id"`
	ModelID     string         `gorm:"not null;index:idx_report_user_model;size:24" json:"model_id"`
	DataFrameID string         `gorm:"not null;index:idx_report_user_dataframe;size:24" json:"dataframe_id"`
	TaskType    TaskType       `gorm:"not null" json:"task_type"`
	ReportType  ReportType     `gorm:"not null" json:"report_type"`
	Body        datatypes.JSON `json:"body"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName returns the collection name for reports
func (Report) TableName() string { return "report_collection" }

// BeforeCreate assigns a document id when none is set
func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}

// BackgroundJob is the lifecycle record of a long-running operation
type BackgroundJob struct {
	ID            string            `gorm:"primaryKey;size:24" json:"id"`
	UserID        string            `gorm:"not null;index:idx_job_user_object;size:64" json:"user_id"`
	Type          JobType           `gorm:"not null" json:"type"`
	ObjectType    ObjectType        `gorm:"not null;index:idx_job_user_object" json:"object_type"`
	ObjectID      string            `gorm:"not null;index:idx_job_user_object;size:24" json:"object_id"`
	Status        JobStatus         `gorm:"not null;index" json:"status"`
	InputParams   datatypes.JSONMap `json:"input_params"`
	OutputMessage *string           `json:"output_message"`
	ErrorType     *string           `json:"error_type,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at"`
}

// TableName returns the collection name for jobs
func (BackgroundJob) TableName() string { return "jobs_collection" }

// BeforeCreate assigns a document id when none is set
func (j *BackgroundJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = NewID()
	}
	return nil
}

// NewID returns a 24-hex-character document id
func NewID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
