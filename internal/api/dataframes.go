package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/auth"
	"github.com/aegisshield/ml-workbench/internal/jobs"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/selection"
)

const defaultRowsOnPage = 50

// UploadDataFrame stores a multipart CSV upload as a new root dataframe
func (h *Handler) UploadDataFrame(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.bindError(c, err)
		return
	}
	filename := c.PostForm("filename")
	if filename == "" {
		filename = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	file, err := header.Open()
	if err != nil {
		h.bindError(c, err)
		return
	}
	defer file.Close()

	meta, err := h.deps.DataFrames.Upload(c.Request.Context(), auth.UserID(c), filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// DownloadDataFrame serves the stored CSV
func (h *Handler) DownloadDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	path, name, err := h.deps.DataFrames.DownloadPath(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.FileAttachment(path, name)
}

// RenameDataFrame changes a dataframe's filename
func (h *Handler) RenameDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	name, ok := h.requireQuery(c, "new_filename")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.Rename(c.Request.Context(), auth.UserID(c), id, name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteDataFrame removes a dataframe with its descendants, models and predictions
func (h *Handler) DeleteDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	if err := h.deps.DataFrames.Delete(c.Request.Context(), auth.UserID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "dataframe deleted", "dataframe_id": id})
}

// GetDataFrame returns one dataframe's metadata
func (h *Handler) GetDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ListDataFrames returns every dataframe of the user
func (h *Handler) ListDataFrames(c *gin.Context) {
	list, err := h.deps.DataFrames.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// DataFrameContent returns one page of rows
func (h *Handler) DataFrameContent(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	page, ok := h.intQuery(c, "page", 1)
	if !ok {
		return
	}
	rows, ok := h.intQuery(c, "rows_on_page", defaultRowsOnPage)
	if !ok {
		return
	}
	content, err := h.deps.DataFrames.Content(c.Request.Context(), auth.UserID(c), id, page, rows)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

// DataFrameStatistics returns per-column descriptions
func (h *Handler) DataFrameStatistics(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	desc, err := h.deps.DataFrames.Statistics(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// DataFrameColumnTypes returns the numeric and categorical column lists
func (h *Handler) DataFrameColumnTypes(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta.FeatureColumnsTypes)
}

// DataFrameCorrelation returns the correlation matrix of numeric columns
func (h *Handler) DataFrameCorrelation(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	corr, err := h.deps.DataFrames.Correlation(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, corr)
}

// SetTarget marks the target column
func (h *Handler) SetTarget(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	column, ok := h.requireQuery(c, "target_column")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.SetTarget(c.Request.Context(), auth.UserID(c), id, column)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ChangeColumnType reclassifies a column into a new child dataframe
func (h *Handler) ChangeColumnType(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	column, ok := h.requireQuery(c, "column_name")
	if !ok {
		return
	}
	newType, ok := h.requireQuery(c, "new_type")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.ChangeColumnType(c.Request.Context(), auth.UserID(c), id, column, newType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteColumn drops a column into a new child dataframe
func (h *Handler) DeleteColumn(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	column, ok := h.requireQuery(c, "column_name")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.DeleteColumn(c.Request.Context(), auth.UserID(c), id, column)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ApplyMethods runs pipeline steps as a background job
func (h *Handler) ApplyMethods(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	var steps []models.ApplyMethodParams
	if err := c.ShouldBindJSON(&steps); err != nil {
		h.bindError(c, err)
		return
	}
	if len(steps) == 0 {
		h.respondError(c, apperrors.New(apperrors.InvalidRequest, "at least one method is required"))
		return
	}
	userID := auth.UserID(c)
	source, err := h.deps.DataFrames.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.deps.Jobs.Submit(c.Request.Context(), jobs.Request{
		UserID:     userID,
		Type:       models.JobApplyMethods,
		ObjectType: models.ObjectDataFrame,
		ObjectID:   id,
		Params:     map[string]any{"dataframe_id": id, "methods": steps},
	}, func(ctx context.Context) (string, error) {
		child, err := h.deps.DataFrames.ApplyMethods(ctx, userID, id, steps)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("dataframe %q created with id %s", child.Filename, child.ID), nil
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	accepted(c, job, fmt.Sprintf("applying %d method(s) to dataframe %q", len(steps), source.Filename), nil)
}

// CopyPipeline replays one dataframe's pipeline on another
func (h *Handler) CopyPipeline(c *gin.Context) {
	from, ok := h.requireQuery(c, "dataframe_id_from")
	if !ok {
		return
	}
	to, ok := h.requireQuery(c, "dataframe_id_to")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.CopyPipeline(c.Request.Context(), auth.UserID(c), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

type featureImportancesRequest struct {
	TaskType  models.TaskType    `json:"task_type" binding:"required"`
	Selectors []selection.Method `json:"selectors" binding:"required,min=1"`
}

// FeatureImportances runs the selector summary as a background job
func (h *Handler) FeatureImportances(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	var req featureImportancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	if err := h.deps.DataFrames.ValidateSelectors(req.Selectors); err != nil {
		h.respondError(c, err)
		return
	}
	userID := auth.UserID(c)
	if _, err := h.deps.DataFrames.Get(c.Request.Context(), userID, id); err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.deps.Jobs.Submit(c.Request.Context(), jobs.Request{
		UserID:     userID,
		Type:       models.JobFeatureImportances,
		ObjectType: models.ObjectDataFrame,
		ObjectID:   id,
		Params:     map[string]any{"dataframe_id": id, "task_type": req.TaskType, "selectors": req.Selectors},
	}, func(ctx context.Context) (string, error) {
		if _, err := h.deps.DataFrames.FeatureImportances(ctx, userID, id, req.TaskType, req.Selectors); err != nil {
			return "", err
		}
		return "feature importances computed", nil
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	accepted(c, job, "computing feature importances", nil)
}

// GetFeatureImportances returns the stored selector summary
func (h *Handler) GetFeatureImportances(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta.FeatureImportanceReport)
}

// MoveToRoot detaches a derived dataframe from its parent
func (h *Handler) MoveToRoot(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.MoveToRoot(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// MovePredictionToActive turns a prediction into an editable dataframe
func (h *Handler) MovePredictionToActive(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	meta, err := h.deps.DataFrames.MovePredictionToActive(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}
