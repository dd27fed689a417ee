package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/auth"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// GetJob returns one background job
func (h *Handler) GetJob(c *gin.Context) {
	id, ok := h.requireQuery(c, "job_id")
	if !ok {
		return
	}
	job, err := h.deps.Jobs.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns every job of the user
func (h *Handler) ListJobs(c *gin.Context) {
	list, err := h.deps.Jobs.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListJobsByObject returns the jobs that ran on one dataframe or model
func (h *Handler) ListJobsByObject(c *gin.Context) {
	objectType, ok := h.requireQuery(c, "object_type")
	if !ok {
		return
	}
	objectID, ok := h.requireQuery(c, "object_id")
	if !ok {
		return
	}
	kind := models.ObjectType(objectType)
	if kind != models.ObjectDataFrame && kind != models.ObjectModel {
		h.respondError(c, apperrors.New(apperrors.InvalidRequest, "unknown object type %q", objectType).
			With("object_type", objectType))
		return
	}
	list, err := h.deps.Jobs.ListByObject(c.Request.Context(), auth.UserID(c), kind, objectID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetReport returns one report
func (h *Handler) GetReport(c *gin.Context) {
	id, ok := h.requireQuery(c, "report_id")
	if !ok {
		return
	}
	report, err := h.deps.Reports.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListReports returns every report of the user
func (h *Handler) ListReports(c *gin.Context) {
	list, err := h.deps.Reports.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListReportsByDataFrame returns the reports of models trained on one dataframe
func (h *Handler) ListReportsByDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	list, err := h.deps.Reports.ListByDataFrame(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListReportsByModel returns the reports of one model
func (h *Handler) ListReportsByModel(c *gin.Context) {
	id, ok := h.requireQuery(c, "model_id")
	if !ok {
		return
	}
	list, err := h.deps.Reports.ListByModel(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
