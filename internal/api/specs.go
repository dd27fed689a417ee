package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/selection"
)

// TaskTypes lists the supported learning tasks
func (h *Handler) TaskTypes(c *gin.Context) {
	c.JSON(http.StatusOK, models.TaskTypes)
}

// ParamsTypes lists where hyperparameters may come from
func (h *Handler) ParamsTypes(c *gin.Context) {
	c.JSON(http.StatusOK, models.ParamsTypes)
}

func (h *Handler) ModelStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, models.ModelStatuses)
}

func (h *Handler) JobStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, models.JobStatuses)
}

// MethodNames lists the pipeline methods
func (h *Handler) MethodNames(c *gin.Context) {
	c.JSON(http.StatusOK, methods.Names())
}

// SelectorNames lists the feature selectors
func (h *Handler) SelectorNames(c *gin.Context) {
	c.JSON(http.StatusOK, selection.Names())
}

// ModelTypes lists the estimators of a task
func (h *Handler) ModelTypes(c *gin.Context) {
	task, ok := h.requireQuery(c, "task_type")
	if !ok {
		return
	}
	types, err := params.ModelTypes(models.TaskType(task))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// ModelParamsSchema describes the hyperparameters of one estimator
func (h *Handler) ModelParamsSchema(c *gin.Context) {
	task, ok := h.requireQuery(c, "task_type")
	if !ok {
		return
	}
	modelType, ok := h.requireQuery(c, "model_type")
	if !ok {
		return
	}
	schema, err := params.SchemaFor(models.TaskType(task), modelType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

func (h *Handler) CompositionTypes(c *gin.Context) {
	c.JSON(http.StatusOK, estimators.CompositionTypes)
}

// CompositionParamsSchema describes the parameters of one composition type
func (h *Handler) CompositionParamsSchema(c *gin.Context) {
	kind, ok := h.requireQuery(c, "composition_type")
	if !ok {
		return
	}
	schema, err := params.CompositionSchema(kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}
