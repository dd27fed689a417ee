package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/auth"
	"github.com/aegisshield/ml-workbench/internal/jobs"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/services"
)

// DownloadModel serves the serialised estimator of a trained model
func (h *Handler) DownloadModel(c *gin.Context) {
	id, ok := h.requireQuery(c, "model_id")
	if !ok {
		return
	}
	path, name, err := h.deps.Models.DownloadPath(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.FileAttachment(path, name)
}

// RenameModel changes a model's filename
func (h *Handler) RenameModel(c *gin.Context) {
	id, ok := h.requireQuery(c, "model_id")
	if !ok {
		return
	}
	name, ok := h.requireQuery(c, "new_filename")
	if !ok {
		return
	}
	meta, err := h.deps.Models.Rename(c.Request.Context(), auth.UserID(c), id, name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteModel removes a model with its reports and predictions
func (h *Handler) DeleteModel(c *gin.Context) {
	id, ok := h.requireQuery(c, "model_id")
	if !ok {
		return
	}
	if err := h.deps.Models.DeleteModel(c.Request.Context(), auth.UserID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "model deleted", "model_id": id})
}

// GetModel returns one model's metadata
func (h *Handler) GetModel(c *gin.Context) {
	id, ok := h.requireQuery(c, "model_id")
	if !ok {
		return
	}
	meta, err := h.deps.Models.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ListModels returns every model of the user
func (h *Handler) ListModels(c *gin.Context) {
	list, err := h.deps.Models.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListModelsByDataFrame returns the models trained on one dataframe
func (h *Handler) ListModelsByDataFrame(c *gin.Context) {
	id, ok := h.requireQuery(c, "dataframe_id")
	if !ok {
		return
	}
	list, err := h.deps.Models.ListByDataFrame(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// TrainModel validates and records a model, then trains it as a background job
func (h *Handler) TrainModel(c *gin.Context) {
	var req services.CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	userID := auth.UserID(c)
	meta, err := h.deps.Models.CreateModel(c.Request.Context(), userID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.deps.Jobs.Submit(c.Request.Context(), jobs.Request{
		UserID:     userID,
		Type:       models.JobTrainModel,
		ObjectType: models.ObjectModel,
		ObjectID:   meta.ID,
		Params:     map[string]any{"model_id": meta.ID, "request": req},
	}, func(ctx context.Context) (string, error) {
		trained, err := h.deps.Models.Train(ctx, userID, meta.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("model %q trained", trained.Filename), nil
	})
	if err != nil {
		h.discardModel(c.Request.Context(), userID, meta.ID)
		h.respondError(c, err)
		return
	}
	accepted(c, job, fmt.Sprintf("training model %q", meta.Filename), gin.H{"model": meta})
}

// BuildComposition validates and records a composition, then builds it as a background job
func (h *Handler) BuildComposition(c *gin.Context) {
	var req services.CreateCompositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	userID := auth.UserID(c)
	meta, err := h.deps.Models.CreateComposition(c.Request.Context(), userID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.deps.Jobs.Submit(c.Request.Context(), jobs.Request{
		UserID:     userID,
		Type:       models.JobBuildComposition,
		ObjectType: models.ObjectModel,
		ObjectID:   meta.ID,
		Params:     map[string]any{"model_id": meta.ID, "request": req},
	}, func(ctx context.Context) (string, error) {
		built, err := h.deps.Models.BuildComposition(ctx, userID, meta.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("composition %q built", built.Filename), nil
	})
	if err != nil {
		h.discardModel(c.Request.Context(), userID, meta.ID)
		h.respondError(c, err)
		return
	}
	accepted(c, job, fmt.Sprintf("building composition %q", meta.Filename), gin.H{"model": meta})
}

// discardModel removes a model whose training job could not be queued
func (h *Handler) discardModel(ctx context.Context, userID, id string) {
	if err := h.deps.Models.DeleteModel(context.WithoutCancel(ctx), userID, id); err != nil {
		h.logger.Error("Failed to remove model left without a job",
			zap.String("user_id", userID),
			zap.String("model_id", id),
			zap.Error(err))
	}
}

// Predict runs a trained model over a dataframe as a background job
func (h *Handler) Predict(c *gin.Context) {
	var req services.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	userID := auth.UserID(c)
	model, err := h.deps.Models.Get(c.Request.Context(), userID, req.ModelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.deps.DataFrames.Get(c.Request.Context(), userID, req.DataFrameID); err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.deps.Jobs.Submit(c.Request.Context(), jobs.Request{
		UserID:     userID,
		Type:       models.JobPredictOnModel,
		ObjectType: models.ObjectModel,
		ObjectID:   model.ID,
		Params:     map[string]any{"request": req},
	}, func(ctx context.Context) (string, error) {
		pred, err := h.deps.Models.Predict(ctx, userID, req)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("prediction %q created with id %s", pred.Filename, pred.ID), nil
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	accepted(c, job, fmt.Sprintf("predicting with model %q", model.Filename), nil)
}
