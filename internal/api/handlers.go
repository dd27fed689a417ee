package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/models"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker reports the state of the service's dependencies
type HealthChecker interface {
	Check(ctx context.Context) map[string]error
}

// HealthChecks runs a named probe per dependency
type HealthChecks map[string]func(ctx context.Context) error

// Check runs every probe
func (h HealthChecks) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(h))
	for name, probe := range h {
		out[name] = probe(ctx)
	}
	return out
}

// Handler contains all API handlers
type Handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(deps Dependencies, logger *zap.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger.With(zap.String("component", "api")),
	}
}

// Health returns service health status
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := gin.H{}
	if h.deps.Health != nil {
		for name, err := range h.deps.Health.Check(ctx) {
			if err != nil {
				status = "degraded"
				checks[name] = gin.H{"status": "unhealthy", "error": err.Error()}
				continue
			}
			checks[name] = gin.H{"status": "healthy"}
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"services":  checks,
	})
}

// respondError writes the structured error body with the status its kind maps to
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apperrors.Body(err))
}

// bindError reports a malformed request body or query
func (h *Handler) bindError(c *gin.Context, err error) {
	h.respondError(c, apperrors.Wrap(apperrors.InvalidRequest, err, "invalid request: %v", err))
}

// requireQuery reads a mandatory query parameter
func (h *Handler) requireQuery(c *gin.Context, name string) (string, bool) {
	value := c.Query(name)
	if value == "" {
		h.respondError(c, apperrors.New(apperrors.InvalidRequest, "query parameter %q is required", name).With("parameter", name))
		return "", false
	}
	return value, true
}

// intQuery reads an optional positive integer query parameter
func (h *Handler) intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.respondError(c, apperrors.New(apperrors.InvalidRequest, "query parameter %q must be an integer", name).With("parameter", name))
		return 0, false
	}
	return v, true
}

// accepted answers a request whose work continues as a background job
func accepted(c *gin.Context, job *models.BackgroundJob, message string, extra gin.H) {
	body := gin.H{
		"message": message,
		"job":     job,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusAccepted, body)
}
