package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/auth"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/jobs"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/notify"
	"github.com/aegisshield/ml-workbench/internal/services"
)

// Dependencies are the components the HTTP surface dispatches to
type Dependencies struct {
	DataFrames *services.DataFrameService
	Models     *services.ModelService
	Reports    *services.ReportService
	Jobs       *jobs.Manager
	Auth       *auth.Service
	Hub        *notify.Hub
	Metrics    *monitoring.Collector
	Health     HealthChecker
}

// SetupRouter wires every route of the workbench
func SetupRouter(cfg *config.Config, logger *zap.Logger, deps Dependencies) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	router.Use(RecoveryMiddleware(logger))
	if cfg.Server.EnableCORS {
		router.Use(CORSMiddleware())
	}
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	if cfg.Monitoring.MetricsEnabled {
		router.Use(deps.Metrics.Middleware())
	}

	h := NewHandler(deps, logger)

	router.GET("/health", h.Health)
	if cfg.Monitoring.MetricsEnabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}
	// the websocket authenticates with a realtime token in the query string
	router.GET("/realtime/ws", h.RealtimeStream)

	api := router.Group("/")
	api.Use(deps.Auth.Middleware())

	dataframe := api.Group("/dataframe")
	{
		dataframe.POST("", h.UploadDataFrame)
		dataframe.GET("/download", h.DownloadDataFrame)
		dataframe.PUT("/rename", h.RenameDataFrame)
		dataframe.DELETE("", h.DeleteDataFrame)
		dataframe.GET("/metadata", h.GetDataFrame)
		dataframe.GET("/metadata/all", h.ListDataFrames)
		dataframe.GET("/content", h.DataFrameContent)
		dataframe.GET("/content/statistics", h.DataFrameStatistics)
		dataframe.GET("/content/column_types", h.DataFrameColumnTypes)
		dataframe.GET("/content/corr_matrix", h.DataFrameCorrelation)
		dataframe.PUT("/edit/target", h.SetTarget)
		dataframe.PUT("/edit/change_type", h.ChangeColumnType)
		dataframe.DELETE("/edit/column", h.DeleteColumn)
		dataframe.POST("/edit/apply_method", h.ApplyMethods)
		dataframe.POST("/edit/copy_pipeline", h.CopyPipeline)
		dataframe.POST("/edit/feature_importances", h.FeatureImportances)
		dataframe.GET("/feature_importances", h.GetFeatureImportances)
		dataframe.PUT("/move_to_root", h.MoveToRoot)
		dataframe.PUT("/prediction/move_to_active", h.MovePredictionToActive)
	}

	model := api.Group("/model")
	{
		model.GET("/download", h.DownloadModel)
		model.PUT("/rename", h.RenameModel)
		model.DELETE("", h.DeleteModel)
		model.GET("/metadata", h.GetModel)
		model.GET("/metadata/all", h.ListModels)
		model.GET("/metadata/by_dataframe", h.ListModelsByDataFrame)
		model.POST("/processing/train", h.TrainModel)
		model.POST("/processing/build_composition", h.BuildComposition)
		model.PUT("/processing/predict", h.Predict)
	}

	backgroundJobs := api.Group("/background_jobs")
	{
		backgroundJobs.GET("", h.GetJob)
		backgroundJobs.GET("/all", h.ListJobs)
		backgroundJobs.GET("/by_object", h.ListJobsByObject)
	}

	reports := api.Group("/reports")
	{
		reports.GET("", h.GetReport)
		reports.GET("/all", h.ListReports)
		reports.GET("/by_dataframe", h.ListReportsByDataFrame)
		reports.GET("/by_model", h.ListReportsByModel)
	}

	specs := api.Group("/specs")
	{
		specs.GET("/task_types", h.TaskTypes)
		specs.GET("/params_types", h.ParamsTypes)
		specs.GET("/model_statuses", h.ModelStatuses)
		specs.GET("/job_statuses", h.JobStatuses)
		specs.GET("/methods", h.MethodNames)
		specs.GET("/selectors", h.SelectorNames)
		specs.GET("/model_types", h.ModelTypes)
		specs.GET("/model_params", h.ModelParamsSchema)
		specs.GET("/composition_types", h.CompositionTypes)
		specs.GET("/composition_params", h.CompositionParamsSchema)
	}

	api.GET("/realtime/token", h.RealtimeToken)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error_type": "NotFound", "message": "route not found", "detail": gin.H{}})
	})

	return router
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("user_id", auth.UserID(c)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("HTTP Request", fields...)
	}
}

// RecoveryMiddleware turns handler panics into Internal error responses
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Handler panicked",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")))
		err := apperrors.New(apperrors.Internal, "internal server error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.Body(err))
	})
}
