// Package monitoring exposes the service's Prometheus metrics.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector contains all metrics of the workbench service
type Collector struct {
	// Job metrics
	JobsStarted  *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobsRunning  prometheus.Gauge

	// Model metrics
	ModelsTrained      *prometheus.CounterVec
	ModelsFailed       *prometheus.CounterVec
	Predictions        *prometheus.CounterVec
	HyperoptSearches   *prometheus.CounterVec
	DataFramesUploaded prometheus.Counter

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsPublished *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the metrics with reg. A *prometheus.Registry serves as
// both registerer and gatherer.
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		JobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_jobs_started_total",
			Help: "The total number of background jobs started",
		}, []string{"type"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_jobs_finished_total",
			Help: "The total number of background jobs finished by final status",
		}, []string{"type", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlwb_job_duration_seconds",
			Help:    "The duration of background jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"type"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mlwb_jobs_running",
			Help: "The number of background jobs currently executing",
		}),

		ModelsTrained: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_models_trained_total",
			Help: "The total number of models that reached Trained",
		}, []string{"task_type"}),
		ModelsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_models_failed_total",
			Help: "The total number of models that ended in Problem",
		}, []string{"task_type"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_predictions_total",
			Help: "The total number of prediction dataframes created",
		}, []string{"task_type"}),
		HyperoptSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_hyperopt_searches_total",
			Help: "The total number of hyperparameter searches by outcome",
		}, []string{"outcome"}),
		DataFramesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "mlwb_dataframes_uploaded_total",
			Help: "The total number of uploaded dataframes",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_http_requests_total",
			Help: "The total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlwb_http_request_duration_seconds",
			Help:    "The duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		NotificationsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mlwb_notifications_published_total",
			Help: "The total number of job notifications by outcome",
		}, []string{"outcome"}),

		gatherer: reg,
	}
}

// RecordJob records a finished job
func (c *Collector) RecordJob(jobType, status string, d time.Duration) {
	c.JobsFinished.WithLabelValues(jobType, status).Inc()
	c.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// Middleware records request counts and latencies by route template
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.HTTPRequests.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.HTTPRequestDuration.WithLabelValues(ctx.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registered metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
