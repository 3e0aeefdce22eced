// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_documents_processed_total",
			Help: "Documents that finished processing, by final status.",
		},
		[]string{"status"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studyhub_document_processing_seconds",
			Help:    "Time spent extracting and chunking a document.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_generation_requests_total",
			Help: "Calls to the generative backend, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_generation_seconds",
			Help:    "Latency of generative backend calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_document_cache_lookups_total",
			Help: "Ready-document cache lookups, by tier and result.",
		},
		[]string{"tier", "result"},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyhub_worker_pool_size",
			Help: "Processing workers currently alive.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyhub_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyhub_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveGeneration records one backend call.
func ObserveGeneration(operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GenerationRequests.WithLabelValues(operation, outcome).Inc()
	GenerationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// GinMiddleware records request counts and latency. Routes are labelled by
// their registered pattern so ids in the path do not create new series.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
