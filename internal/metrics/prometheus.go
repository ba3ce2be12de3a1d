// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RepositoryOperations tracks repository operations by entity, operation and outcome.
	RepositoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_operations_total",
			Help: "Total repository operations by entity, operation, and status",
		},
		[]string{"entity", "operation", "status"},
	)

	// RepositoryOperationDuration tracks repository operation latency, store round trips included.
	RepositoryOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_operation_duration_seconds",
			Help:    "Repository operation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"entity", "operation"},
	)

	// DescriptorBuilds tracks entity descriptor builds. Each entity type is built at most once.
	DescriptorBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_descriptor_builds_total",
			Help: "Total entity descriptor builds by entity",
		},
		[]string{"entity"},
	)

	// QueryCompilations tracks derived query compilations by entity and result cardinality.
	QueryCompilations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_compilations_total",
			Help: "Total derived query compilations by entity and cardinality",
		},
		[]string{"entity", "cardinality"},
	)

	// StaleEntityRejections tracks optimistic concurrency rejections.
	StaleEntityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_entity_rejections_total",
			Help: "Total saves rejected because the supplied version was stale",
		},
		[]string{"entity"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CacheHits tracks cache hit/miss ratio.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total cache operations by type (hit/miss)",
		},
		[]string{"cache", "result"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterMetricsEndpointWithPath registers the metrics endpoint at a custom path.
func RegisterMetricsEndpointWithPath(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// RecordRepositoryOperation records a completed repository operation.
func RecordRepositoryOperation(entity, operation, status string) {
	RepositoryOperations.WithLabelValues(entity, operation, status).Inc()
}

// RecordRepositoryOperationDuration records repository operation latency.
func RecordRepositoryOperationDuration(entity, operation string, seconds float64) {
	RepositoryOperationDuration.WithLabelValues(entity, operation).Observe(seconds)
}

// RecordDescriptorBuild records an entity descriptor build.
func RecordDescriptorBuild(entity string) {
	DescriptorBuilds.WithLabelValues(entity).Inc()
}

// RecordQueryCompilation records a derived query compilation.
func RecordQueryCompilation(entity, cardinality string) {
	QueryCompilations.WithLabelValues(entity, cardinality).Inc()
}

// RecordStaleEntity records a save rejected by the optimistic concurrency check.
func RecordStaleEntity(entity string) {
	StaleEntityRejections.WithLabelValues(entity).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordCacheOperation records a cache operation.
func RecordCacheOperation(cache, result string) {
	CacheHits.WithLabelValues(cache, result).Inc()
}
