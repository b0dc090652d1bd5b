package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics for the operations router.
var (
	// HTTPRequestsTotal counts requests by method, route pattern and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Refresh and source metrics.
var (
	RefreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_runs_total",
			Help: "Total number of refresh cycles by resource and result",
		},
		[]string{"resource", "result"}, // result: success, failure, fallback, skipped
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_duration_seconds",
			Help:    "Time taken by a full refresh cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"resource"},
	)

	CachedRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cached_records",
			Help: "Number of records in the published cache set",
		},
		[]string{"resource"},
	)

	CacheLastRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_last_refresh_timestamp_seconds",
			Help: "Unix timestamp of the last successful refresh",
		},
		[]string{"resource"},
	)

	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_total",
			Help: "Total number of source fetches by outcome",
		},
		[]string{"source", "result"}, // result: success, failure
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Time taken to fetch a source including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"source"},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_failed_total",
			Help: "Total number of failed attempts seen by retry executors",
		},
		[]string{"operation", "kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_enrichments_total",
			Help: "Total number of summary enrichment attempts",
		},
		[]string{"result"}, // result: success, failure, skipped
	)
)

// Monitoring metrics.
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_errors_total",
			Help: "Total number of classified errors by severity",
		},
		[]string{"severity"},
	)

	DiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_diagnostics_total",
			Help: "Total number of diagnostic requests by outcome",
		},
		[]string{"result"}, // result: success, failure, dropped
	)

	HealthComponentStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "health_component_status",
			Help: "Health status per component (0=healthy, 1=degraded, 2=unhealthy)",
		},
		[]string{"component"},
	)

	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "health_check_duration_seconds",
			Help:    "Time taken by a full health check",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Total number of alert decisions by type and outcome",
		},
		[]string{"type", "result"}, // result: sent, suppressed, disabled
	)

	AlertDeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_delivery_errors_total",
			Help: "Total number of failed alert deliveries by channel",
		},
		[]string{"channel"},
	)

	SupervisorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_db_state",
			Help: "1 for the database supervisor's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_reconnect_cycles_total",
			Help: "Total number of reconnection cycles started",
		},
	)

	TaskRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_task_restarts_total",
			Help: "Total number of background loop restarts after a panic",
		},
		[]string{"task"},
	)

	MemoryUsagePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memory_heap_usage_percent",
			Help: "Heap in use as a percentage of heap obtained from the OS",
		},
	)
)

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
