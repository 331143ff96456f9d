package catfleet

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the dispatch stack:
// the request lifecycle, limiter occupancy, and the connection manager's
// recovery loops. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	reconnectsTotal    *prometheus.CounterVec
	streamRetriesTotal *prometheus.CounterVec

	rateLimiterTokens *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default
// registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "catfleet_requests_total",
				Help: "Total number of dispatched requests",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catfleet_request_duration_seconds",
				Help:    "Duration of logical calls, including limiter wait and retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catfleet_requests_in_flight",
				Help: "Number of logical calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		reconnectsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "catfleet_reconnects_total",
				Help: "Total number of replacement sessions dialed",
			},
			[]string{"endpoint"},
		),
		streamRetriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "catfleet_stream_retries_total",
				Help: "Total number of canceled streams retried",
			},
			[]string{"method", "endpoint"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catfleet_rate_limiter_tokens",
				Help: "Remaining tokens in the shared limiter pool",
			},
			[]string{"name"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "catfleet_errors_total",
				Help: "Total number of terminal errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequestStart marks a logical call entering the stack.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd marks a logical call leaving the stack.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records the outcome and duration of one logical call.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, status, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, status, endpoint).Observe(duration.Seconds())
}

// RecordReconnect records one replacement session being dialed.
func (mc *MetricsCollector) RecordReconnect(endpoint string) {
	mc.reconnectsTotal.WithLabelValues(endpoint).Inc()
}

// RecordStreamRetry records one canceled stream being retried.
func (mc *MetricsCollector) RecordStreamRetry(method, endpoint string) {
	mc.streamRetriesTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordRateLimiterTokens records the limiter pool occupancy.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordError records a terminal error by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
