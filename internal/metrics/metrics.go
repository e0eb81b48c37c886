// Package metrics provides Prometheus instrumentation for the gateway.
// Collectors are registered once via Init and exposed through Handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts requests by mode (audio, meta, preflight), method,
	// and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegate_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"mode", "method", "status"},
	)

	// RequestDuration observes request latency in seconds by mode and method.
	// For audio this includes the full streaming time, not just time to first byte.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunegate_request_duration_seconds",
			Help:    "Request latency in seconds, including body streaming",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "method"},
	)

	// ActiveStreams tracks in-flight audio streams.
	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunegate_active_streams",
			Help: "Number of audio streams currently being proxied",
		},
	)

	// TargetRejections counts audio targets refused by the allow-list.
	TargetRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegate_target_rejections_total",
			Help: "Total audio target URLs rejected by validation",
		},
	)

	// UpstreamErrors counts transport-level failures to reach an upstream
	// (the only errors the gateway generates itself; upstream HTTP errors
	// pass through verbatim and land in RequestsTotal by status).
	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegate_upstream_errors_total",
			Help: "Total transport failures reaching an upstream",
		},
		[]string{"upstream"},
	)

	// RateLimitHits counts rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunegate_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegate_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default Prometheus registry.
// Idempotent so the integration suite can assemble the full stack repeatedly.
func Init() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveStreams,
		TargetRejections,
		UpstreamErrors,
		RateLimitHits,
		AuthFailures,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
