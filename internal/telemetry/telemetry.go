// Package telemetry exposes the process's internal Prometheus metrics.
// Fire-and-forget side effects (last-used updates, audit writes) are
// observable only here, never through request control flow.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthAttempts counts authentication outcomes by credential method.
	// method is "session" or "api_key"; result is "ok" or the failure class.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlforge_auth_attempts_total",
			Help: "Authentication attempts by credential method and result.",
		},
		[]string{"method", "result"},
	)

	// LastUsedUpdateFailures counts failed best-effort API key last-used
	// timestamp updates.
	LastUsedUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlforge_api_key_last_used_update_failures_total",
			Help: "Failed best-effort API key last-used timestamp updates.",
		},
	)

	// AuditWriteFailures counts failed best-effort audit event writes.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlforge_audit_write_failures_total",
			Help: "Failed best-effort audit event writes.",
		},
	)

	// HTTPRequests counts completed HTTP requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlforge_http_requests_total",
			Help: "Completed HTTP requests by method and status.",
		},
		[]string{"method", "status"},
	)

	// HTTPDuration observes HTTP request latencies in seconds.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlforge_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
