package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/controlforge/controlforge/internal/telemetry"
)

// Metrics is an HTTP middleware that records request counts and latencies
// to the process's Prometheus registry.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		status := strconv.Itoa(ww.status)
		telemetry.HTTPRequests.WithLabelValues(r.Method, status).Inc()
		telemetry.HTTPDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
	})
}
