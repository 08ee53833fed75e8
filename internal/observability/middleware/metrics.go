package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sealedmsg/internal/observability/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithMetrics records request counts and latency. pathLabel maps a request
// to a bounded label; pass nil to use the raw path.
func WithMetrics(pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start).Seconds()
			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			svc := metrics.Service()

			metrics.HTTPRequestsTotal.WithLabelValues(svc, r.Method, path, strconv.Itoa(sr.status)).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(svc, r.Method, path).Observe(duration)

			slog.Default().Debug("request metrics updated",
				"method", r.Method,
				"path", path,
				"status", sr.status,
				"duration_seconds", duration,
			)
		})
	}
}
