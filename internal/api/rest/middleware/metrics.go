package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Metrics returns a middleware that records HTTP metrics.
// Paths are labelled with the matched route pattern so ids stay out of label values.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the response writer to capture status code and size
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := routePattern(r)
			duration := time.Since(start).Seconds()
			statusStr := normalizeStatusCode(ww.Status())

			if r.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}

			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, statusStr).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, path).Observe(duration)

			if responseSize := ww.BytesWritten(); responseSize > 0 {
				m.HTTPResponseSize.WithLabelValues(r.Method, path, statusStr).Observe(float64(responseSize))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// normalizeStatusCode converts status codes to ranges for high-cardinality reduction
func normalizeStatusCode(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return fmt.Sprintf("%d", status)
	}
}
