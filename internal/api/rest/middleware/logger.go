package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Logger is a middleware that logs HTTP requests
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}

				// Webhook deliveries and health checks are frequent, keep them out of info
				if ww.Status() < http.StatusBadRequest && isQuietPath(r.URL.Path) {
					log.Debug("HTTP request", fields...)
					return
				}
				log.Info("HTTP request", fields...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func isQuietPath(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/webhooks/")
}
