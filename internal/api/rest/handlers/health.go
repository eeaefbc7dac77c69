package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// HealthChecker defines the interface for health checking
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// breakerReporter is implemented by checkers that shed load behind a circuit breaker
type breakerReporter interface {
	BreakerOpen() bool
}

// HealthHandler handles liveness and readiness checks
type HealthHandler struct {
	logger  *logger.Logger
	db      HealthChecker
	redis   HealthChecker
	version string
}

// NewHealthHandler creates a new health handler.
// Nil checkers are reported as disabled and never fail readiness.
func NewHealthHandler(log *logger.Logger, db, redis HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		logger:  log,
		db:      db,
		redis:   redis,
		version: version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health is a simple health check endpoint
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready checks if the service is ready to accept traffic
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	for name, checker := range map[string]HealthChecker{"database": h.db, "redis": h.redis} {
		if checker == nil {
			checks[name] = "disabled"
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			// Log detailed error internally
			h.logger.Errorf("%s health check failed: %v", name, err)
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		if br, ok := checker.(breakerReporter); ok && br.BreakerOpen() {
			// reachable again but statements are still rejected until the breaker half-opens
			checks[name] = "degraded"
			continue
		}
		checks[name] = "healthy"
	}

	status := "ready"
	statusCode := http.StatusOK

	if !allHealthy {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(w, statusCode, HealthResponse{
		Status:  status,
		Version: h.version,
		Checks:  checks,
	})
}
