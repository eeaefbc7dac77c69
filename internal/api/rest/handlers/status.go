package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/davidmoltin/site-integrations/internal/health"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// StatusHandler serves integration health and alerts
type StatusHandler struct {
	logger  *logger.Logger
	monitor StatusMonitor
	history AlertHistory
}

// NewStatusHandler creates a new status handler. history may be nil when
// persistence is disabled.
func NewStatusHandler(log *logger.Logger, monitor StatusMonitor, history AlertHistory) *StatusHandler {
	return &StatusHandler{
		logger:  log,
		monitor: monitor,
		history: history,
	}
}

// StatusResponse combines the summary with per-service results
type StatusResponse struct {
	Summary  models.StatusSummary       `json:"summary"`
	Services []models.HealthCheckResult `json:"services"`
}

// GetStatus handles GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Summary:  h.monitor.GetSummary(),
		Services: h.monitor.GetResults(),
	})
}

// RunChecks handles POST /api/v1/status/check
func (h *StatusHandler) RunChecks(w http.ResponseWriter, r *http.Request) {
	results := h.monitor.RunChecks(r.Context())
	respondJSON(w, http.StatusOK, StatusResponse{
		Summary:  h.monitor.GetSummary(),
		Services: results,
	})
}

// ListAlerts handles GET /api/v1/status/alerts.
// ?platform= narrows the list to one integration.
func (h *StatusHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(r.URL.Query().Get("platform"))

	alerts := make([]models.StatusAlert, 0)
	for _, a := range h.monitor.GetAlerts() {
		if platform == "" || a.Platform == platform {
			alerts = append(alerts, a)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AcknowledgeAlert handles POST /api/v1/status/alerts/{id}/acknowledge
func (h *StatusHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.monitor.Acknowledge(id); err != nil {
		if errors.Is(err, health.ErrAlertNotFound) {
			respondError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.logger.Errorf("Failed to acknowledge alert: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to acknowledge alert")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"acknowledged": true,
	})
}

// AlertHistory handles GET /api/v1/status/alerts/history
func (h *StatusHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotImplemented, "Alert history requires a database")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	platform := models.Platform(r.URL.Query().Get("platform"))

	entries, err := h.history.ListHistory(r.Context(), platform, limit)
	if err != nil {
		h.logger.Errorf("Failed to list alert history: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve alert history")
		return
	}
	if entries == nil {
		entries = []models.AlertHistoryEntry{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
