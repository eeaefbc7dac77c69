package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/davidmoltin/site-integrations/internal/confirmation"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/validator"
	"github.com/go-chi/chi/v5"
)

// ConfirmationHandler lets a user approve or reject pending actions
type ConfirmationHandler struct {
	logger *logger.Logger
	broker ConfirmationBroker
}

// NewConfirmationHandler creates a new confirmation handler
func NewConfirmationHandler(log *logger.Logger, broker ConfirmationBroker) *ConfirmationHandler {
	return &ConfirmationHandler{
		logger: log,
		broker: broker,
	}
}

// List handles GET /api/v1/confirmations
func (h *ConfirmationHandler) List(w http.ResponseWriter, r *http.Request) {
	pending := h.broker.ListPending()
	if pending == nil {
		pending = []models.ConfirmationRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"confirmations": pending,
		"count":         len(pending),
	})
}

// Approve handles POST /api/v1/confirmations/{id}/approve
func (h *ConfirmationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Reject handles POST /api/v1/confirmations/{id}/reject
func (h *ConfirmationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *ConfirmationHandler) decide(w http.ResponseWriter, r *http.Request, approved bool) {
	id := chi.URLParam(r, "id")

	// The body is optional
	var req models.ConfirmationDecision
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decidedBy := req.DecidedBy
	if subject := auth.UserID(r.Context()); subject != "" {
		decidedBy = subject
	}

	if err := h.broker.Decide(id, approved, decidedBy); err != nil {
		if errors.Is(err, confirmation.ErrNotPending) {
			respondError(w, http.StatusNotFound, "Confirmation not pending")
			return
		}
		h.logger.Errorf("Failed to record confirmation decision: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to record decision")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"approved": approved,
	})
}
