package handlers

import (
	"net/http"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/validator"
)

// QueryHandler serves natural language queries
type QueryHandler struct {
	logger       *logger.Logger
	orchestrator QueryProcessor
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(log *logger.Logger, orchestrator QueryProcessor) *QueryHandler {
	return &QueryHandler{
		logger:       log,
		orchestrator: orchestrator,
	}
}

// Process handles POST /api/v1/queries
func (h *QueryHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An authenticated subject always wins over the body
	userID := req.UserID
	if subject := auth.UserID(r.Context()); subject != "" {
		userID = subject
	}

	resp := h.orchestrator.ProcessQuery(r.Context(), req.Query, userID)
	respondJSON(w, http.StatusOK, resp)
}
