package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/validator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// ActionHandler handles action execution requests
type ActionHandler struct {
	logger     *logger.Logger
	engine     ActionExecutor
	background conc.WaitGroup
}

// NewActionHandler creates a new action handler
func NewActionHandler(log *logger.Logger, engine ActionExecutor) *ActionHandler {
	return &ActionHandler{
		logger: log,
		engine: engine,
	}
}

// AcceptedResponse is returned for actions that wait on a user confirmation
type AcceptedResponse struct {
	ActionID string              `json:"action_id"`
	Status   models.ActionStatus `json:"status"`
}

// Execute handles POST /api/v1/actions.
// Actions that need confirmation run in the background and answer 202 with
// the action id; everything else runs to completion and returns the result.
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := req.Action
	if action.ID == "" {
		action.ID = uuid.New().String()
	} else if _, err := h.engine.GetExecution(r.Context(), action.ID); err == nil {
		respondError(w, http.StatusConflict, "Action id already in use")
		return
	}
	actx := models.ActionContext{
		UserID:    auth.UserID(r.Context()),
		ProjectID: req.ProjectID,
		Source:    "api",
	}

	if action.ConfirmationRequired {
		ctx := context.WithoutCancel(r.Context())
		h.background.Go(func() {
			h.engine.ExecuteAction(ctx, action, actx)
		})
		respondJSON(w, http.StatusAccepted, AcceptedResponse{
			ActionID: action.ID,
			Status:   models.ActionStatusPending,
		})
		return
	}

	result := h.engine.ExecuteAction(r.Context(), action, actx)
	if result.Status == models.ResultFailed && slices.Contains(result.Errors, engine.ErrDuplicateAction.Error()) {
		respondError(w, http.StatusConflict, "Action id already in use")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Get handles GET /api/v1/actions/{id}
func (h *ActionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := h.engine.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			respondError(w, http.StatusNotFound, "Execution not found")
			return
		}
		h.logger.Errorf("Failed to get execution: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve execution")
		return
	}

	respondJSON(w, http.StatusOK, exec)
}

// List handles GET /api/v1/actions
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	executions, err := h.engine.ListExecutions(r.Context(), limit)
	if err != nil {
		h.logger.Errorf("Failed to list executions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve executions")
		return
	}
	if executions == nil {
		executions = []models.ActionExecution{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

// Cancel handles POST /api/v1/actions/{id}/cancel
func (h *ActionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.engine.CancelExecution(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{
			"action_id": id,
			"status":    "cancelled",
		})
	case errors.Is(err, engine.ErrExecutionNotFound):
		respondError(w, http.StatusNotFound, "Execution not found")
	case errors.Is(err, engine.ErrNotCancellable):
		respondError(w, http.StatusConflict, "Execution can no longer be cancelled")
	default:
		h.logger.Errorf("Failed to cancel execution: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to cancel execution")
	}
}

// Templates handles GET /api/v1/templates
func (h *ActionHandler) Templates(w http.ResponseWriter, r *http.Request) {
	templates := h.engine.Templates()
	if templates == nil {
		templates = []models.ActionTemplate{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
	})
}

// Wait blocks until background executions finish or ctx is done
func (h *ActionHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if recovered := h.background.WaitAndRecover(); recovered != nil {
			h.logger.Error("Background execution panicked", logger.String("panic", recovered.String()))
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
