package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// WebhookIngestor accepts platform deliveries and verification handshakes
type WebhookIngestor interface {
	VerifySubscription(source models.Platform, query url.Values) (string, error)
	Ingest(ctx context.Context, source models.Platform, body []byte, headers http.Header) (*models.IngestAck, error)
}

// QueryProcessor answers natural language questions
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, text, userID string) *models.IntegratedResponse
}

// ActionExecutor runs and tracks cross-platform actions
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, action models.PlatformAction, actx models.ActionContext) *models.ExecutionResult
	GetExecution(ctx context.Context, actionID string) (*models.ActionExecution, error)
	ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error)
	CancelExecution(ctx context.Context, actionID string) error
	Templates() []models.ActionTemplate
}

// StatusMonitor exposes integration health and alerts
type StatusMonitor interface {
	RunChecks(ctx context.Context) []models.HealthCheckResult
	GetSummary() models.StatusSummary
	GetResults() []models.HealthCheckResult
	GetAlerts() []models.StatusAlert
	Acknowledge(id string) error
}

// AlertHistory reads persisted alert lifecycle events
type AlertHistory interface {
	ListHistory(ctx context.Context, platform models.Platform, limit int) ([]models.AlertHistoryEntry, error)
}

// ConfirmationBroker holds actions waiting for a user decision
type ConfirmationBroker interface {
	ListPending() []models.ConfirmationRequest
	Decide(id string, approved bool, decidedBy string) error
}

// Handlers aggregates all HTTP handlers
type Handlers struct {
	Health       *HealthHandler
	Webhook      *WebhookHandler
	Query        *QueryHandler
	Action       *ActionHandler
	Status       *StatusHandler
	Confirmation *ConfirmationHandler
}

// HealthCheckers holds all health check dependencies.
// Either may be nil when the backing store is disabled.
type HealthCheckers struct {
	DB    HealthChecker
	Redis HealthChecker
}

// Services holds the core components served over HTTP
type Services struct {
	Webhooks      WebhookIngestor
	Queries       QueryProcessor
	Actions       ActionExecutor
	Monitor       StatusMonitor
	AlertHistory  AlertHistory
	Confirmations ConfirmationBroker
}

// NewHandlers creates a new handlers instance
func NewHandlers(log *logger.Logger, svc Services, healthCheckers *HealthCheckers, version string) *Handlers {
	if healthCheckers == nil {
		healthCheckers = &HealthCheckers{}
	}

	return &Handlers{
		Health:       NewHealthHandler(log, healthCheckers.DB, healthCheckers.Redis, version),
		Webhook:      NewWebhookHandler(log, svc.Webhooks),
		Query:        NewQueryHandler(log, svc.Queries),
		Action:       NewActionHandler(log, svc.Actions),
		Status:       NewStatusHandler(log, svc.Monitor, svc.AlertHistory),
		Confirmation: NewConfirmationHandler(log, svc.Confirmations),
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// decodeJSON reads a JSON body, rejecting unknown fields
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
