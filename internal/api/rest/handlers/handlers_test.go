package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/confirmation"
	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/health"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/webhook"
	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/testutil"
)

type fakeIngestor struct {
	challenge string
	verifyErr error
	ingestErr error
	body      []byte
	source    models.Platform
}

func (f *fakeIngestor) VerifySubscription(source models.Platform, query url.Values) (string, error) {
	f.source = source
	return f.challenge, f.verifyErr
}

func (f *fakeIngestor) Ingest(ctx context.Context, source models.Platform, body []byte, headers http.Header) (*models.IngestAck, error) {
	f.source = source
	f.body = body
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &models.IngestAck{Source: source, Accepted: 1, EventIDs: []string{"ev-1"}}, nil
}

type fakeQueries struct {
	text   string
	userID string
}

func (f *fakeQueries) ProcessQuery(ctx context.Context, text, userID string) *models.IntegratedResponse {
	f.text = text
	f.userID = userID
	return &models.IntegratedResponse{ID: "resp-1", Query: text, UserID: userID}
}

type fakeActions struct {
	mu        sync.Mutex
	executed  []models.PlatformAction
	actx      models.ActionContext
	started   chan struct{}
	release   chan struct{}
	execs     map[string]*models.ActionExecution
	result    *models.ExecutionResult
	cancelErr error
	listErr   error
}

func newFakeActions() *fakeActions {
	return &fakeActions{execs: map[string]*models.ActionExecution{}}
}

func (f *fakeActions) ExecuteAction(ctx context.Context, action models.PlatformAction, actx models.ActionContext) *models.ExecutionResult {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.executed = append(f.executed, action)
	f.actx = actx
	f.mu.Unlock()
	if f.result != nil {
		return f.result
	}
	return &models.ExecutionResult{ActionID: action.ID, Status: models.ResultSuccess}
}

func (f *fakeActions) GetExecution(ctx context.Context, id string) (*models.ActionExecution, error) {
	if exec, ok := f.execs[id]; ok {
		return exec, nil
	}
	return nil, engine.ErrExecutionNotFound
}

func (f *fakeActions) ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.ActionExecution, 0, len(f.execs))
	for _, e := range f.execs {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeActions) CancelExecution(ctx context.Context, id string) error {
	return f.cancelErr
}

func (f *fakeActions) Templates() []models.ActionTemplate {
	return []models.ActionTemplate{{ID: "schedule_site_meeting", Name: "Schedule site meeting"}}
}

type fakeMonitor struct {
	alerts  []models.StatusAlert
	results []models.HealthCheckResult
	sweeps  int
	acked   []string
}

func (f *fakeMonitor) RunChecks(ctx context.Context) []models.HealthCheckResult {
	f.sweeps++
	return f.results
}

func (f *fakeMonitor) GetSummary() models.StatusSummary {
	return models.StatusSummary{TotalIntegrations: len(f.results), ActiveAlerts: len(f.alerts)}
}

func (f *fakeMonitor) GetResults() []models.HealthCheckResult { return f.results }

func (f *fakeMonitor) GetAlerts() []models.StatusAlert { return f.alerts }

func (f *fakeMonitor) Acknowledge(id string) error {
	for _, a := range f.alerts {
		if a.ID == id {
			f.acked = append(f.acked, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", health.ErrAlertNotFound, id)
}

type fakeHistory struct {
	platform models.Platform
	limit    int
}

func (f *fakeHistory) ListHistory(ctx context.Context, platform models.Platform, limit int) ([]models.AlertHistoryEntry, error) {
	f.platform = platform
	f.limit = limit
	return []models.AlertHistoryEntry{{ID: 1, AlertID: "a1", Kind: "raised", Platform: "whatsapp"}}, nil
}

type fakeBroker struct {
	pending   []models.ConfirmationRequest
	decided   map[string]bool
	decidedBy string
}

func (f *fakeBroker) ListPending() []models.ConfirmationRequest { return f.pending }

func (f *fakeBroker) Decide(id string, approved bool, decidedBy string) error {
	for _, p := range f.pending {
		if p.ID == id {
			if f.decided == nil {
				f.decided = map[string]bool{}
			}
			f.decided[id] = approved
			f.decidedBy = decidedBy
			return nil
		}
	}
	return fmt.Errorf("%w: %s", confirmation.ErrNotPending, id)
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

type trippedChecker struct{ fakeChecker }

func (trippedChecker) BreakerOpen() bool { return true }

func newTestRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Get("/webhooks/{platform}", h.Webhook.Verify)
	r.Post("/webhooks/{platform}", h.Webhook.Receive)
	r.Post("/queries", h.Query.Process)
	r.Post("/actions", h.Action.Execute)
	r.Get("/actions", h.Action.List)
	r.Get("/actions/{id}", h.Action.Get)
	r.Post("/actions/{id}/cancel", h.Action.Cancel)
	r.Get("/templates", h.Action.Templates)
	r.Get("/status", h.Status.GetStatus)
	r.Post("/status/check", h.Status.RunChecks)
	r.Get("/status/alerts", h.Status.ListAlerts)
	r.Get("/status/alerts/history", h.Status.AlertHistory)
	r.Post("/status/alerts/{id}/acknowledge", h.Status.AcknowledgeAlert)
	r.Get("/confirmations", h.Confirmation.List)
	r.Post("/confirmations/{id}/approve", h.Confirmation.Approve)
	r.Post("/confirmations/{id}/reject", h.Confirmation.Reject)
	return r
}

type fixture struct {
	ingestor *fakeIngestor
	queries  *fakeQueries
	actions  *fakeActions
	monitor  *fakeMonitor
	history  *fakeHistory
	broker   *fakeBroker
	handlers *Handlers
	router   chi.Router
}

func newFixture(checkers *HealthCheckers) *fixture {
	f := &fixture{
		ingestor: &fakeIngestor{challenge: "c-123"},
		queries:  &fakeQueries{},
		actions:  newFakeActions(),
		monitor:  &fakeMonitor{},
		history:  &fakeHistory{},
		broker:   &fakeBroker{},
	}
	f.handlers = NewHandlers(logger.NewNop(), Services{
		Webhooks:      f.ingestor,
		Queries:       f.queries,
		Actions:       f.actions,
		Monitor:       f.monitor,
		AlertHistory:  f.history,
		Confirmations: f.broker,
	}, checkers, "test")
	f.router = newTestRouter(f.handlers)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthHandler_Ready(t *testing.T) {
	t.Run("disabled stores are ready", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
		testutil.AssertJSONResponse(t, w, http.StatusOK, HealthResponse{
			Status:  "ready",
			Version: "test",
			Checks:  map[string]string{"database": "disabled", "redis": "disabled"},
		})
	})

	t.Run("failing redis is not ready", func(t *testing.T) {
		f := newFixture(&HealthCheckers{DB: fakeChecker{}, Redis: fakeChecker{err: errors.New("down")}})
		w := f.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
		testutil.AssertJSONResponse(t, w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "not ready",
			Version: "test",
			Checks:  map[string]string{"database": "healthy", "redis": "unhealthy"},
		})
	})

	t.Run("open breaker is degraded but ready", func(t *testing.T) {
		f := newFixture(&HealthCheckers{DB: trippedChecker{}, Redis: fakeChecker{}})
		w := f.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
		testutil.AssertJSONResponse(t, w, http.StatusOK, HealthResponse{
			Status:  "ready",
			Version: "test",
			Checks:  map[string]string{"database": "degraded", "redis": "healthy"},
		})
	})

	t.Run("liveness", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		testutil.AssertJSONResponse(t, w, http.StatusOK, HealthResponse{Status: "ok", Version: "test"})
	})
}

func TestWebhookHandler_Verify(t *testing.T) {
	f := newFixture(nil)
	w := f.do(httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.challenge=c-123", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-123", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, models.PlatformWhatsApp, f.ingestor.source)
}

func TestWebhookHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"verification", &webhook.VerificationError{Source: "whatsapp", Reason: "signature mismatch"}, http.StatusForbidden},
		{"unknown source", fmt.Errorf("%w: slack", webhook.ErrUnknownSource), http.StatusNotFound},
		{"invalid payload", fmt.Errorf("%w: bad json", webhook.ErrInvalidPayload), http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.ingestor.ingestErr = tt.err
			f.ingestor.verifyErr = tt.err

			w := f.do(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{}`)))
			testutil.AssertErrorResponse(t, w, tt.wantStatus, "")

			w = f.do(httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestWebhookHandler_Receive(t *testing.T) {
	f := newFixture(nil)
	w := f.do(httptest.NewRequest(http.MethodPost, "/webhooks/google_workspace", strings.NewReader(`{"kind":"x"}`)))

	testutil.AssertJSONResponse(t, w, http.StatusOK, models.IngestAck{
		Source:   models.PlatformGoogleWorkspace,
		Accepted: 1,
		EventIDs: []string{"ev-1"},
	})
	assert.Equal(t, `{"kind":"x"}`, string(f.ingestor.body))
}

func TestWebhookHandler_PayloadTooLarge(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(strings.Repeat("x", 64)))
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 16)
	f.router.ServeHTTP(w, req)

	testutil.AssertErrorResponse(t, w, http.StatusRequestEntityTooLarge, "too large")
}

func TestQueryHandler_Process(t *testing.T) {
	t.Run("body user id for anonymous callers", func(t *testing.T) {
		f := newFixture(nil)
		req := testutil.MakeJSONRequest(t, http.MethodPost, "/queries", models.QueryRequest{Query: "  any urgent messages?  ", UserID: "pm-2"})
		w := f.do(req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "any urgent messages?", f.queries.text)
		assert.Equal(t, "pm-2", f.queries.userID)
	})

	t.Run("token subject wins", func(t *testing.T) {
		f := newFixture(nil)
		req := testutil.MakeJSONRequest(t, http.MethodPost, "/queries", models.QueryRequest{Query: "schedule today", UserID: "spoofed"})
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{RegisteredClaims: jwtSubject("foreman-1")}))
		f.do(req)

		assert.Equal(t, "foreman-1", f.queries.userID)
	})

	t.Run("blank query rejected", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do(testutil.MakeJSONRequest(t, http.MethodPost, "/queries", models.QueryRequest{Query: "   "}))
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, "query is required")
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do(httptest.NewRequest(http.MethodPost, "/queries", strings.NewReader(`{"query":"x","extra":1}`)))
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, "Invalid request body")
	})
}

func TestActionHandler_ExecuteSynchronous(t *testing.T) {
	f := newFixture(nil)
	req := testutil.MakeJSONRequest(t, http.MethodPost, "/actions", models.ExecuteActionRequest{
		Action: models.PlatformAction{
			Type:       "send_message",
			Platforms:  []models.Platform{models.PlatformWhatsApp},
			Parameters: map[string]interface{}{"recipient": "+4477", "message": "Crane inspection at 9"},
		},
		ProjectID: "proj-7",
	})
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.actions.executed, 1)
	assert.NotEmpty(t, f.actions.executed[0].ID, "an id is assigned before execution")
	assert.Equal(t, "proj-7", f.actions.actx.ProjectID)
	assert.Equal(t, "api", f.actions.actx.Source)
}

func TestActionHandler_ExecuteWithConfirmationRunsInBackground(t *testing.T) {
	f := newFixture(nil)
	f.actions.started = make(chan struct{})
	f.actions.release = make(chan struct{})

	req := testutil.MakeJSONRequest(t, http.MethodPost, "/actions", models.ExecuteActionRequest{
		Action: models.PlatformAction{
			ID:                   "act-9",
			Type:                 "cancel_site_meeting",
			Platforms:            []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
			ConfirmationRequired: true,
		},
	})
	w := f.do(req)

	testutil.AssertJSONResponse(t, w, http.StatusAccepted, AcceptedResponse{ActionID: "act-9", Status: models.ActionStatusPending})

	<-f.actions.started
	close(f.actions.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.handlers.Action.Wait(ctx))
	f.actions.mu.Lock()
	defer f.actions.mu.Unlock()
	assert.Len(t, f.actions.executed, 1)
}

func TestActionHandler_ExecuteDuplicateID(t *testing.T) {
	t.Run("recorded id is rejected before running", func(t *testing.T) {
		for _, confirm := range []bool{false, true} {
			f := newFixture(nil)
			f.actions.execs["act-1"] = &models.ActionExecution{ActionID: "act-1", Status: models.ActionStatusPending}

			w := f.do(testutil.MakeJSONRequest(t, http.MethodPost, "/actions", models.ExecuteActionRequest{
				Action: models.PlatformAction{
					ID:                   "act-1",
					Type:                 "send_message",
					Platforms:            []models.Platform{models.PlatformWhatsApp},
					ConfirmationRequired: confirm,
				},
			}))

			testutil.AssertErrorResponse(t, w, http.StatusConflict, "already in use")
			assert.Empty(t, f.actions.executed)
		}
	})

	t.Run("duplicate reported by the engine", func(t *testing.T) {
		f := newFixture(nil)
		f.actions.result = &models.ExecutionResult{
			ActionID: "act-2",
			Status:   models.ResultFailed,
			Errors:   []string{engine.ErrDuplicateAction.Error()},
		}

		w := f.do(testutil.MakeJSONRequest(t, http.MethodPost, "/actions", models.ExecuteActionRequest{
			Action: models.PlatformAction{ID: "act-2", Type: "send_message", Platforms: []models.Platform{models.PlatformWhatsApp}},
		}))

		testutil.AssertErrorResponse(t, w, http.StatusConflict, "already in use")
	})
}

func TestActionHandler_ExecuteValidation(t *testing.T) {
	f := newFixture(nil)
	w := f.do(httptest.NewRequest(http.MethodPost, "/actions", strings.NewReader(`{"action":{"type":"send_message","platforms":["fax"]}}`)))

	testutil.AssertErrorResponse(t, w, http.StatusBadRequest, "action.platforms[0]")
	assert.Empty(t, f.actions.executed)
}

func TestActionHandler_GetAndCancel(t *testing.T) {
	f := newFixture(nil)
	f.actions.execs["act-1"] = &models.ActionExecution{ActionID: "act-1", Status: models.ActionStatusCompleted}

	w := f.do(httptest.NewRequest(http.MethodGet, "/actions/act-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"action_id":"act-1"`)

	w = f.do(httptest.NewRequest(http.MethodGet, "/actions/missing", nil))
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, "not found")

	f.actions.cancelErr = engine.ErrNotCancellable
	w = f.do(httptest.NewRequest(http.MethodPost, "/actions/act-1/cancel", nil))
	testutil.AssertErrorResponse(t, w, http.StatusConflict, "no longer be cancelled")

	f.actions.cancelErr = engine.ErrExecutionNotFound
	w = f.do(httptest.NewRequest(http.MethodPost, "/actions/missing/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.actions.cancelErr = nil
	w = f.do(httptest.NewRequest(http.MethodPost, "/actions/act-2/cancel", nil))
	testutil.AssertJSONResponse(t, w, http.StatusOK, map[string]string{"action_id": "act-2", "status": "cancelled"})
}

func TestActionHandler_ListAndTemplates(t *testing.T) {
	f := newFixture(nil)
	w := f.do(httptest.NewRequest(http.MethodGet, "/actions?limit=abc", nil))
	testutil.AssertJSONResponse(t, w, http.StatusOK, map[string]interface{}{"executions": []interface{}{}, "count": 0})

	f.actions.listErr = errors.New("db down")
	w = f.do(httptest.NewRequest(http.MethodGet, "/actions", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/templates", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "schedule_site_meeting")
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(nil)
	f.monitor.results = []models.HealthCheckResult{{Service: models.PlatformWhatsApp, Status: models.HealthHealthy}}
	f.monitor.alerts = []models.StatusAlert{
		{ID: "a1", Platform: models.PlatformWhatsApp, Severity: models.SeverityHigh},
		{ID: "a2", Platform: models.PlatformGoogleWorkspace, Severity: models.SeverityLow},
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_integrations":1`)

	w = f.do(httptest.NewRequest(http.MethodPost, "/status/check", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.monitor.sweeps)

	w = f.do(httptest.NewRequest(http.MethodGet, "/status/alerts?platform=google_workspace", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"id":"a2"`)

	w = f.do(httptest.NewRequest(http.MethodPost, "/status/alerts/a1/acknowledge", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a1"}, f.monitor.acked)

	w = f.do(httptest.NewRequest(http.MethodPost, "/status/alerts/zzz/acknowledge", nil))
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, "Alert not found")

	w = f.do(httptest.NewRequest(http.MethodGet, "/status/alerts/history?platform=whatsapp&limit=5", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PlatformWhatsApp, f.history.platform)
	assert.Equal(t, 5, f.history.limit)
}

func TestStatusHandler_HistoryWithoutDatabase(t *testing.T) {
	h := NewStatusHandler(logger.NewNop(), &fakeMonitor{}, nil)
	w := httptest.NewRecorder()
	h.AlertHistory(w, httptest.NewRequest(http.MethodGet, "/status/alerts/history", nil))

	testutil.AssertErrorResponse(t, w, http.StatusNotImplemented, "database")
}

func TestConfirmationHandler(t *testing.T) {
	f := newFixture(nil)
	f.broker.pending = []models.ConfirmationRequest{{ID: "act-3", ActionType: "cancel_site_meeting"}}

	w := f.do(httptest.NewRequest(http.MethodGet, "/confirmations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"act-3"`)

	w = f.do(testutil.MakeJSONRequest(t, http.MethodPost, "/confirmations/act-3/reject", models.ConfirmationDecision{DecidedBy: "site-lead"}))
	testutil.AssertJSONResponse(t, w, http.StatusOK, map[string]interface{}{"id": "act-3", "approved": false})
	assert.Equal(t, false, f.broker.decided["act-3"])
	assert.Equal(t, "site-lead", f.broker.decidedBy)

	// no body at all
	w = f.do(httptest.NewRequest(http.MethodPost, "/confirmations/act-3/approve", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, f.broker.decided["act-3"])

	w = f.do(httptest.NewRequest(http.MethodPost, "/confirmations/nope/approve", nil))
	testutil.AssertErrorResponse(t, w, http.StatusNotFound, "not pending")
}

func jwtSubject(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: sub}
}
