package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// Client talks to the integration API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError is a non-success response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// StatusReport is the response of the status endpoints
type StatusReport struct {
	Summary  models.StatusSummary       `json:"summary"`
	Services []models.HealthCheckResult `json:"services"`
}

// ActionSubmission is what the API returns for a submitted action. Result is
// set when the action ran synchronously; otherwise it awaits confirmation.
type ActionSubmission struct {
	ActionID string                  `json:"action_id"`
	Status   models.ActionStatus     `json:"status"`
	Result   *models.ExecutionResult `json:"-"`
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// call performs the request and decodes the body into out when the status is expected
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}, expected ...int) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !containsStatus(expected, resp.StatusCode) {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func containsStatus(expected []int, code int) bool {
	if len(expected) == 0 {
		return code == http.StatusOK
	}
	for _, e := range expected {
		if e == code {
			return true
		}
	}
	return false
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API is not healthy (status: %d)", resp.StatusCode)
	}

	return nil
}

// Query asks a natural-language question across all integrations
func (c *Client) Query(ctx context.Context, text string) (*models.IntegratedResponse, error) {
	var out models.IntegratedResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/queries", models.QueryRequest{Query: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus returns the last known integration status
func (c *Client) GetStatus(ctx context.Context) (*StatusReport, error) {
	var out StatusReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunChecks triggers an immediate health sweep
func (c *Client) RunChecks(ctx context.Context) (*StatusReport, error) {
	var out StatusReport
	if err := c.call(ctx, http.MethodPost, "/api/v1/status/check", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAlerts returns current alerts, optionally for one platform
func (c *Client) ListAlerts(ctx context.Context, platform string) ([]models.StatusAlert, error) {
	path := "/api/v1/status/alerts"
	if platform != "" {
		path += "?platform=" + url.QueryEscape(platform)
	}

	var out struct {
		Alerts []models.StatusAlert `json:"alerts"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// AcknowledgeAlert marks an alert as seen
func (c *Client) AcknowledgeAlert(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/status/alerts/"+url.PathEscape(id)+"/acknowledge", nil, nil)
}

// AlertHistory returns persisted alert transitions, newest first
func (c *Client) AlertHistory(ctx context.Context, platform string, limit int) ([]models.AlertHistoryEntry, error) {
	q := url.Values{}
	if platform != "" {
		q.Set("platform", platform)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/status/alerts/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Entries []models.AlertHistoryEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ExecuteAction submits an action. Actions that need confirmation come back
// without a Result.
func (c *Client) ExecuteAction(ctx context.Context, action models.PlatformAction, projectID string) (*ActionSubmission, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/actions", models.ExecuteActionRequest{
		Action:    action,
		ProjectID: projectID,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result models.ExecutionResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &ActionSubmission{ActionID: result.ActionID, Status: statusOf(result.Status), Result: &result}, nil
	case http.StatusAccepted:
		var sub ActionSubmission
		if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &sub, nil
	default:
		return nil, decodeAPIError(resp)
	}
}

func statusOf(r models.ResultStatus) models.ActionStatus {
	switch r {
	case models.ResultSuccess, models.ResultPartial:
		return models.ActionStatusCompleted
	case models.ResultCancelled:
		return models.ActionStatusCancelled
	case models.ResultRolledBack:
		return models.ActionStatusRolledBack
	default:
		return models.ActionStatusFailed
	}
}

// GetExecution retrieves a specific action execution
func (c *Client) GetExecution(ctx context.Context, id string) (*models.ActionExecution, error) {
	var out models.ActionExecution
	if err := c.call(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExecutions retrieves recent action executions
func (c *Client) ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error) {
	path := "/api/v1/actions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Executions []models.ActionExecution `json:"executions"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// CancelAction cancels an action still waiting for confirmation
func (c *Client) CancelAction(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Templates lists the action templates the server knows
func (c *Client) Templates(ctx context.Context) ([]models.ActionTemplate, error) {
	var out struct {
		Templates []models.ActionTemplate `json:"templates"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/templates", nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// PendingConfirmations lists actions waiting for a decision
func (c *Client) PendingConfirmations(ctx context.Context) ([]models.ConfirmationRequest, error) {
	var out struct {
		Confirmations []models.ConfirmationRequest `json:"confirmations"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/confirmations", nil, &out); err != nil {
		return nil, err
	}
	return out.Confirmations, nil
}

// Decide approves or rejects a pending confirmation
func (c *Client) Decide(ctx context.Context, id string, approve bool) error {
	verb := "reject"
	if approve {
		verb = "approve"
	}
	return c.call(ctx, http.MethodPost, "/api/v1/confirmations/"+url.PathEscape(id)+"/"+verb, models.ConfirmationDecision{}, nil)
}
