package mocks

import (
	"context"
	"sync"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// Call records one invocation on a PlatformAdapter
type Call struct {
	Operation string
	Args      []interface{}
}

// PlatformAdapter is a configurable in-memory adapter for testing.
// Unset function fields succeed with canned results.
type PlatformAdapter struct {
	Name models.Platform

	SendMessageFunc         func(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error)
	UploadDocumentFunc      func(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error)
	DeleteDocumentFunc      func(ctx context.Context, documentID string) error
	CreateEventFunc         func(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error)
	CancelEventFunc         func(ctx context.Context, eventID string) error
	FetchRecentActivityFunc func(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error)
	ConnectionStatusFunc    func(ctx context.Context) models.ConnectionStatus
	ServiceStatusFunc       func(ctx context.Context) (*models.ServiceStatus, error)

	mu    sync.Mutex
	calls []Call
}

// NewPlatformAdapter creates a fake adapter for the given platform
func NewPlatformAdapter(platform models.Platform) *PlatformAdapter {
	return &PlatformAdapter{Name: platform}
}

func (a *PlatformAdapter) record(op string, args ...interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Operation: op, Args: args})
}

// Calls returns every recorded call in order
func (a *PlatformAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns how many times an operation was invoked.
// Status checks are not recorded.
func (a *PlatformAdapter) CallCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Operation == op {
			n++
		}
	}
	return n
}

// Operations returns the recorded operation names in order
func (a *PlatformAdapter) Operations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.Operation)
	}
	return out
}

func (a *PlatformAdapter) Platform() models.Platform {
	return a.Name
}

func (a *PlatformAdapter) SendMessage(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error) {
	a.record("send_message", target, content)
	if a.SendMessageFunc != nil {
		return a.SendMessageFunc(ctx, target, content)
	}
	return &models.MessageReceipt{MessageID: "msg-1", Recipient: target.Recipient}, nil
}

func (a *PlatformAdapter) UploadDocument(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error) {
	a.record("upload_document", meta)
	if a.UploadDocumentFunc != nil {
		return a.UploadDocumentFunc(ctx, meta, content)
	}
	return &models.DocumentRef{ID: "doc-1", Name: meta.Name}, nil
}

func (a *PlatformAdapter) DeleteDocument(ctx context.Context, documentID string) error {
	a.record("delete_document", documentID)
	if a.DeleteDocumentFunc != nil {
		return a.DeleteDocumentFunc(ctx, documentID)
	}
	return nil
}

func (a *PlatformAdapter) CreateEvent(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error) {
	a.record("create_event", meta)
	if a.CreateEventFunc != nil {
		return a.CreateEventFunc(ctx, meta)
	}
	return &models.CalendarEventRef{ID: "evt-1"}, nil
}

func (a *PlatformAdapter) CancelEvent(ctx context.Context, eventID string) error {
	a.record("cancel_event", eventID)
	if a.CancelEventFunc != nil {
		return a.CancelEventFunc(ctx, eventID)
	}
	return nil
}

func (a *PlatformAdapter) FetchRecentActivity(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	a.record("fetch_recent_activity", filter)
	if a.FetchRecentActivityFunc != nil {
		return a.FetchRecentActivityFunc(ctx, filter)
	}
	return nil, nil
}

func (a *PlatformAdapter) GetConnectionStatus(ctx context.Context) models.ConnectionStatus {
	if a.ConnectionStatusFunc != nil {
		return a.ConnectionStatusFunc(ctx)
	}
	return models.ConnectionConnected
}

func (a *PlatformAdapter) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	if a.ServiceStatusFunc != nil {
		return a.ServiceStatusFunc(ctx)
	}
	return &models.ServiceStatus{AuthConfigured: true, AuthValid: true}, nil
}
