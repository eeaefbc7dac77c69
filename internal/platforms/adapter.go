// Package platforms defines the uniform contract over the external
// messaging and workspace APIs and the registry the core uses to reach them.
package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/davidmoltin/site-integrations/internal/models"
)

var (
	// ErrPlatformUnavailable is returned when a platform cannot be reached or its breaker is open
	ErrPlatformUnavailable = errors.New("platform unavailable")

	// ErrOperationNotSupported is returned by adapters for calls their platform has no equivalent of
	ErrOperationNotSupported = errors.New("operation not supported by platform")

	// ErrUnknownPlatform is returned when no adapter is registered for a platform tag
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrNotConfigured is returned when an adapter is missing credentials
	ErrNotConfigured = errors.New("platform credentials not configured")
)

// Adapter is implemented once per external platform
type Adapter interface {
	Platform() models.Platform

	SendMessage(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error)
	UploadDocument(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error)
	DeleteDocument(ctx context.Context, documentID string) error
	CreateEvent(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error)
	CancelEvent(ctx context.Context, eventID string) error
	FetchRecentActivity(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error)

	GetConnectionStatus(ctx context.Context) models.ConnectionStatus
	GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error)
}

// APIError is a non-2xx response from a platform API
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error (status %d, code %s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Platform, e.StatusCode, e.Message)
}

// IsAuthError reports whether the platform rejected the credentials
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsClientError reports a 4xx other than rate limiting
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// IsAuthError reports whether err is an APIError caused by bad credentials
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError()
}
