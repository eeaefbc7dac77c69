package platforms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/mocks"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

func testBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

func TestGuarded_PassesThrough(t *testing.T) {
	fake := mocks.NewPlatformAdapter(models.PlatformWhatsApp)
	g := NewGuarded(fake, testBreakerSettings(), nil, logger.NewForTesting())

	receipt, err := g.SendMessage(context.Background(), models.MessageTarget{Recipient: "+15550001"}, models.MessageContent{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "+15550001", receipt.Recipient)

	items, err := g.FetchRecentActivity(context.Background(), models.ActivityFilter{})
	require.NoError(t, err)
	assert.Nil(t, items)

	require.NoError(t, g.CancelEvent(context.Background(), "evt-1"))
	assert.Equal(t, []string{"send_message", "fetch_recent_activity", "cancel_event"}, fake.Operations())
	assert.Equal(t, models.PlatformWhatsApp, g.Platform())
	assert.Same(t, fake, g.Unwrap())
}

func TestGuarded_OpensAfterRepeatedFailures(t *testing.T) {
	fake := mocks.NewPlatformAdapter(models.PlatformGoogleWorkspace)
	fake.UploadDocumentFunc = func(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error) {
		return nil, &APIError{Platform: models.PlatformGoogleWorkspace, StatusCode: 503, Message: "backend error"}
	}
	g := NewGuarded(fake, testBreakerSettings(), nil, logger.NewForTesting())

	for i := 0; i < 3; i++ {
		_, err := g.UploadDocument(context.Background(), models.DocumentMeta{Name: "a.pdf"}, nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, gobreaker.StateOpen, g.BreakerState())

	_, err := g.UploadDocument(context.Background(), models.DocumentMeta{Name: "a.pdf"}, nil)
	assert.True(t, errors.Is(err, ErrPlatformUnavailable))
	assert.Equal(t, 3, fake.CallCount("upload_document"), "open breaker must not reach the adapter")

	assert.Equal(t, models.ConnectionNeedsAttention, g.GetConnectionStatus(context.Background()))
	status, err := g.GetServiceStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Warnings, 1)
	assert.Contains(t, status.Warnings[0], "circuit breaker open")
}

func TestGuarded_ClientErrorsDoNotTrip(t *testing.T) {
	fake := mocks.NewPlatformAdapter(models.PlatformWhatsApp)
	fake.CreateEventFunc = func(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error) {
		return nil, ErrOperationNotSupported
	}
	fake.DeleteDocumentFunc = func(ctx context.Context, documentID string) error {
		return &APIError{StatusCode: 404, Message: "not found"}
	}
	g := NewGuarded(fake, testBreakerSettings(), nil, logger.NewForTesting())

	for i := 0; i < 5; i++ {
		_, err := g.CreateEvent(context.Background(), models.EventMeta{Title: "x"})
		assert.True(t, errors.Is(err, ErrOperationNotSupported))
		assert.Error(t, g.DeleteDocument(context.Background(), "doc"))
	}
	assert.Equal(t, gobreaker.StateClosed, g.BreakerState())
	assert.Equal(t, models.ConnectionConnected, g.GetConnectionStatus(context.Background()))
}
