package platforms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

// BreakerSettings configures the circuit breaker around an adapter
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings mirrors the database breaker: 60% failures over at least 3 calls
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// Guarded decorates an Adapter with a circuit breaker and call metrics.
// Status calls bypass the breaker since they are what decides health.
type Guarded struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewGuarded wraps an adapter
func NewGuarded(inner Adapter, settings BreakerSettings, m *metrics.Metrics, log *logger.Logger) *Guarded {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	platform := string(inner.Platform())
	log = log.WithPlatform(platform)

	g := &Guarded{inner: inner, metrics: m, logger: log}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        platform,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= settings.FailureRatio
			if shouldTrip {
				log.Errorf(
					"Circuit breaker tripping: requests=%d, failures=%d, ratio=%.2f",
					counts.Requests,
					counts.TotalFailures,
					failureRatio,
				)
			}
			return shouldTrip
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("Circuit breaker state changed: %s -> %s", from.String(), to.String())
			m.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrOperationNotSupported) || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.IsClientError() && !apiErr.IsAuthError() {
				return true
			}
			return false
		},
	})
	m.CircuitBreakerState.WithLabelValues(platform).Set(0)
	return g
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState returns the current breaker state
func (g *Guarded) BreakerState() gobreaker.State {
	return g.breaker.State()
}

// Unwrap returns the decorated adapter
func (g *Guarded) Unwrap() Adapter {
	return g.inner
}

func guard[T any](g *Guarded, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn()
	})

	platform := string(g.inner.Platform())
	g.metrics.PlatformCallDuration.WithLabelValues(platform, operation).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.metrics.PlatformCallsTotal.WithLabelValues(platform, operation, "rejected").Inc()
			return zero, fmt.Errorf("%w: %s circuit %s", ErrPlatformUnavailable, platform, g.breaker.State())
		}
		g.metrics.PlatformCallsTotal.WithLabelValues(platform, operation, "error").Inc()
		return zero, err
	}

	g.metrics.PlatformCallsTotal.WithLabelValues(platform, operation, "success").Inc()
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

func (g *Guarded) Platform() models.Platform {
	return g.inner.Platform()
}

func (g *Guarded) SendMessage(ctx context.Context, target models.MessageTarget, content models.MessageContent) (*models.MessageReceipt, error) {
	return guard(g, "send_message", func() (*models.MessageReceipt, error) {
		return g.inner.SendMessage(ctx, target, content)
	})
}

func (g *Guarded) UploadDocument(ctx context.Context, meta models.DocumentMeta, content []byte) (*models.DocumentRef, error) {
	return guard(g, "upload_document", func() (*models.DocumentRef, error) {
		return g.inner.UploadDocument(ctx, meta, content)
	})
}

func (g *Guarded) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := guard(g, "delete_document", func() (struct{}, error) {
		return struct{}{}, g.inner.DeleteDocument(ctx, documentID)
	})
	return err
}

func (g *Guarded) CreateEvent(ctx context.Context, meta models.EventMeta) (*models.CalendarEventRef, error) {
	return guard(g, "create_event", func() (*models.CalendarEventRef, error) {
		return g.inner.CreateEvent(ctx, meta)
	})
}

func (g *Guarded) CancelEvent(ctx context.Context, eventID string) error {
	_, err := guard(g, "cancel_event", func() (struct{}, error) {
		return struct{}{}, g.inner.CancelEvent(ctx, eventID)
	})
	return err
}

func (g *Guarded) FetchRecentActivity(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityItem, error) {
	return guard(g, "fetch_recent_activity", func() ([]models.ActivityItem, error) {
		return g.inner.FetchRecentActivity(ctx, filter)
	})
}

// GetConnectionStatus reports needs_attention while the breaker is not closed
func (g *Guarded) GetConnectionStatus(ctx context.Context) models.ConnectionStatus {
	status := g.inner.GetConnectionStatus(ctx)
	if status == models.ConnectionConnected && g.breaker.State() != gobreaker.StateClosed {
		return models.ConnectionNeedsAttention
	}
	return status
}

// GetServiceStatus adds a warning while the breaker is open
func (g *Guarded) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	status, err := g.inner.GetServiceStatus(ctx)
	if err != nil {
		return nil, err
	}
	if state := g.breaker.State(); state != gobreaker.StateClosed {
		status.Warnings = append(status.Warnings, fmt.Sprintf("circuit breaker %s after repeated failures", state))
	}
	return status, nil
}
