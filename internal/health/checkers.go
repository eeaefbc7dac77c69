package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
)

// Observation is what a Checker saw. The Monitor turns it into a HealthCheckResult.
type Observation struct {
	Connection models.ConnectionStatus
	// Service is nil when the service status could not be read; ServiceErr says why
	Service    *models.ServiceStatus
	ServiceErr error
	Warnings   []string
}

// Checker observes one service
type Checker interface {
	Service() models.Platform
	Check(ctx context.Context) Observation
}

// AdapterChecker observes a platform adapter
type AdapterChecker struct {
	adapter platforms.Adapter
}

// NewAdapterChecker creates a checker for a platform adapter
func NewAdapterChecker(adapter platforms.Adapter) *AdapterChecker {
	return &AdapterChecker{adapter: adapter}
}

func (c *AdapterChecker) Service() models.Platform {
	return c.adapter.Platform()
}

func (c *AdapterChecker) Check(ctx context.Context) Observation {
	obs := Observation{Connection: c.adapter.GetConnectionStatus(ctx)}
	obs.Service, obs.ServiceErr = c.adapter.GetServiceStatus(ctx)
	return obs
}

// QueueStats is implemented by the webhook processor
type QueueStats interface {
	Stats() models.WebhookStats
}

// Backlog thresholds for the webhook queue
const (
	DefaultBacklogWarning  = 50
	DefaultBacklogCritical = 500
)

// QueueChecker reports the webhook processor backlog
type QueueChecker struct {
	stats    QueueStats
	warning  int
	critical int

	mu          sync.Mutex
	lastDropped int64
}

// NewQueueChecker creates a backlog checker; non-positive thresholds use the defaults
func NewQueueChecker(stats QueueStats, warning, critical int) *QueueChecker {
	if warning <= 0 {
		warning = DefaultBacklogWarning
	}
	if critical <= warning {
		critical = max(DefaultBacklogCritical, warning*10)
	}
	return &QueueChecker{stats: stats, warning: warning, critical: critical}
}

func (c *QueueChecker) Service() models.Platform {
	return models.ServiceWebhookProcessor
}

func (c *QueueChecker) Check(ctx context.Context) Observation {
	s := c.stats.Stats()
	obs := Observation{
		Connection: models.ConnectionConnected,
		Service:    &models.ServiceStatus{AuthConfigured: true, AuthValid: true, LastActivity: s.LastProcessedAt},
	}

	switch {
	case s.QueueLength >= c.critical:
		obs.Connection = models.ConnectionNeedsAttention
		obs.Warnings = append(obs.Warnings, fmt.Sprintf("Webhook queue backlog critical: %d events waiting", s.QueueLength))
	case s.QueueLength >= c.warning:
		obs.Warnings = append(obs.Warnings, fmt.Sprintf("Webhook queue backlog: %d events waiting", s.QueueLength))
	}

	c.mu.Lock()
	dropped := s.Dropped - c.lastDropped
	c.lastDropped = s.Dropped
	c.mu.Unlock()
	if dropped > 0 {
		obs.Warnings = append(obs.Warnings, "Webhook events were dropped after exhausting retries")
	}
	return obs
}

// ClassifierStats is implemented by the query orchestrator
type ClassifierStats interface {
	ClassifierStats() (calls, failures int64)
}

// minClassifierSample is the number of calls needed before failures count
const minClassifierSample = 3

// ClassifierChecker judges the intent classifier from its recent failure rate
// instead of spending a model call on every sweep
type ClassifierChecker struct {
	stats      ClassifierStats
	configured bool

	mu                      sync.Mutex
	lastCalls, lastFailures int64
}

// NewClassifierChecker creates a checker; configured is false when only keyword matching is available
func NewClassifierChecker(stats ClassifierStats, configured bool) *ClassifierChecker {
	return &ClassifierChecker{stats: stats, configured: configured}
}

func (c *ClassifierChecker) Service() models.Platform {
	return models.ServiceIntentClassifier
}

func (c *ClassifierChecker) Check(ctx context.Context) Observation {
	if !c.configured {
		return Observation{
			Connection: models.ConnectionConnected,
			Service:    &models.ServiceStatus{AuthConfigured: true, AuthValid: true},
			Warnings:   []string{"No language model configured; queries use keyword matching"},
		}
	}

	calls, failures := c.stats.ClassifierStats()
	c.mu.Lock()
	dCalls, dFailures := calls-c.lastCalls, failures-c.lastFailures
	c.lastCalls, c.lastFailures = calls, failures
	c.mu.Unlock()

	obs := Observation{
		Connection: models.ConnectionConnected,
		Service:    &models.ServiceStatus{AuthConfigured: true, AuthValid: true},
	}
	if dCalls < minClassifierSample || dFailures == 0 {
		return obs
	}

	switch {
	case dFailures == dCalls:
		obs.Connection = models.ConnectionDisconnected
	case dFailures*2 >= dCalls:
		obs.Connection = models.ConnectionNeedsAttention
	}
	obs.Warnings = append(obs.Warnings, fmt.Sprintf("Intent classifier failures: %d of %d calls since the last check", dFailures, dCalls))
	return obs
}
