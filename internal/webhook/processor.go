// Package webhook ingests platform webhook deliveries, normalizes them into
// events and dispatches them one at a time, in priority order, to registered handlers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const (
	// DefaultMaxRetries is the number of attempts before an event is dropped
	DefaultMaxRetries     = 3
	defaultHandlerTimeout = 30 * time.Second
)

// HandlerFunc handles one event. A returned error schedules a retry.
type HandlerFunc func(ctx context.Context, event *models.WebhookEvent) error

// Source verifies and normalizes deliveries from one platform
type Source interface {
	Platform() models.Platform
	// VerifySubscription answers the provider's subscription handshake with the challenge to echo
	VerifySubscription(query url.Values) (string, error)
	// VerifyPayload checks the delivery signature
	VerifyPayload(body []byte, headers http.Header) error
	// Normalize converts a delivery into zero or more events
	Normalize(body []byte, headers http.Header) ([]*models.WebhookEvent, error)
}

type registration struct {
	eventType string
	priority  models.EventPriority
	handler   HandlerFunc
}

// Config configures the processor
type Config struct {
	MaxRetries     int
	HandlerTimeout time.Duration
}

// Processor owns the event queue and the handler registry
type Processor struct {
	maxRetries     int
	handlerTimeout time.Duration

	mu       sync.Mutex
	queue    eventQueue
	handlers map[string]registration
	sources  map[models.Platform]Source

	processing atomic.Bool

	processed       atomic.Int64
	failed          atomic.Int64
	dropped         atomic.Int64
	unhandled       atomic.Int64
	lastProcessedAt atomic.Pointer[time.Time]

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewProcessor creates a webhook processor
func NewProcessor(cfg Config, m *metrics.Metrics, log *logger.Logger) *Processor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Processor{
		maxRetries:     cfg.MaxRetries,
		handlerTimeout: cfg.HandlerTimeout,
		handlers:       make(map[string]registration),
		sources:        make(map[models.Platform]Source),
		metrics:        m,
		logger:         log.WithComponent("webhook"),
	}
}

// RegisterSource adds a platform that can deliver webhooks
func (p *Processor) RegisterSource(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[src.Platform()] = src
}

// RegisterHandler upserts the handler for "<source>.<eventType>". The last registration wins.
func (p *Processor) RegisterHandler(source models.Platform, eventType string, priority models.EventPriority, handler HandlerFunc) {
	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	key := models.HandlerKey(source, eventType)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[key]; exists {
		p.logger.Info("Replacing webhook handler", logger.String("key", key))
	}
	p.handlers[key] = registration{eventType: eventType, priority: priority, handler: handler}
}

// VerifySubscription runs the provider handshake for a source
func (p *Processor) VerifySubscription(source models.Platform, query url.Values) (string, error) {
	src, err := p.source(source)
	if err != nil {
		return "", err
	}

	challenge, err := src.VerifySubscription(query)
	if err != nil {
		p.metrics.WebhookVerificationFailures.WithLabelValues(string(source)).Inc()
		p.logger.Warn("Webhook subscription verification failed",
			logger.String("source", string(source)),
			logger.Err(err),
		)
		return "", err
	}

	p.logger.Info("Webhook subscription verified", logger.String("source", string(source)))
	return challenge, nil
}

// Ingest verifies and normalizes a delivery and enqueues the resulting events.
// Handlers never run on this path.
func (p *Processor) Ingest(ctx context.Context, source models.Platform, body []byte, headers http.Header) (*models.IngestAck, error) {
	src, err := p.source(source)
	if err != nil {
		return nil, err
	}

	if err := src.VerifyPayload(body, headers); err != nil {
		p.metrics.WebhookVerificationFailures.WithLabelValues(string(source)).Inc()
		p.logger.Warn("Rejected webhook delivery",
			logger.String("source", string(source)),
			logger.Err(err),
		)
		return nil, err
	}

	events, err := src.Normalize(body, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ack := &models.IngestAck{Source: source, EventIDs: make([]string, 0, len(events))}
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if ev.Source == "" {
			ev.Source = source
		}
		p.QueueEvent(ev)
		ack.EventIDs = append(ack.EventIDs, ev.ID)
	}
	ack.Accepted = len(ack.EventIDs)

	p.logger.Debug("Webhook delivery ingested",
		logger.String("source", string(source)),
		logger.Int("events", ack.Accepted),
	)
	return ack, nil
}

func (p *Processor) source(platform models.Platform) (Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, platform)
	}
	return src, nil
}

// QueueEvent enqueues an event by the priority of its registration, raised to
// the event's own priority when that is more urgent.
func (p *Processor) QueueEvent(ev *models.WebhookEvent) {
	p.mu.Lock()
	priority := p.effectivePriority(ev)
	p.queue.push(ev, priority, false)
	length := p.queue.len()
	p.mu.Unlock()

	p.metrics.WebhookEventsReceived.WithLabelValues(string(ev.Source), ev.Type).Inc()
	p.metrics.WebhookQueueLength.Set(float64(length))
}

func (p *Processor) effectivePriority(ev *models.WebhookEvent) models.EventPriority {
	priority := models.PriorityMedium
	if reg, ok := p.handlers[ev.HandlerKey()]; ok {
		priority = reg.priority
	}
	if ev.Priority.Valid() && ev.Priority.Rank() > priority.Rank() {
		priority = ev.Priority
	}
	return priority
}

// Drain processes up to max events, one at a time. It returns immediately with
// zero if another drain is already running. max <= 0 drains until empty.
func (p *Processor) Drain(ctx context.Context, max int) int {
	if !p.processing.CompareAndSwap(false, true) {
		return 0
	}
	defer p.processing.Store(false)

	n := 0
	for max <= 0 || n < max {
		if ctx.Err() != nil {
			break
		}
		if !p.processNext(ctx) {
			break
		}
		n++
	}
	return n
}

// ProcessNext processes a single event if one is queued and no drain is running
func (p *Processor) ProcessNext(ctx context.Context) bool {
	if !p.processing.CompareAndSwap(false, true) {
		return false
	}
	defer p.processing.Store(false)
	return p.processNext(ctx)
}

func (p *Processor) processNext(ctx context.Context) bool {
	p.mu.Lock()
	item, ok := p.queue.pop()
	var reg registration
	var found bool
	if ok {
		reg, found = p.handlers[item.event.HandlerKey()]
	}
	length := p.queue.len()
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.metrics.WebhookQueueLength.Set(float64(length))

	ev := item.event
	key := ev.HandlerKey()
	log := p.logger.With(
		logger.String("event_id", ev.ID),
		logger.String("key", key),
		logger.String("priority", string(item.priority)),
	)

	if !found {
		p.unhandled.Add(1)
		p.metrics.WebhookEventsProcessed.WithLabelValues(string(ev.Source), ev.Type, "unhandled").Inc()
		log.Warn("Dropping webhook event", logger.Err(ErrHandlerNotFound))
		return true
	}

	start := time.Now()
	err := p.invoke(ctx, key, reg.handler, ev)
	p.metrics.WebhookHandlerDuration.WithLabelValues(string(ev.Source), ev.Type).Observe(time.Since(start).Seconds())

	now := time.Now().UTC()
	p.lastProcessedAt.Store(&now)

	if err == nil {
		ev.Processed = true
		p.processed.Add(1)
		p.metrics.WebhookEventsProcessed.WithLabelValues(string(ev.Source), ev.Type, "success").Inc()
		log.Debug("Webhook event processed", logger.Int("retry_count", ev.RetryCount))
		return true
	}

	ev.RetryCount++
	p.failed.Add(1)

	if ev.RetryCount < p.maxRetries {
		p.mu.Lock()
		p.queue.push(ev, item.priority, true)
		length = p.queue.len()
		p.mu.Unlock()
		p.metrics.WebhookQueueLength.Set(float64(length))
		p.metrics.WebhookEventsProcessed.WithLabelValues(string(ev.Source), ev.Type, "retry").Inc()
		log.Warn("Webhook handler failed, requeued",
			logger.Int("retry_count", ev.RetryCount),
			logger.Err(err),
		)
		return true
	}

	p.dropped.Add(1)
	p.metrics.WebhookEventsProcessed.WithLabelValues(string(ev.Source), ev.Type, "exhausted").Inc()
	log.Error("Dropping webhook event",
		logger.Int("retry_count", ev.RetryCount),
		logger.Err(fmt.Errorf("%w: %v", ErrRetriesExhausted, err)),
	)
	return true
}

func (p *Processor) invoke(ctx context.Context, key string, handler HandlerFunc, ev *models.WebhookEvent) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanicError{Key: key, Value: r}
		}
	}()

	return handler(ctx, ev)
}

// QueueLength returns the number of queued events
func (p *Processor) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// Pending returns a copy of the queued events in dispatch order
func (p *Processor) Pending() []models.WebhookEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.snapshot()
}

// Stats returns processor counters
func (p *Processor) Stats() models.WebhookStats {
	p.mu.Lock()
	stats := models.WebhookStats{
		QueueLength:      p.queue.len(),
		QueuedByPriority: p.queue.countByPriority(),
		Handlers:         len(p.handlers),
	}
	p.mu.Unlock()

	stats.Processed = p.processed.Load()
	stats.Failed = p.failed.Load()
	stats.Dropped = p.dropped.Load()
	stats.Unhandled = p.unhandled.Load()
	if last := p.lastProcessedAt.Load(); last != nil {
		t := *last
		stats.LastProcessedAt = &t
	}
	return stats
}

// IsVerificationError reports whether err was caused by a failed verification
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrVerification)
}
