// Package confirmation suspends actions until a person approves or rejects them.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidmoltin/site-integrations/internal/async"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// DefaultTimeout is how long a request waits before it counts as rejected
const DefaultTimeout = 5 * time.Minute

// ErrNotPending is returned when deciding on a request that is not waiting
var ErrNotPending = errors.New("confirmation not pending")

// Notifier is told when requests open and close
type Notifier interface {
	NotifyConfirmation(ctx context.Context, event models.ConfirmationEvent) error
}

type decision struct {
	approved  bool
	decidedBy string
}

type pending struct {
	request  models.ConfirmationRequest
	decision chan decision
}

// Broker holds confirmation requests until Decide is called or they expire
type Broker struct {
	timeout  time.Duration
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pending

	logger *logger.Logger
}

// NewBroker creates a broker. notifier may be nil.
func NewBroker(timeout time.Duration, notifier Notifier, log *logger.Logger) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		timeout:  timeout,
		notifier: notifier,
		now:      time.Now,
		pending:  make(map[string]*pending),
		logger:   log.WithComponent("confirmation_broker"),
	}
}

// Confirm blocks until the request keyed by the execution's action id is
// decided, expires, or ctx ends. Expiry is a rejection, not an error.
func (b *Broker) Confirm(ctx context.Context, exec models.ActionExecution, action models.PlatformAction, actx models.ActionContext) (bool, error) {
	now := b.now()
	req := models.ConfirmationRequest{
		ID:              exec.ActionID,
		ActionType:      action.Type,
		Description:     action.Description,
		Platforms:       append([]models.Platform(nil), action.Platforms...),
		Parameters:      action.Parameters,
		EstimatedImpact: action.EstimatedImpact,
		UserID:          actx.UserID,
		ProjectID:       actx.ProjectID,
		RequestedAt:     now,
		ExpiresAt:       now.Add(b.timeout),
	}
	p := &pending{request: req, decision: make(chan decision, 1)}

	b.mu.Lock()
	if _, exists := b.pending[req.ID]; exists {
		b.mu.Unlock()
		return false, fmt.Errorf("confirmation %s already pending", req.ID)
	}
	b.pending[req.ID] = p
	b.mu.Unlock()

	b.logger.Info("Awaiting confirmation",
		logger.String("action_id", req.ID),
		logger.String("action_type", req.ActionType),
		logger.String("user_id", req.UserID),
	)
	b.notify(models.ConfirmationEvent{Outcome: models.ConfirmationRequested, Request: req, At: now})

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case d := <-p.decision:
		outcome := models.ConfirmationRejected
		if d.approved {
			outcome = models.ConfirmationApproved
		}
		b.notify(models.ConfirmationEvent{Outcome: outcome, Request: req, DecidedBy: d.decidedBy, At: b.now()})
		return d.approved, nil

	case <-timer.C:
		if d, ok := b.withdraw(req.ID, p); !ok {
			// Decide won the race against the timer
			return d.approved, nil
		}
		b.logger.Warn("Confirmation expired", logger.String("action_id", req.ID))
		b.notify(models.ConfirmationEvent{Outcome: models.ConfirmationExpired, Request: req, At: b.now()})
		return false, nil

	case <-ctx.Done():
		if d, ok := b.withdraw(req.ID, p); !ok {
			return d.approved, nil
		}
		b.notify(models.ConfirmationEvent{Outcome: models.ConfirmationWithdrawn, Request: req, At: b.now()})
		return false, ctx.Err()
	}
}

// withdraw removes p if it is still pending. When a decision already arrived
// it is returned with ok false.
func (b *Broker) withdraw(id string, p *pending) (decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending[id] == p {
		delete(b.pending, id)
		return decision{}, true
	}
	return <-p.decision, false
}

// Decide approves or rejects a pending request
func (b *Broker) Decide(id string, approved bool, decidedBy string) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		p.decision <- decision{approved: approved, decidedBy: decidedBy}
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	b.logger.Info("Confirmation decided",
		logger.String("action_id", id),
		logger.Bool("approved", approved),
		logger.String("decided_by", decidedBy),
	)
	return nil
}

// ListPending returns waiting requests, oldest first
func (b *Broker) ListPending() []models.ConfirmationRequest {
	b.mu.Lock()
	out := make([]models.ConfirmationRequest, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.request)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (b *Broker) notify(event models.ConfirmationEvent) {
	if b.notifier == nil {
		return
	}
	async.Go(b.logger, "notify_confirmation", func(ctx context.Context) error {
		return b.notifier.NotifyConfirmation(ctx, event)
	})
}
