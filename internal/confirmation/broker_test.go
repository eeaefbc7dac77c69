package confirmation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/mocks"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ConfirmationEvent
}

func (n *recordingNotifier) NotifyConfirmation(ctx context.Context, ev models.ConfirmationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) has(outcome models.ConfirmationOutcome) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Outcome == outcome {
			return true
		}
	}
	return false
}

func execution(id string) models.ActionExecution {
	return models.ActionExecution{ActionID: id, ActionType: models.ActionCrossPlatformUpdate}
}

func crossPlatformUpdate() models.PlatformAction {
	return models.PlatformAction{
		Type:                 models.ActionCrossPlatformUpdate,
		Platforms:            []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
		ConfirmationRequired: true,
		EstimatedImpact:      models.ImpactMedium,
		Parameters: map[string]interface{}{
			"title":      "Level 2 pour",
			"message":    "Pour finished",
			"recipients": []interface{}{"+4477"},
		},
	}
}

// waitPending blocks until the broker lists n requests
func waitPending(t *testing.T, b *Broker, n int) []models.ConfirmationRequest {
	t.Helper()
	var pending []models.ConfirmationRequest
	require.Eventually(t, func() bool {
		pending = b.ListPending()
		return len(pending) == n
	}, time.Second, 2*time.Millisecond)
	return pending
}

type confirmResult struct {
	approved bool
	err      error
}

func confirmAsync(b *Broker, ctx context.Context, id string) <-chan confirmResult {
	out := make(chan confirmResult, 1)
	go func() {
		ok, err := b.Confirm(ctx, execution(id), crossPlatformUpdate(), models.ActionContext{UserID: "pm-1"})
		out <- confirmResult{ok, err}
	}()
	return out
}

func TestBroker_Decide(t *testing.T) {
	for _, approved := range []bool{true, false} {
		notifier := &recordingNotifier{}
		b := NewBroker(time.Minute, notifier, logger.NewNop())

		done := confirmAsync(b, context.Background(), "act-1")
		pending := waitPending(t, b, 1)
		assert.Equal(t, "act-1", pending[0].ID)
		assert.Equal(t, "pm-1", pending[0].UserID)
		assert.Equal(t, models.ImpactMedium, pending[0].EstimatedImpact)
		assert.Equal(t, time.Minute, pending[0].ExpiresAt.Sub(pending[0].RequestedAt))

		require.NoError(t, b.Decide("act-1", approved, "site-manager"))

		res := <-done
		require.NoError(t, res.err)
		assert.Equal(t, approved, res.approved)
		assert.Empty(t, b.ListPending())

		want := models.ConfirmationRejected
		if approved {
			want = models.ConfirmationApproved
		}
		assert.Eventually(t, func() bool {
			return notifier.has(models.ConfirmationRequested) && notifier.has(want)
		}, time.Second, 2*time.Millisecond)
	}
}

func TestBroker_TimeoutIsRejection(t *testing.T) {
	notifier := &recordingNotifier{}
	b := NewBroker(20*time.Millisecond, notifier, logger.NewNop())

	approved, err := b.Confirm(context.Background(), execution("act-2"), crossPlatformUpdate(), models.ActionContext{})

	require.NoError(t, err)
	assert.False(t, approved)
	assert.Empty(t, b.ListPending())
	assert.ErrorIs(t, b.Decide("act-2", true, ""), ErrNotPending)
	assert.Eventually(t, func() bool { return notifier.has(models.ConfirmationExpired) }, time.Second, 2*time.Millisecond)
}

func TestBroker_ContextCancelled(t *testing.T) {
	b := NewBroker(time.Minute, nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := confirmAsync(b, ctx, "act-3")
	waitPending(t, b, 1)
	cancel()

	res := <-done
	assert.False(t, res.approved)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Empty(t, b.ListPending())
}

func TestBroker_DecideUnknown(t *testing.T) {
	b := NewBroker(0, nil, logger.NewNop())
	assert.ErrorIs(t, b.Decide("missing", true, ""), ErrNotPending)
}

func TestBroker_DuplicateRequest(t *testing.T) {
	b := NewBroker(time.Minute, nil, logger.NewNop())

	done := confirmAsync(b, context.Background(), "act-4")
	waitPending(t, b, 1)

	_, err := b.Confirm(context.Background(), execution("act-4"), crossPlatformUpdate(), models.ActionContext{})
	assert.ErrorContains(t, err, "already pending")

	require.NoError(t, b.Decide("act-4", true, ""))
	assert.True(t, (<-done).approved)
}

func TestBroker_ListPendingOldestFirst(t *testing.T) {
	b := NewBroker(time.Minute, nil, logger.NewNop())
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first := confirmAsync(b, context.Background(), "act-a")
	waitPending(t, b, 1)
	second := confirmAsync(b, context.Background(), "act-b")
	pending := waitPending(t, b, 2)

	assert.Equal(t, "act-a", pending[0].ID)
	assert.Equal(t, "act-b", pending[1].ID)

	require.NoError(t, b.Decide("act-a", false, ""))
	require.NoError(t, b.Decide("act-b", false, ""))
	<-first
	<-second
}

func TestBroker_EngineRejectionMakesNoPlatformCalls(t *testing.T) {
	whatsapp := mocks.NewPlatformAdapter(models.PlatformWhatsApp)
	workspace := mocks.NewPlatformAdapter(models.PlatformGoogleWorkspace)
	catalog, err := engine.LoadCatalog("")
	require.NoError(t, err)

	b := NewBroker(time.Minute, nil, logger.NewNop())
	eng := engine.NewEngine(catalog, engine.DefaultOperations(), platforms.NewRegistry(whatsapp, workspace),
		engine.Options{Confirmer: b}, nil, logger.NewNop())

	action := crossPlatformUpdate()
	action.ID = "act-5"
	done := make(chan *models.ExecutionResult, 1)
	go func() {
		done <- eng.ExecuteAction(context.Background(), action, models.ActionContext{UserID: "pm-1"})
	}()

	waitPending(t, b, 1)
	require.NoError(t, b.Decide("act-5", false, "site-manager"))

	result := <-done
	assert.Equal(t, models.ResultCancelled, result.Status)
	assert.Empty(t, whatsapp.Calls())
	assert.Empty(t, workspace.Calls())

	exec, err := eng.GetExecution(context.Background(), "act-5")
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusCancelled, exec.Status)
}
