package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/cache"
	"github.com/davidmoltin/site-integrations/internal/mocks"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

var baseTime = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubClassifier struct {
	intent *models.QueryIntent
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (*models.QueryIntent, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.intent
	return &cp, nil
}

type stubSummarizer struct {
	text  string
	err   error
	lines []string
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string, lines []string) (string, error) {
	s.lines = lines
	return s.text, s.err
}

func activity(platform models.Platform, title, entity, status string, at time.Time) models.ActivityItem {
	return models.ActivityItem{
		ID:        title,
		Platform:  platform,
		Kind:      models.ActivityMessage,
		EntityID:  entity,
		Title:     title,
		Status:    status,
		Timestamp: at,
	}
}

func returning(items ...models.ActivityItem) func(context.Context, models.ActivityFilter) ([]models.ActivityItem, error) {
	return func(ctx context.Context, f models.ActivityFilter) ([]models.ActivityItem, error) {
		return items, nil
	}
}

type rig struct {
	whatsapp  *mocks.PlatformAdapter
	workspace *mocks.PlatformAdapter
	clock     *clock
	cache     *cache.MemoryCache
	orch      *Orchestrator
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()

	r := &rig{
		whatsapp:  mocks.NewPlatformAdapter(models.PlatformWhatsApp),
		workspace: mocks.NewPlatformAdapter(models.PlatformGoogleWorkspace),
		clock:     &clock{now: baseTime},
	}
	r.whatsapp.FetchRecentActivityFunc = returning(
		activity(models.PlatformWhatsApp, "Concrete pour finished on level 2", "", "", baseTime.Add(-time.Hour)),
	)
	r.workspace.FetchRecentActivityFunc = returning(
		activity(models.PlatformGoogleWorkspace, "Level 2 inspection report.pdf", "", "", baseTime.Add(-2*time.Hour)),
	)

	r.cache = cache.NewMemoryCache(5*time.Minute, 100).WithClock(r.clock.Now)
	if opts.Cache == nil {
		opts.Cache = r.cache
	}
	r.orch = NewOrchestrator(platforms.NewRegistry(r.whatsapp, r.workspace), opts, nil, logger.NewNop())
	r.orch.now = r.clock.Now
	return r
}

func (r *rig) fetches() int {
	return r.whatsapp.CallCount("fetch_recent_activity") + r.workspace.CallCount("fetch_recent_activity")
}

func TestProcessQuery_CachedWithinTTL(t *testing.T) {
	r := newRig(t, Options{})
	ctx := context.Background()

	first := r.orch.ProcessQuery(ctx, "what happened on site today?", "pm-1")
	require.NotEmpty(t, first.ID)
	assert.Equal(t, 2, r.fetches())

	r.clock.Advance(4 * time.Minute)
	second := r.orch.ProcessQuery(ctx, "what happened on site today?", "pm-1")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AggregatedSummary, second.AggregatedSummary)
	assert.Equal(t, 2, r.fetches(), "cache hit must not call any platform")
}

func TestProcessQuery_FreshReadsAfterTTL(t *testing.T) {
	r := newRig(t, Options{})
	ctx := context.Background()

	first := r.orch.ProcessQuery(ctx, "what happened on site today?", "pm-1")
	r.clock.Advance(5*time.Minute + time.Second)
	second := r.orch.ProcessQuery(ctx, "what happened on site today?", "pm-1")

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 4, r.fetches())
}

func TestProcessQuery_CacheKeyIncludesUser(t *testing.T) {
	r := newRig(t, Options{})
	ctx := context.Background()

	a := r.orch.ProcessQuery(ctx, "site status", "pm-1")
	b := r.orch.ProcessQuery(ctx, "site status", "foreman-2")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 4, r.fetches())
	assert.Equal(t, 2, r.cache.Len(ctx))
}

func TestProcessQuery_OneAdapterFailing(t *testing.T) {
	r := newRig(t, Options{})
	r.whatsapp.FetchRecentActivityFunc = func(ctx context.Context, f models.ActivityFilter) ([]models.ActivityItem, error) {
		return nil, platforms.ErrPlatformUnavailable
	}

	resp := r.orch.ProcessQuery(context.Background(), "any new documents?", "pm-1")

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, models.SourceError, resp.Sources[models.PlatformWhatsApp].Status)
	assert.Contains(t, resp.Sources[models.PlatformWhatsApp].Error, "platform unavailable")
	assert.Equal(t, models.SourceSuccess, resp.Sources[models.PlatformGoogleWorkspace].Status)

	assert.NotEmpty(t, resp.AggregatedSummary)
	assert.Contains(t, resp.AggregatedSummary, "Level 2 inspection report.pdf")
	assert.NotContains(t, resp.AggregatedSummary, "Concrete pour")
	assert.Contains(t, resp.AggregatedSummary, "whatsapp could not be reached")

	require.Len(t, resp.Details, 1)
	assert.Equal(t, models.PlatformGoogleWorkspace, resp.Details[0].Source)
}

func TestProcessQuery_AllAdaptersFailing(t *testing.T) {
	r := newRig(t, Options{})
	fail := func(ctx context.Context, f models.ActivityFilter) ([]models.ActivityItem, error) {
		return nil, errors.New("connection refused")
	}
	r.whatsapp.FetchRecentActivityFunc = fail
	r.workspace.FetchRecentActivityFunc = fail
	ctx := context.Background()

	resp := r.orch.ProcessQuery(ctx, "site status", "pm-1")

	assert.Equal(t, apologySummary, resp.AggregatedSummary)
	assert.Empty(t, resp.Details)
	assert.Empty(t, resp.Conflicts)
	assert.Equal(t, 0, r.cache.Len(ctx), "failed answers are not cached")

	r.orch.ProcessQuery(ctx, "site status", "pm-1")
	assert.Equal(t, 4, r.fetches())
}

func TestProcessQuery_PanicAndTimeoutAreIsolated(t *testing.T) {
	r := newRig(t, Options{PlatformTimeout: 20 * time.Millisecond})
	r.whatsapp.FetchRecentActivityFunc = func(ctx context.Context, f models.ActivityFilter) ([]models.ActivityItem, error) {
		panic("nil map")
	}
	r.workspace.FetchRecentActivityFunc = func(ctx context.Context, f models.ActivityFilter) ([]models.ActivityItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp := r.orch.ProcessQuery(context.Background(), "site status", "pm-1")

	assert.Equal(t, models.SourceError, resp.Sources[models.PlatformWhatsApp].Status)
	assert.Contains(t, resp.Sources[models.PlatformWhatsApp].Error, "panicked")
	assert.Equal(t, models.SourceError, resp.Sources[models.PlatformGoogleWorkspace].Status)
	assert.Contains(t, resp.Sources[models.PlatformGoogleWorkspace].Error, "deadline exceeded")
	assert.Equal(t, apologySummary, resp.AggregatedSummary)
}

func TestProcessQuery_Conflicts(t *testing.T) {
	r := newRig(t, Options{})
	r.whatsapp.FetchRecentActivityFunc = returning(
		activity(models.PlatformWhatsApp, "RFI-12 waiting on engineer", "RFI-12", "delayed", baseTime.Add(-10*time.Minute)),
		activity(models.PlatformWhatsApp, "RFI-12 raised", "RFI-12", "open", baseTime.Add(-3*time.Hour)),
	)
	r.workspace.FetchRecentActivityFunc = returning(
		activity(models.PlatformGoogleWorkspace, "RFI-12 response.pdf", "RFI-12", "approved", baseTime.Add(-time.Hour)),
		activity(models.PlatformGoogleWorkspace, "RFI-9 response.pdf", "RFI-9", "approved", baseTime.Add(-time.Hour)),
	)

	resp := r.orch.ProcessQuery(context.Background(), "what is the status of RFI-12?", "pm-1")

	require.Len(t, resp.Conflicts, 1)
	c := resp.Conflicts[0]
	assert.Equal(t, "RFI-12", c.EntityID)
	assert.Equal(t, "status", c.Field)
	assert.Equal(t, map[models.Platform]string{
		models.PlatformWhatsApp:        "delayed",
		models.PlatformGoogleWorkspace: "approved",
	}, c.Values)
	assert.Contains(t, c.Description, `"approved" on google_workspace`)
	assert.Contains(t, resp.AggregatedSummary, "reported differently")

	require.Len(t, resp.Details, 4)
	assert.Equal(t, "RFI-12 waiting on engineer", resp.Details[0].Title, "details are newest first")
}

func TestProcessQuery_ClassifierFallback(t *testing.T) {
	tests := []struct {
		name       string
		classifier IntentClassifier
		wantType   models.IntentType
		wantSource string
	}{
		{
			name:       "confident classifier wins",
			classifier: &stubClassifier{intent: &models.QueryIntent{Type: models.IntentProgress, Confidence: 0.9, Source: SourceLLM}},
			wantType:   models.IntentProgress,
			wantSource: SourceLLM,
		},
		{
			name:       "low confidence falls back",
			classifier: &stubClassifier{intent: &models.QueryIntent{Type: models.IntentProgress, Confidence: 0.2, Source: SourceLLM}},
			wantType:   models.IntentSchedule,
			wantSource: SourceKeyword,
		},
		{
			name:       "classifier error falls back",
			classifier: &stubClassifier{err: errors.New("provider down")},
			wantType:   models.IntentSchedule,
			wantSource: SourceKeyword,
		},
		{
			name:       "no classifier",
			wantType:   models.IntentSchedule,
			wantSource: SourceKeyword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Options{Classifier: tt.classifier})

			resp := r.orch.ProcessQuery(context.Background(), "when is the next site meeting?", "pm-1")

			assert.Equal(t, tt.wantType, resp.Intent.Type)
			assert.Equal(t, tt.wantSource, resp.Intent.Source)
			assert.NotEmpty(t, resp.AggregatedSummary)
		})
	}
}

func TestProcessQuery_SuggestedActions(t *testing.T) {
	tests := []struct {
		query      string
		wantType   string
		wantImpact models.ImpactLevel
	}{
		{"tell the crew about the delivery", models.ActionSendMessage, models.ImpactMedium},
		{"when is the next coordination meeting", models.ActionScheduleMeeting, models.ImpactMedium},
		{"where is the latest drawing", models.ActionShareDocument, models.ImpactLow},
		{"was there a safety incident", models.ActionSafetyAlertBroadcast, models.ImpactHigh},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := newRig(t, Options{})

			resp := r.orch.ProcessQuery(context.Background(), tt.query, "pm-1")

			require.Len(t, resp.SuggestedActions, 1)
			action := resp.SuggestedActions[0]
			assert.Equal(t, tt.wantType, action.Type)
			assert.True(t, action.ConfirmationRequired)
			assert.Equal(t, tt.wantImpact, action.EstimatedImpact)
			assert.NotEmpty(t, action.ID)
		})
	}

	t.Run("general intent suggests nothing", func(t *testing.T) {
		r := newRig(t, Options{})
		resp := r.orch.ProcessQuery(context.Background(), "good morning", "pm-1")
		assert.Empty(t, resp.SuggestedActions)
	})
}

func TestSuggestActions_SkipsUnregisteredPlatforms(t *testing.T) {
	registry := platforms.NewRegistry(mocks.NewPlatformAdapter(models.PlatformWhatsApp))
	intent := &models.QueryIntent{Type: models.IntentSchedule}

	assert.Empty(t, suggestActions(intent, registry))

	intent.Type = models.IntentCommunication
	intent.Entities.Recipients = []string{"+4477"}
	actions := suggestActions(intent, registry)
	require.Len(t, actions, 1)
	assert.Equal(t, []interface{}{"+4477"}, actions[0].Parameters["recipients"])
}

func TestProcessQuery_Summarizer(t *testing.T) {
	t.Run("prose is used", func(t *testing.T) {
		s := &stubSummarizer{text: "Level 2 pour is done and the inspection report is filed."}
		r := newRig(t, Options{Summarizer: s})

		resp := r.orch.ProcessQuery(context.Background(), "how is level 2 going?", "pm-1")

		assert.Equal(t, s.text, resp.AggregatedSummary)
		require.Len(t, s.lines, 2)
		assert.True(t, strings.HasPrefix(s.lines[0], "[whatsapp "))
	})

	t.Run("failure falls back to the built-in summary", func(t *testing.T) {
		s := &stubSummarizer{err: errors.New("quota exceeded")}
		r := newRig(t, Options{Summarizer: s})

		resp := r.orch.ProcessQuery(context.Background(), "how is level 2 going?", "pm-1")

		assert.Contains(t, resp.AggregatedSummary, "Found 2")
	})
}

func TestActivityFilter(t *testing.T) {
	start := baseTime.Add(-48 * time.Hour)

	f := activityFilter(&models.QueryIntent{
		Type:     models.IntentDocument,
		Entities: models.IntentEntities{ProjectID: "tower-b", DateRange: &models.DateRange{Start: start, End: baseTime}},
	}, baseTime)
	assert.Equal(t, "tower-b", f.ProjectID)
	assert.Equal(t, []models.ActivityKind{models.ActivityDocument}, f.Kinds)
	require.NotNil(t, f.Since)
	require.NotNil(t, f.Until)
	assert.Equal(t, start, *f.Since)

	f = activityFilter(&models.QueryIntent{Type: models.IntentSafety}, baseTime)
	assert.Empty(t, f.Kinds)
	assert.Equal(t, baseTime.Add(-defaultLookback), *f.Since)
	assert.Nil(t, f.Until)
	assert.Contains(t, f.Keywords, "incident")
}

func TestClassifierStats(t *testing.T) {
	r := newRig(t, Options{Classifier: &stubClassifier{err: errors.New("provider down")}})
	ctx := context.Background()

	r.orch.ProcessQuery(ctx, "site status", "pm-1")
	r.orch.ProcessQuery(ctx, "site status", "pm-2")

	calls, failures := r.orch.ClassifierStats()
	assert.Equal(t, int64(2), calls)
	assert.Equal(t, int64(2), failures)
}
