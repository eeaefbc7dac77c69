// Package query answers free-text questions by reading every connected platform.
package query

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/cache"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const (
	DefaultPlatformTimeout = 10 * time.Second
	DefaultMinConfidence   = 0.6
)

// Summarizer phrases activity as prose. Failures fall back to the built-in summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string, lines []string) (string, error)
}

// Options configures an Orchestrator
type Options struct {
	// Classifier is tried first; nil means keyword matching only
	Classifier      IntentClassifier
	Summarizer      Summarizer
	Cache           cache.ResponseCache
	PlatformTimeout time.Duration
	MinConfidence   float64
}

// Orchestrator answers queries from cache or by fanning out to every adapter
type Orchestrator struct {
	adapters        *platforms.Registry
	classifier      IntentClassifier
	fallback        *KeywordClassifier
	summarizer      Summarizer
	cache           cache.ResponseCache
	platformTimeout time.Duration
	minConfidence   float64
	now             func() time.Time

	classifierCalls    atomic.Int64
	classifierFailures atomic.Int64

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(adapters *platforms.Registry, opts Options, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(cache.DefaultTTL, cache.DefaultMaxEntries)
	}
	if opts.PlatformTimeout <= 0 {
		opts.PlatformTimeout = DefaultPlatformTimeout
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	return &Orchestrator{
		adapters:        adapters,
		classifier:      opts.Classifier,
		fallback:        NewKeywordClassifier(),
		summarizer:      opts.Summarizer,
		cache:           opts.Cache,
		platformTimeout: opts.PlatformTimeout,
		minConfidence:   opts.MinConfidence,
		now:             time.Now,
		metrics:         m,
		logger:          log.WithComponent("query_orchestrator"),
	}
}

// Cache returns the response cache so webhook handlers can invalidate it
func (o *Orchestrator) Cache() cache.ResponseCache {
	return o.cache
}

// ProcessQuery always returns a response. Platform failures degrade the
// answer and are reported per source instead of failing the call.
func (o *Orchestrator) ProcessQuery(ctx context.Context, text, userID string) *models.IntegratedResponse {
	start := time.Now()
	key := cache.Key(text, userID)

	if cached, ok := o.cache.Get(ctx, key); ok {
		o.metrics.QueryCacheHits.Inc()
		o.metrics.QueriesTotal.WithLabelValues(string(cached.Intent.Type), "true").Inc()
		o.logger.Debug("Query served from cache",
			logger.String("response_id", cached.ID),
			logger.String("user_id", userID),
		)
		return cached
	}
	o.metrics.QueryCacheMisses.Inc()

	intent := o.classify(ctx, text)
	sources := fetchAll(ctx, o.adapters.All(), activityFilter(intent, o.now()), o.platformTimeout)
	ds := details(sources)
	cs := conflicts(ds)

	resp := &models.IntegratedResponse{
		ID:                uuid.New().String(),
		Query:             text,
		UserID:            userID,
		Timestamp:         o.now(),
		Intent:            *intent,
		Sources:           sources,
		AggregatedSummary: o.summary(ctx, text, intent.Type, sources, ds, cs),
		Details:           ds,
		Conflicts:         cs,
		SuggestedActions:  suggestActions(intent, o.adapters),
	}
	resp.ResponseTimeMs = time.Since(start).Milliseconds()

	succeeded := countSucceeded(sources)
	if succeeded > 0 {
		if err := o.cache.Set(ctx, key, resp); err != nil {
			o.logger.Warn("Failed to cache query response", logger.Err(err))
		}
	}

	o.metrics.QueriesTotal.WithLabelValues(string(intent.Type), "false").Inc()
	o.metrics.QueryDuration.WithLabelValues(string(intent.Type)).Observe(time.Since(start).Seconds())
	o.logger.Info("Query processed",
		logger.String("response_id", resp.ID),
		logger.String("intent", string(intent.Type)),
		logger.String("classifier", intent.Source),
		logger.Int("sources_ok", succeeded),
		logger.Int("sources_total", len(sources)),
		logger.Int("details", len(ds)),
		logger.Int("conflicts", len(cs)),
		logger.Int64("response_time_ms", resp.ResponseTimeMs),
	)
	return resp
}

// classify prefers the configured classifier and falls back to keywords on
// failure or low confidence
func (o *Orchestrator) classify(ctx context.Context, text string) *models.QueryIntent {
	if o.classifier != nil {
		o.classifierCalls.Add(1)
		intent, err := o.classifier.Classify(ctx, text)
		switch {
		case err != nil:
			o.classifierFailures.Add(1)
			if !errors.Is(err, ErrClassifierFailure) {
				err = errors.Join(ErrClassifierFailure, err)
			}
			o.logger.Warn("Intent classifier failed, using keyword matching", logger.Err(err))
		case intent.Confidence < o.minConfidence:
			o.logger.Debug("Intent classifier confidence too low, using keyword matching",
				logger.String("intent", string(intent.Type)),
				logger.Float64("confidence", intent.Confidence),
			)
		default:
			o.metrics.IntentClassifications.WithLabelValues(SourceLLM, string(intent.Type)).Inc()
			return intent
		}
	}

	intent, _ := o.fallback.Classify(ctx, text)
	o.metrics.IntentClassifications.WithLabelValues(SourceKeyword, string(intent.Type)).Inc()
	return intent
}

func (o *Orchestrator) summary(ctx context.Context, text string, intent models.IntentType, sources map[models.Platform]models.SourceResult, ds []models.Detail, cs []models.Conflict) string {
	fallback := summarize(intent, sources, ds, cs)
	if o.summarizer == nil || len(ds) == 0 {
		return fallback
	}

	lines := summaryLines(ds, 20)
	for _, c := range cs {
		lines = append(lines, "CONFLICT: "+c.Description)
	}
	prose, err := o.summarizer.Summarize(ctx, text, lines)
	if err != nil || strings.TrimSpace(prose) == "" {
		if err != nil {
			o.logger.Warn("Summary generation failed, using built-in summary", logger.Err(err))
		}
		return fallback
	}
	return prose
}

func countSucceeded(sources map[models.Platform]models.SourceResult) int {
	n := 0
	for _, s := range sources {
		if s.Status == models.SourceSuccess {
			n++
		}
	}
	return n
}

// ClassifierStats reports how often the configured classifier was called and failed
func (o *Orchestrator) ClassifierStats() (calls, failures int64) {
	return o.classifierCalls.Load(), o.classifierFailures.Load()
}
