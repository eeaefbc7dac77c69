package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
)

const (
	defaultLookback  = 7 * 24 * time.Hour
	defaultItemLimit = 25
)

var intentKinds = map[models.IntentType][]models.ActivityKind{
	models.IntentSchedule:      {models.ActivityEvent},
	models.IntentCommunication: {models.ActivityMessage},
	models.IntentDocument:      {models.ActivityDocument},
}

// activityFilter narrows platform reads to what the intent is about
func activityFilter(intent *models.QueryIntent, now time.Time) models.ActivityFilter {
	filter := models.ActivityFilter{
		ProjectID: intent.Entities.ProjectID,
		Kinds:     intentKinds[intent.Type],
		Limit:     defaultItemLimit,
	}
	if dr := intent.Entities.DateRange; dr != nil {
		start, end := dr.Start, dr.End
		filter.Since, filter.Until = &start, &end
	} else {
		since := now.Add(-defaultLookback)
		filter.Since = &since
	}
	if intent.Type == models.IntentSafety {
		filter.Keywords = []string{"safety", "incident", "hazard", "injury"}
	}
	return filter
}

// fetchAll reads every adapter in parallel. Each read gets its own timeout and
// a failing or panicking adapter only marks its own source as errored.
func fetchAll(ctx context.Context, adapters []platforms.Adapter, filter models.ActivityFilter, timeout time.Duration) map[models.Platform]models.SourceResult {
	var (
		mu      sync.Mutex
		wg      conc.WaitGroup
		results = make(map[models.Platform]models.SourceResult, len(adapters))
	)

	for _, adapter := range adapters {
		wg.Go(func() {
			res := fetchOne(ctx, adapter, filter, timeout)
			mu.Lock()
			results[res.Platform] = res
			mu.Unlock()
		})
	}
	wg.Wait()

	return results
}

func fetchOne(ctx context.Context, adapter platforms.Adapter, filter models.ActivityFilter, timeout time.Duration) (res models.SourceResult) {
	start := time.Now()
	res.Platform = adapter.Platform()

	defer func() {
		if r := recover(); r != nil {
			res.Status = models.SourceError
			res.Data = nil
			res.Error = fmt.Sprintf("adapter panicked: %v", r)
		}
		res.ResponseTimeMs = time.Since(start).Milliseconds()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	items, err := adapter.FetchRecentActivity(fetchCtx, filter)
	if err != nil {
		res.Status = models.SourceError
		res.Error = err.Error()
		return res
	}

	for i := range items {
		if items[i].Platform == "" {
			items[i].Platform = res.Platform
		}
	}
	res.Status = models.SourceSuccess
	res.Data = items
	return res
}
