// Package health checks every integrated service on a schedule and keeps a
// deduplicated list of status alerts derived from the results.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/async"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const (
	DefaultSlowThreshold = 2 * time.Second
	DefaultCheckTimeout  = 15 * time.Second

	// tokenExpiryWarning is how early an expiring token is reported
	tokenExpiryWarning = 24 * time.Hour
	// quotaWarningRatio is the remaining share of quota below which a warning is raised
	quotaWarningRatio = 0.1
)

// ErrAlertNotFound is returned when acknowledging an unknown alert
var ErrAlertNotFound = errors.New("alert not found")

// AlertSink receives alert lifecycle events (websocket hub, alert history)
type AlertSink interface {
	RecordAlert(ctx context.Context, event models.AlertEvent) error
}

// Config configures a Monitor
type Config struct {
	SlowThreshold time.Duration
	CheckTimeout  time.Duration
}

// Monitor runs health checks and owns the alert list
type Monitor struct {
	slowThreshold time.Duration
	checkTimeout  time.Duration
	now           func() time.Time

	// runMu serializes sweeps so a manual check cannot interleave with the worker
	runMu sync.Mutex

	mu          sync.RWMutex
	checkers    []Checker
	results     map[models.Platform]models.HealthCheckResult
	alerts      []*models.StatusAlert
	lastChecked *time.Time
	sinks       []AlertSink

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewMonitor creates a monitor with no checkers
func NewMonitor(cfg Config, m *metrics.Metrics, log *logger.Logger) *Monitor {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Monitor{
		slowThreshold: cfg.SlowThreshold,
		checkTimeout:  cfg.CheckTimeout,
		now:           time.Now,
		results:       make(map[models.Platform]models.HealthCheckResult),
		metrics:       m,
		logger:        log.WithComponent("health_monitor"),
	}
}

// RegisterChecker adds a service to every following sweep
func (m *Monitor) RegisterChecker(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// AddSink subscribes a sink to alert lifecycle events
func (m *Monitor) AddSink(s AlertSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// RunChecks checks every service once, updates alerts and returns the results
// in registration order
func (m *Monitor) RunChecks(ctx context.Context) []models.HealthCheckResult {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]models.HealthCheckResult, 0, len(checkers))
	for _, c := range checkers {
		res := m.check(ctx, c)
		results = append(results, res)

		m.metrics.IntegrationHealth.WithLabelValues(string(res.Service)).Set(metrics.HealthValue(string(res.Status)))
		if res.Status != models.HealthHealthy {
			m.logger.Warn("Service health check reported problems",
				logger.String("service", string(res.Service)),
				logger.String("status", string(res.Status)),
				logger.String("connectivity", string(res.Connectivity)),
				logger.String("authentication", string(res.Authentication)),
				logger.Any("warnings", res.Warnings),
			)
		}
	}

	checkedAt := m.now()
	var events []models.AlertEvent

	m.mu.Lock()
	for _, res := range results {
		m.results[res.Service] = res
		events = append(events, m.applyLocked(res)...)
	}
	m.lastChecked = &checkedAt
	active := m.activeAlertsLocked()
	sinks := append([]AlertSink(nil), m.sinks...)
	m.mu.Unlock()

	m.metrics.ActiveAlerts.Set(float64(active))
	m.publish(sinks, events)

	m.logger.Info("Health checks completed",
		logger.Int("services", len(results)),
		logger.Int("active_alerts", active),
	)
	return results
}

func (m *Monitor) check(ctx context.Context, c Checker) models.HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	start := time.Now()
	obs := c.Check(checkCtx)
	elapsed := time.Since(start)

	return m.assess(c.Service(), obs, elapsed)
}

// assess maps an observation onto a result
func (m *Monitor) assess(service models.Platform, obs Observation, elapsed time.Duration) models.HealthCheckResult {
	now := m.now()
	res := models.HealthCheckResult{
		Service:        service,
		ResponseTimeMs: elapsed.Milliseconds(),
		LastChecked:    now,
		Warnings:       append([]string{}, obs.Warnings...),
	}

	switch obs.Connection {
	case models.ConnectionConnected:
		res.Status = models.HealthHealthy
	case models.ConnectionNeedsAttention:
		res.Status = models.HealthDegraded
	default:
		res.Status = models.HealthUnhealthy
	}

	switch {
	case res.Status == models.HealthUnhealthy:
		res.Connectivity = models.ConnectivityFailed
	case elapsed > m.slowThreshold:
		res.Connectivity = models.ConnectivitySlow
		res.Warnings = append(res.Warnings, fmt.Sprintf("Slow response: %dms", res.ResponseTimeMs))
	default:
		res.Connectivity = models.ConnectivityOK
	}

	res.Authentication = authentication(obs, now)
	if res.Authentication != models.AuthValid && res.Status == models.HealthHealthy {
		res.Status = models.HealthDegraded
	}

	if svc := obs.Service; svc != nil {
		res.Warnings = append(res.Warnings, svc.Warnings...)
		if exp := svc.TokenExpiresAt; exp != nil && exp.After(now) && exp.Sub(now) < tokenExpiryWarning {
			res.Warnings = append(res.Warnings, "Access token expires within 24 hours")
		}
		if q := svc.Quota; q != nil && q.Limit > 0 && float64(q.Remaining()) < float64(q.Limit)*quotaWarningRatio {
			res.Warnings = append(res.Warnings, fmt.Sprintf("API quota nearly exhausted: %d of %d used", q.Used, q.Limit))
		}
	} else if obs.ServiceErr != nil && res.Authentication == models.AuthValid {
		res.Warnings = append(res.Warnings, "Service status unavailable: "+obs.ServiceErr.Error())
	}
	return res
}

func authentication(obs Observation, now time.Time) models.AuthenticationState {
	svc := obs.Service
	if svc == nil {
		switch {
		case errors.Is(obs.ServiceErr, platforms.ErrNotConfigured):
			return models.AuthMissing
		case platforms.IsAuthError(obs.ServiceErr):
			return models.AuthInvalid
		}
		return models.AuthValid
	}

	switch {
	case !svc.AuthConfigured:
		return models.AuthMissing
	case svc.TokenExpiresAt != nil && !svc.TokenExpiresAt.After(now):
		return models.AuthExpired
	case !svc.AuthValid:
		return models.AuthInvalid
	}
	return models.AuthValid
}

type alertSpec struct {
	alertType models.AlertType
	severity  models.AlertSeverity
	title     string
	message   string
}

// alertSpecs derives the alerts a result calls for
func alertSpecs(res models.HealthCheckResult) []alertSpec {
	var out []alertSpec
	switch res.Status {
	case models.HealthUnhealthy:
		out = append(out, alertSpec{
			alertType: models.AlertError,
			severity:  models.SeverityHigh,
			title:     fmt.Sprintf("%s is unavailable", res.Service),
			message:   fmt.Sprintf("%s is disconnected (connectivity %s, authentication %s)", res.Service, res.Connectivity, res.Authentication),
		})
	case models.HealthDegraded:
		out = append(out, alertSpec{
			alertType: models.AlertWarning,
			severity:  models.SeverityMedium,
			title:     fmt.Sprintf("%s needs attention", res.Service),
			message:   fmt.Sprintf("%s is degraded (connectivity %s, authentication %s)", res.Service, res.Connectivity, res.Authentication),
		})
	}
	for _, w := range res.Warnings {
		out = append(out, alertSpec{
			alertType: models.AlertInfo,
			severity:  models.SeverityLow,
			title:     warningTitle(w),
			message:   fmt.Sprintf("%s: %s", res.Service, w),
		})
	}
	return out
}

// warningTitle strips the variable detail after the first colon so repeated
// warnings dedupe onto the same alert
func warningTitle(w string) string {
	if i := strings.Index(w, ": "); i > 0 {
		return w[:i]
	}
	return w
}

// applyLocked resolves and raises alerts for one result. m.mu must be held.
func (m *Monitor) applyLocked(res models.HealthCheckResult) []models.AlertEvent {
	now := m.now()
	specs := alertSpecs(res)
	var events []models.AlertEvent

	if res.Status == models.HealthHealthy {
		current := make(map[string]bool, len(specs))
		for _, s := range specs {
			current[s.title] = true
		}
		kept := m.alerts[:0]
		for _, a := range m.alerts {
			if a.Platform == res.Service && a.AutoResolve && !current[a.Title] {
				events = append(events, models.AlertEvent{Kind: models.AlertResolved, Alert: *a, OccurredAt: now})
				continue
			}
			kept = append(kept, a)
		}
		m.alerts = kept
	}

	for _, s := range specs {
		if existing := m.findLocked(res.Service, s.title); existing != nil {
			existing.Timestamp = now
			existing.Message = s.message
			events = append(events, models.AlertEvent{Kind: models.AlertRefreshed, Alert: *existing, OccurredAt: now})
			continue
		}

		alert := &models.StatusAlert{
			ID:          uuid.New().String(),
			Type:        s.alertType,
			Severity:    s.severity,
			Platform:    res.Service,
			Title:       s.title,
			Message:     s.message,
			Timestamp:   now,
			AutoResolve: true,
		}
		m.alerts = append(m.alerts, alert)
		m.metrics.AlertsRaisedTotal.WithLabelValues(string(res.Service), string(s.severity)).Inc()
		events = append(events, models.AlertEvent{Kind: models.AlertRaised, Alert: *alert, OccurredAt: now})
	}
	return events
}

func (m *Monitor) findLocked(platform models.Platform, title string) *models.StatusAlert {
	for _, a := range m.alerts {
		if a.Platform == platform && a.Title == title {
			return a
		}
	}
	return nil
}

func (m *Monitor) activeAlertsLocked() int {
	n := 0
	for _, a := range m.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

func (m *Monitor) publish(sinks []AlertSink, events []models.AlertEvent) {
	if len(events) == 0 || len(sinks) == 0 {
		return
	}
	for _, sink := range sinks {
		async.Go(m.logger, "record_alert_events", func(ctx context.Context) error {
			var errs []error
			for _, ev := range events {
				if err := sink.RecordAlert(ctx, ev); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		})
	}
}

// Acknowledge marks an alert as seen. Acknowledged alerts stay listed until resolved.
func (m *Monitor) Acknowledge(id string) error {
	m.mu.Lock()
	var found *models.StatusAlert
	for _, a := range m.alerts {
		if a.ID == id {
			found = a
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	found.Acknowledged = true
	event := models.AlertEvent{Kind: models.AlertAcknowledged, Alert: *found, OccurredAt: m.now()}
	active := m.activeAlertsLocked()
	sinks := append([]AlertSink(nil), m.sinks...)
	m.mu.Unlock()

	m.metrics.ActiveAlerts.Set(float64(active))
	m.publish(sinks, []models.AlertEvent{event})
	return nil
}

var severityRank = map[models.AlertSeverity]int{
	models.SeverityCritical: 3,
	models.SeverityHigh:     2,
	models.SeverityMedium:   1,
	models.SeverityLow:      0,
}

// GetAlerts returns every current alert, most severe and newest first
func (m *Monitor) GetAlerts() []models.StatusAlert {
	m.mu.RLock()
	out := make([]models.StatusAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := severityRank[out[i].Severity], severityRank[out[j].Severity]; ri != rj {
			return ri > rj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// GetResults returns the latest result per service in registration order
func (m *Monitor) GetResults() []models.HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.HealthCheckResult, 0, len(m.results))
	for _, c := range m.checkers {
		if res, ok := m.results[c.Service()]; ok {
			res.Warnings = append([]string{}, res.Warnings...)
			out = append(out, res)
		}
	}
	return out
}

// GetSummary aggregates the latest results. It has no side effects.
func (m *Monitor) GetSummary() models.StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := models.StatusSummary{
		TotalIntegrations: len(m.results),
		ActiveAlerts:      m.activeAlertsLocked(),
	}
	for _, res := range m.results {
		if res.Connectivity != models.ConnectivityFailed {
			summary.ConnectedIntegrations++
		}
		if res.Status == models.HealthHealthy {
			summary.HealthyIntegrations++
		}
	}
	if m.lastChecked != nil {
		t := *m.lastChecked
		summary.LastChecked = &t
	}
	return summary
}
