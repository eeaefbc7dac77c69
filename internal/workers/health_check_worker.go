package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const healthWorkerType = "health_check"

// HealthChecker runs one sweep over every monitored service
type HealthChecker interface {
	RunChecks(ctx context.Context) []models.HealthCheckResult
}

// HealthCheckWorker runs periodic health sweeps
type HealthCheckWorker struct {
	monitor  HealthChecker
	metrics  *metrics.Metrics
	logger   *logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHealthCheckWorker creates a new health check worker
func NewHealthCheckWorker(
	monitor HealthChecker,
	m *metrics.Metrics,
	log *logger.Logger,
	interval time.Duration,
) *HealthCheckWorker {
	if interval == 0 {
		interval = 5 * time.Minute // Default to 5 minutes
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &HealthCheckWorker{
		monitor:  monitor,
		metrics:  m,
		logger:   log.WithComponent("health_check_worker"),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *HealthCheckWorker) Start(ctx context.Context) {
	w.logger.Info("Starting health check worker",
		logger.String("interval", w.interval.String()),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *HealthCheckWorker) Stop() {
	w.logger.Info("Stopping health check worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Health check worker stopped")
}

func (w *HealthCheckWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *HealthCheckWorker) sweep(ctx context.Context) {
	start := time.Now()
	results := w.monitor.RunChecks(ctx)

	unhealthy := 0
	for _, r := range results {
		if r.Status != models.HealthHealthy {
			unhealthy++
		}
	}

	status := "success"
	if unhealthy > 0 {
		status = "degraded"
	}
	w.metrics.WorkerJobsProcessed.WithLabelValues(healthWorkerType, status).Inc()
	w.metrics.WorkerJobDuration.WithLabelValues(healthWorkerType).Observe(time.Since(start).Seconds())

	w.logger.Infof("Health sweep completed: services=%d, not_healthy=%d", len(results), unhealthy)
}
