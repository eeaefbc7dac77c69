package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const webhookWorkerType = "webhook_queue"

// QueueDrainer is the part of the webhook processor the worker needs
type QueueDrainer interface {
	Drain(ctx context.Context, max int) int
	QueueLength() int
}

// WebhookQueueWorker drains the webhook event queue in bounded batches
type WebhookQueueWorker struct {
	queue     QueueDrainer
	metrics   *metrics.Metrics
	logger    *logger.Logger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWebhookQueueWorker creates a new webhook queue worker
func NewWebhookQueueWorker(
	queue QueueDrainer,
	m *metrics.Metrics,
	log *logger.Logger,
	interval time.Duration,
	batchSize int,
) *WebhookQueueWorker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &WebhookQueueWorker{
		queue:     queue,
		metrics:   m,
		logger:    log.WithComponent("webhook_queue_worker"),
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *WebhookQueueWorker) Start(ctx context.Context) {
	w.logger.Info("Starting webhook queue worker",
		logger.String("interval", w.interval.String()),
		logger.Int("batch_size", w.batchSize),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully. A batch in progress is finished first.
func (w *WebhookQueueWorker) Stop() {
	w.logger.Info("Stopping webhook queue worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Webhook queue worker stopped")
}

func (w *WebhookQueueWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain processes at most one batch and leaves the rest for the next tick
func (w *WebhookQueueWorker) drain(ctx context.Context) int {
	if w.queue.QueueLength() == 0 {
		return 0
	}

	start := time.Now()
	n := w.queue.Drain(ctx, w.batchSize)
	if n == 0 {
		return 0
	}

	w.metrics.WorkerJobsProcessed.WithLabelValues(webhookWorkerType, "success").Add(float64(n))
	w.metrics.WorkerJobDuration.WithLabelValues(webhookWorkerType).Observe(time.Since(start).Seconds())

	w.logger.Debug("Drained webhook events",
		logger.Int("processed", n),
		logger.Int("remaining", w.queue.QueueLength()),
	)
	return n
}
