package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	HTTPRequestSize   *prometheus.HistogramVec
	HTTPResponseSize  *prometheus.HistogramVec

	// Webhook Metrics
	WebhookEventsReceived       *prometheus.CounterVec
	WebhookEventsProcessed      *prometheus.CounterVec
	WebhookHandlerDuration      *prometheus.HistogramVec
	WebhookQueueLength          prometheus.Gauge
	WebhookVerificationFailures *prometheus.CounterVec

	// Action Metrics
	ActionExecutionsTotal *prometheus.CounterVec
	ActionDuration        *prometheus.HistogramVec
	ActionStepDuration    *prometheus.HistogramVec
	ActionRollbacksTotal  *prometheus.CounterVec
	ActiveExecutions      prometheus.Gauge

	// Query Metrics
	QueriesTotal          *prometheus.CounterVec
	QueryDuration         *prometheus.HistogramVec
	QueryCacheHits        prometheus.Counter
	QueryCacheMisses      prometheus.Counter
	IntentClassifications *prometheus.CounterVec

	// Platform Metrics
	PlatformCallsTotal   *prometheus.CounterVec
	PlatformCallDuration *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec

	// Health Metrics
	IntegrationHealth *prometheus.GaugeVec
	ActiveAlerts      prometheus.Gauge
	AlertsRaisedTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration        *prometheus.HistogramVec
	DBQueryErrors          *prometheus.CounterVec
	RedisOperationDuration *prometheus.HistogramVec
	RedisOperationErrors   *prometheus.CounterVec

	// Worker Metrics
	WorkerJobsProcessed *prometheus.CounterVec
	WorkerJobDuration   *prometheus.HistogramVec
	WorkerErrors        *prometheus.CounterVec

	// Authentication Metrics
	AuthTokenValidations *prometheus.CounterVec
}

// New creates all Prometheus metrics and registers them with reg.
// A nil registerer yields unregistered collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		// HTTP Metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Webhook Metrics
		WebhookEventsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_received_total",
				Help: "Total number of normalized webhook events enqueued",
			},
			[]string{"source", "type"},
		),
		WebhookEventsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_processed_total",
				Help: "Total number of webhook events dispatched, by outcome",
			},
			[]string{"source", "type", "outcome"},
		),
		WebhookHandlerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_handler_duration_seconds",
				Help:    "Webhook handler execution time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source", "type"},
		),
		WebhookQueueLength: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhook_queue_length",
				Help: "Number of webhook events waiting to be processed",
			},
		),
		WebhookVerificationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_verification_failures_total",
				Help: "Total number of rejected webhook deliveries and handshakes",
			},
			[]string{"source"},
		),

		// Action Metrics
		ActionExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_executions_total",
				Help: "Total number of action executions",
			},
			[]string{"action_type", "status"},
		),
		ActionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "action_execution_duration_seconds",
				Help:    "Action execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"action_type"},
		),
		ActionStepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "action_step_duration_seconds",
				Help:    "Action step execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"platform", "operation", "status"},
		),
		ActionRollbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_rollbacks_total",
				Help: "Total number of step rollbacks attempted",
			},
			[]string{"platform", "operation", "status"},
		),
		ActiveExecutions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_action_executions",
				Help: "Number of action executions currently in flight",
			},
		),

		// Query Metrics
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queries_total",
				Help: "Total number of processed queries",
			},
			[]string{"intent", "cached"},
		),
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_duration_seconds",
				Help:    "Query processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		QueryCacheHits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total number of query cache hits",
			},
		),
		QueryCacheMisses: f.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total number of query cache misses",
			},
		),
		IntentClassifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_classifications_total",
				Help: "Total number of intent classifications by source",
			},
			[]string{"source", "intent"},
		),

		// Platform Metrics
		PlatformCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_calls_total",
				Help: "Total number of platform adapter calls",
			},
			[]string{"platform", "operation", "status"},
		),
		PlatformCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "platform_call_duration_seconds",
				Help:    "Platform adapter call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform", "operation"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "platform_circuit_breaker_state",
				Help: "Circuit breaker state per platform (0 closed, 1 half-open, 2 open)",
			},
			[]string{"platform"},
		),

		// Health Metrics
		IntegrationHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "integration_health",
				Help: "Integration health (2 healthy, 1 degraded, 0 unhealthy)",
			},
			[]string{"service"},
		),
		ActiveAlerts: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "status_alerts_active",
				Help: "Number of active status alerts",
			},
		),
		AlertsRaisedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "status_alerts_raised_total",
				Help: "Total number of status alerts raised",
			},
			[]string{"platform", "severity"},
		),

		// Database Metrics
		DBQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query execution time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
			},
			[]string{"query_type", "table"},
		),
		DBQueryErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_query_errors_total",
				Help: "Total number of database query errors",
			},
			[]string{"query_type", "table"},
		),
		RedisOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redis_operation_duration_seconds",
				Help:    "Redis operation execution time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
			},
			[]string{"operation"},
		),
		RedisOperationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_operation_errors_total",
				Help: "Total number of Redis operation errors",
			},
			[]string{"operation"},
		),

		// Worker Metrics
		WorkerJobsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_jobs_processed_total",
				Help: "Total number of jobs processed by workers",
			},
			[]string{"worker_type", "status"},
		),
		WorkerJobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_job_duration_seconds",
				Help:    "Worker job processing duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"worker_type"},
		),
		WorkerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_errors_total",
				Help: "Total number of worker errors",
			},
			[]string{"worker_type"},
		),

		// Authentication Metrics
		AuthTokenValidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_validations_total",
				Help: "Total number of token validation attempts",
			},
			[]string{"valid"},
		),
	}

	return m
}

// NewUnregistered returns metrics that are not exported anywhere
func NewUnregistered() *Metrics {
	return New(nil)
}

// HealthValue converts a health status string to the integration_health gauge value
func HealthValue(status string) float64 {
	switch status {
	case "healthy":
		return 2
	case "degraded":
		return 1
	default:
		return 0
	}
}
