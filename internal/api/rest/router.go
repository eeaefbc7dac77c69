package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/davidmoltin/site-integrations/internal/api/rest/handlers"
	customMiddleware "github.com/davidmoltin/site-integrations/internal/api/rest/middleware"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamHandler serves the websocket event stream
type StreamHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	HandleStats(w http.ResponseWriter, r *http.Request)
}

// Options configures the router
type Options struct {
	AllowedOrigins []string

	// Tokens validates bearer tokens. Nil disables token checks entirely.
	Tokens       customMiddleware.TokenValidator
	AuthRequired bool

	// Per-platform limit for webhook deliveries
	WebhookRate  float64
	WebhookBurst int

	// Per-caller limit for API routes
	APIRate  float64
	APIBurst int

	// Stream is optional; /ws is only mounted when set
	Stream StreamHandler

	// MetricsHandler defaults to the default Prometheus registry
	MetricsHandler http.Handler
}

// Router holds the HTTP router and dependencies
type Router struct {
	router   *chi.Mux
	logger   *logger.Logger
	handlers *handlers.Handlers
	metrics  *metrics.Metrics
	opts     Options
	limiters []*customMiddleware.RateLimiter
}

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, m *metrics.Metrics, opts Options) *Router {
	if opts.WebhookRate <= 0 {
		opts.WebhookRate = 50
	}
	if opts.WebhookBurst <= 0 {
		opts.WebhookBurst = 100
	}
	if opts.APIRate <= 0 {
		opts.APIRate = 100.0 / 60.0
	}
	if opts.APIBurst <= 0 {
		opts.APIBurst = 200
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(customMiddleware.Metrics(m))
	r.Use(customMiddleware.SecurityHeaders())
	r.Use(customMiddleware.RequestSizeLimit(customMiddleware.GetMaxRequestSize()))

	// Security: Never allow "*" with credentials enabled
	allowCredentials := true
	for _, origin := range opts.AllowedOrigins {
		if origin == "*" {
			log.Warn("CORS: Wildcard origin '*' detected with credentials enabled. Disabling credentials for security.")
			allowCredentials = false
			break
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	return &Router{
		router:   r,
		logger:   log,
		handlers: h,
		metrics:  m,
		opts:     opts,
	}
}

func (r *Router) authenticate() func(http.Handler) http.Handler {
	if r.opts.Tokens == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return customMiddleware.BearerAuth(r.opts.Tokens, r.opts.AuthRequired, r.metrics, r.logger)
}

// SetupRoutes configures all routes
func (r *Router) SetupRoutes() {
	r.router.Handle("/metrics", r.opts.MetricsHandler)

	r.router.Get("/health", r.handlers.Health.Health)
	r.router.Get("/ready", r.handlers.Health.Ready)

	// Platform webhooks authenticate by signature and challenge, not bearer tokens
	webhookLimiter := customMiddleware.NewRateLimiter(r.opts.WebhookRate, r.opts.WebhookBurst, customMiddleware.ByURLParam("platform"), r.logger)
	apiLimiter := customMiddleware.NewRateLimiter(r.opts.APIRate, r.opts.APIBurst, customMiddleware.ByCaller, r.logger)
	r.limiters = append(r.limiters, webhookLimiter, apiLimiter)

	r.router.Route("/webhooks/{platform}", func(router chi.Router) {
		router.Use(webhookLimiter.Middleware())
		router.Get("/", r.handlers.Webhook.Verify)
		router.Post("/", r.handlers.Webhook.Receive)
	})

	if r.opts.Stream != nil {
		r.router.With(r.authenticate()).Get("/ws", r.opts.Stream.HandleWebSocket)
	}

	r.router.Route("/api/v1", func(router chi.Router) {
		router.Use(middleware.Compress(5))
		router.Use(r.authenticate())
		router.Use(apiLimiter.Middleware())

		router.Post("/queries", r.handlers.Query.Process)

		router.Route("/actions", func(router chi.Router) {
			router.Get("/", r.handlers.Action.List)
			router.Post("/", r.handlers.Action.Execute)
			router.Get("/{id}", r.handlers.Action.Get)
			router.Post("/{id}/cancel", r.handlers.Action.Cancel)
		})
		router.Get("/templates", r.handlers.Action.Templates)

		router.Route("/status", func(router chi.Router) {
			router.Get("/", r.handlers.Status.GetStatus)
			router.Post("/check", r.handlers.Status.RunChecks)
			router.Get("/alerts", r.handlers.Status.ListAlerts)
			router.Get("/alerts/history", r.handlers.Status.AlertHistory)
			router.Post("/alerts/{id}/acknowledge", r.handlers.Status.AcknowledgeAlert)
		})

		router.Route("/confirmations", func(router chi.Router) {
			router.Get("/", r.handlers.Confirmation.List)
			router.Post("/{id}/approve", r.handlers.Confirmation.Approve)
			router.Post("/{id}/reject", r.handlers.Confirmation.Reject)
		})

		if r.opts.Stream != nil {
			router.Get("/ws/stats", r.opts.Stream.HandleStats)
		}
	})
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.router
}

// CleanupLimiters evicts idle rate limit buckets until ctx is done
func (r *Router) CleanupLimiters(ctx context.Context, interval time.Duration) {
	for _, rl := range r.limiters {
		go rl.Cleanup(ctx, interval)
	}
}
