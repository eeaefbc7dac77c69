package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/davidmoltin/site-integrations/internal/api/rest"
	"github.com/davidmoltin/site-integrations/internal/api/rest/handlers"
	"github.com/davidmoltin/site-integrations/internal/cache"
	"github.com/davidmoltin/site-integrations/internal/confirmation"
	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/health"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/internal/platforms/messaging"
	"github.com/davidmoltin/site-integrations/internal/platforms/workspace"
	"github.com/davidmoltin/site-integrations/internal/query"
	"github.com/davidmoltin/site-integrations/internal/repository/postgres"
	"github.com/davidmoltin/site-integrations/internal/webhook"
	"github.com/davidmoltin/site-integrations/internal/websocket"
	"github.com/davidmoltin/site-integrations/internal/workers"
	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/config"
	"github.com/davidmoltin/site-integrations/pkg/database"
	"github.com/davidmoltin/site-integrations/pkg/llm"
	"github.com/davidmoltin/site-integrations/pkg/llm/providers"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	logger.SetDefault(log)
	log.Info("Starting Site Integrations API",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Optional PostgreSQL: execution audit trail and alert history
	var (
		db             *database.PostgresDB
		executionStore engine.ExecutionStore
		alertHistory   *postgres.AlertHistoryRepository
		healthCheckers = &handlers.HealthCheckers{}
	)
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(cfg, m, log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		if err := postgres.Migrate(db.DB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		executionStore = postgres.NewExecutionRepository(db)
		alertHistory = postgres.NewAlertHistoryRepository(db)
		healthCheckers.DB = db
	}

	// Optional Redis: shared query cache and cross-instance websocket fan-out
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisClient(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer rc.Close()
		redisClient = rc.Client
		healthCheckers.Redis = rc
	}

	// Platform adapters, each behind a circuit breaker
	messagingClient, workspaceClient := buildAdapters(cfg, log)
	registry := platforms.NewRegistry()
	if messagingClient != nil {
		registry.Register(platforms.NewGuarded(messagingClient, platforms.DefaultBreakerSettings(), m, log))
	}
	if workspaceClient != nil {
		registry.Register(platforms.NewGuarded(workspaceClient, platforms.DefaultBreakerSettings(), m, log))
	}

	// Websocket hub receives progress, alerts, confirmations and webhook events
	hub := websocket.NewHub(redisClient, log)
	if err := hub.Start(); err != nil {
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}
	defer hub.Stop()

	// Query orchestrator
	var responseCache cache.ResponseCache
	if cfg.Query.CacheBackend == "redis" && redisClient != nil {
		responseCache = cache.NewRedisCache(redisClient, cfg.Query.CacheTTL, m, log)
	} else {
		responseCache = cache.NewMemoryCache(cfg.Query.CacheTTL, cfg.Query.CacheMaxEntries)
	}
	classifier := buildClassifier(cfg, log)
	queryOpts := query.Options{
		Cache:           responseCache,
		PlatformTimeout: cfg.Query.PlatformTimeout,
		MinConfidence:   cfg.Query.MinConfidence,
	}
	if classifier != nil {
		queryOpts.Classifier = classifier
		queryOpts.Summarizer = classifier
	}
	orchestrator := query.NewOrchestrator(registry, queryOpts, m, log)

	// Webhook processor
	processor := webhook.NewProcessor(webhook.Config{MaxRetries: cfg.Webhook.MaxRetries}, m, log)
	deps := webhook.HandlerDeps{
		Cache:    responseCache,
		Notifier: hub,
		Logger:   log,
	}
	if messagingClient != nil {
		processor.RegisterSource(webhook.NewWhatsAppSource(cfg.Messaging.VerifyToken, cfg.Messaging.AppSecret))
		deps.Recorder = messagingClient
		deps.Messenger, _ = registry.Get(messagingClient.Platform())
	}
	if workspaceClient != nil {
		processor.RegisterSource(webhook.NewWorkspaceSource(cfg.Workspace.ChannelToken, cfg.Workspace.VerifyToken))
	}
	webhook.RegisterDefaultHandlers(processor, deps)

	// Action engine with user confirmation
	catalog, err := engine.LoadCatalog(cfg.Actions.TemplatesFile)
	if err != nil {
		return fmt.Errorf("failed to load action templates: %w", err)
	}
	operations := engine.DefaultOperations()
	if err := catalog.Validate(operations); err != nil {
		return fmt.Errorf("invalid action templates: %w", err)
	}
	broker := confirmation.NewBroker(cfg.Actions.ConfirmationTimeout, hub, log)
	actionEngine := engine.NewEngine(catalog, operations, registry, engine.Options{
		Confirmer:          broker,
		Reporter:           hub,
		Store:              executionStore,
		DefaultStepTimeout: cfg.Actions.DefaultStepTimeout,
	}, m, log)

	// Health monitor
	monitor := health.NewMonitor(health.Config{SlowThreshold: cfg.Health.SlowThreshold}, m, log)
	for _, adapter := range registry.All() {
		monitor.RegisterChecker(health.NewAdapterChecker(adapter))
	}
	monitor.RegisterChecker(health.NewQueueChecker(processor, health.DefaultBacklogWarning, health.DefaultBacklogCritical))
	monitor.RegisterChecker(health.NewClassifierChecker(orchestrator, classifier != nil))
	monitor.AddSink(hub)
	if alertHistory != nil {
		monitor.AddSink(alertHistory)
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	queueWorker := workers.NewWebhookQueueWorker(processor, m, log, cfg.Webhook.QueueInterval, cfg.Webhook.BatchSize)
	queueWorker.Start(workerCtx)
	healthWorker := workers.NewHealthCheckWorker(monitor, m, log, cfg.Health.Interval)
	healthWorker.Start(workerCtx)

	// HTTP surface
	h := handlers.NewHandlers(log, handlers.Services{
		Webhooks:      processor,
		Queries:       orchestrator,
		Actions:       actionEngine,
		Monitor:       monitor,
		AlertHistory:  historyOrNil(alertHistory),
		Confirmations: broker,
	}, healthCheckers, cfg.App.Version)

	routerOpts := rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthRequired:   cfg.Auth.Required,
		WebhookRate:    cfg.Webhook.RateLimit,
		WebhookBurst:   cfg.Webhook.RateBurst,
		Stream:         websocket.NewHandler(hub, cfg.Server.AllowedOrigins, log),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}
	if cfg.Auth.JWTSecret != "" {
		routerOpts.Tokens = auth.NewJWTManager(cfg.Auth.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set, API requests are accepted without bearer tokens")
	}
	router := rest.NewRouter(log, h, m, routerOpts)
	router.SetupRoutes()
	router.CleanupLimiters(workerCtx, 10*time.Minute)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		// Stop background workers first
		queueWorker.Stop()
		healthWorker.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Executions waiting on a confirmation may still be running
		if err := h.Action.Wait(ctx); err != nil {
			log.Warn("Background executions still running at shutdown", logger.Err(err))
		}

		if remaining := processor.QueueLength(); remaining > 0 {
			log.Warn("Webhook events left unprocessed", logger.Int("events", remaining))
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}

// buildAdapters returns the enabled platform clients. Either may be nil.
func buildAdapters(cfg *config.Config, log *logger.Logger) (*messaging.Client, *workspace.Client) {
	var (
		msg *messaging.Client
		ws  *workspace.Client
	)

	if cfg.Messaging.Enabled {
		msg = messaging.New(messaging.Config{
			BaseURL:       cfg.Messaging.BaseURL,
			APIVersion:    cfg.Messaging.APIVersion,
			PhoneNumberID: cfg.Messaging.PhoneNumberID,
			AccessToken:   cfg.Messaging.AccessToken,
			SendRate:      cfg.Messaging.SendRate,
			Timeout:       cfg.Messaging.Timeout,
		}, log)
	} else {
		log.Warn("Messaging integration disabled")
	}

	if cfg.Workspace.Enabled {
		ws = workspace.New(workspace.Config{
			BaseURL:      cfg.Workspace.BaseURL,
			TokenURL:     cfg.Workspace.TokenURL,
			ClientID:     cfg.Workspace.ClientID,
			ClientSecret: cfg.Workspace.ClientSecret,
			RefreshToken: cfg.Workspace.RefreshToken,
			CalendarID:   cfg.Workspace.CalendarID,
			FolderID:     cfg.Workspace.FolderID,
			Timeout:      cfg.Workspace.Timeout,
		}, log)
	} else {
		log.Warn("Google Workspace integration disabled")
	}

	return msg, ws
}

// buildClassifier returns nil when no LLM provider is configured or it fails
// to initialize; queries then rely on keyword matching.
func buildClassifier(cfg *config.Config, log *logger.Logger) *query.LLMClassifier {
	if cfg.LLM.Provider == "" {
		log.Info("No LLM provider configured, using keyword intent matching")
		return nil
	}

	client, err := providers.New(&llm.Config{
		Provider:     llm.Provider(cfg.LLM.Provider),
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		MaxRetries:   2,
		RetryDelay:   500 * time.Millisecond,
	})
	if err != nil {
		log.Warn("LLM provider unavailable, using keyword intent matching", logger.Err(err))
		return nil
	}

	classifier, err := query.NewLLMClassifier(client)
	if err != nil {
		log.Warn("LLM classifier unavailable, using keyword intent matching", logger.Err(err))
		return nil
	}
	return classifier
}

// historyOrNil keeps a nil repository from becoming a non-nil interface
func historyOrNil(r *postgres.AlertHistoryRepository) handlers.AlertHistory {
	if r == nil {
		return nil
	}
	return r
}
