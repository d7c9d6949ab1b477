package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/config"
	"github.com/boddenberg/receptionist-core/internal/handler"
	"github.com/boddenberg/receptionist-core/internal/infra/cache"
	"github.com/boddenberg/receptionist-core/internal/infra/notify"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/infra/payments"
	"github.com/boddenberg/receptionist-core/internal/infra/pool"
	"github.com/boddenberg/receptionist-core/internal/infra/realtime"
	"github.com/boddenberg/receptionist-core/internal/infra/resilience"
	"github.com/boddenberg/receptionist-core/internal/infra/sessionstore"
	"github.com/boddenberg/receptionist-core/internal/infra/webhook"
	"github.com/boddenberg/receptionist-core/internal/port"
	"github.com/boddenberg/receptionist-core/internal/service"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Int("pool_size", len(cfg.OpenAIAPIKeys)),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Duration("detached_timeout", cfg.DetachedTimeout),
		zap.Duration("session_grace", cfg.SessionGrace),
		zap.Int("store_max_retries", cfg.StoreMaxRetries),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "receptionist-core")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	retryCfg := resilienceConfig(cfg)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Session store + connection pool ---
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	var store port.SessionStore
	var counter port.PoolCounter
	if rdb != nil {
		defer rdb.Close()
		store = sessionstore.NewRedis(rdb, cfg.SessionTTL)
		counter = pool.NewRedisCounter(rdb, "receptionist:pool:counter")
	} else {
		logger.Warn("REDIS_URL not set, sessions kept in memory; run a single instance")
		store = sessionstore.NewMemory(cfg.SessionTTL)
	}
	connPool, err := pool.New(cfg.OpenAIAPIKeys, counter, logger)
	if err != nil {
		return err
	}
	connPool.WithMetrics(metrics)

	// --- Business context ---
	catalogProvider, contextCache, err := businessProvider(cfg, httpClient, metrics, logger)
	if err != nil {
		return err
	}
	defer contextCache.Close()

	var demoTokens *service.DemoTokens
	if cfg.DemoTokenSecret != "" {
		demoTokens = service.NewDemoTokens(cfg.DemoTokenSecret, cfg.DemoTokenTTL)
	}
	provider := service.NewTokenResolver(catalogProvider, demoTokens)

	renderer, err := service.NewTemplateRenderer("")
	if err != nil {
		return err
	}

	// --- Upstream transport ---
	transport, err := realtime.New(realtime.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.RealtimeModel,
		Voice:      cfg.RealtimeVoice,
		HTTPClient: httpClient,
	}, resilience.NewCircuitBreaker("realtime"), retryCfg)
	if err != nil {
		return err
	}

	// --- Tool collaborators ---
	pg, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}
	slots, err := availabilityStore(ctx, pg, logger)
	if err != nil {
		return err
	}

	var linkIssuer port.PaymentLinkIssuer
	if cfg.StripeSecretKey != "" {
		linkIssuer = payments.NewStripe(cfg.StripeSecretKey, cfg.PaymentCurrency)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, payment links unavailable")
	}

	var notifier port.Notifier
	if cfg.TwilioEnabled() {
		notifier = notify.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		notifier = notify.NewLog(logger)
	}

	// --- Services ---
	collector := service.NewQuoteCollector(service.NewRequirementsEngine(), service.KeywordExtractor{})
	tools := service.NewToolExecutor(collector, slots, linkIssuer, notifier, metrics, logger)
	lifecycle := service.NewLifecycle(store, connPool, provider, renderer, transport, tools,
		service.LifecycleConfig{
			MaxRetries:    cfg.StoreMaxRetries,
			Grace:         cfg.SessionGrace,
			LockTTL:       cfg.DetachedTimeout,
			SettleTimeout: cfg.DetachedTimeout,
		}, metrics, logger)

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
	if err != nil {
		return err
	}
	replay := cache.New[time.Time](cfg.WebhookTolerance)
	defer replay.Close()

	dispatcher := service.NewDispatcher(verifier, lifecycle, store, replay,
		resilience.NewBulkhead(cfg.MaxConcurrency),
		service.DispatcherConfig{DetachedTimeout: cfg.DetachedTimeout},
		metrics, logger)

	// --- Router ---
	deps := handler.Deps{
		Webhooks: dispatcher,
		Sessions: lifecycle,
		Checks: []handler.HealthCheck{
			{Name: "session_store", Ping: store.Ping},
			{Name: "availability", Ping: slots.Ping},
		},
		Metrics: metrics,
		Logger:  logger,
	}
	if demoTokens != nil {
		deps.Tokens = demoTokens
	}
	router := handler.NewRouter(deps)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("detached work still running at shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
