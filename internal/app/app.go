// Package app assembles the checkout engine: configuration, storage,
// collaborator clients, services, background workers, and the HTTP server,
// wired once at process start with explicit constructor injection.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carticy-dev/agentic-checkout/internal/catalog"
	"github.com/carticy-dev/agentic-checkout/internal/config"
	"github.com/carticy-dev/agentic-checkout/internal/event"
	"github.com/carticy-dev/agentic-checkout/internal/handler"
	"github.com/carticy-dev/agentic-checkout/internal/idempotency"
	"github.com/carticy-dev/agentic-checkout/internal/payment"
	"github.com/carticy-dev/agentic-checkout/internal/repository/postgres"
	"github.com/carticy-dev/agentic-checkout/internal/service"
	"github.com/carticy-dev/agentic-checkout/internal/webhook"
	"github.com/carticy-dev/agentic-checkout/migrations"
	"github.com/carticy-dev/agentic-checkout/pkg/database"
	"github.com/carticy-dev/agentic-checkout/pkg/health"
	pkgkafka "github.com/carticy-dev/agentic-checkout/pkg/kafka"
	"github.com/carticy-dev/agentic-checkout/pkg/logger"
	"github.com/carticy-dev/agentic-checkout/pkg/tracing"
)

const serviceName = "checkout-engine"

// App is the assembled checkout engine process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	server *http.Server

	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer

	bus        *event.Bus
	dispatcher *webhook.Dispatcher
	sweeper    *service.Sweeper
	allowlist  *handler.Allowlist

	tracingShutdown func(context.Context) error
}

// New builds the application from configuration.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
		Enabled:      cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pgCfg := cfg.PostgresConfig()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	database.RegisterPoolMetrics(pool, serviceName)

	// The idempotency ledger runs on Redis so claims are shared across
	// handler instances. Test mode tolerates a missing Redis and falls back
	// to the in-process store.
	var ledger idempotency.Store
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisConfig())
	if err != nil {
		if !cfg.TestMode {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Warn("redis unavailable, using in-memory idempotency ledger", slog.String("error", err.Error()))
		ledger = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	} else {
		ledger = idempotency.NewRedisStore(redisClient, cfg.IdempotencyTTL)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), log)

	sessionRepo := postgres.NewSessionRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	deliveryStore := webhook.NewPostgresStore(pool)

	sinks := []event.Sink{
		webhook.NewSink(deliveryStore, cfg.WebhookURL, log),
		event.NewKafkaSink(producer, cfg.KafkaTopic, log),
	}
	bus := event.NewBus(cfg.WebhookQueueCapacity, log, sinks...)

	dispatcher := webhook.NewDispatcher(deliveryStore, webhook.NewSigner(cfg.WebhookSecret), webhook.DispatcherConfig{
		MaxAttempts:    cfg.WebhookMaxAttempts,
		InitialDelay:   cfg.WebhookInitialDelay,
		MaxDelay:       cfg.WebhookMaxDelay,
		PollInterval:   time.Second,
		BatchSize:      50,
		RequestTimeout: 10 * time.Second,
	}, log)

	var gateway payment.Gateway
	if cfg.GatewayBaseURL != "" {
		gateway = payment.NewHTTPGateway(payment.HTTPGatewayConfig{
			BaseURL: cfg.GatewayBaseURL,
			APIKey:  cfg.GatewayAPIKey,
		}, payment.NewGatewayClient(cfg.GatewayTimeout, log))
	} else {
		if !cfg.TestMode {
			return nil, fmt.Errorf("a payment gateway URL is required outside test mode")
		}
		gateway = payment.NewMockGateway()
	}
	adapter := payment.NewAdapter(gateway, cfg.GatewayDefaultMethod, log)

	pricing, err := service.NewPricingRules(cfg.TaxBasisPoints, cfg.DiscountCodes)
	if err != nil {
		return nil, fmt.Errorf("load pricing rules: %w", err)
	}

	// The catalog is an external collaborator; the built-in one backs local
	// development and demos.
	cat := demoCatalog()

	sessions := service.NewSessionService(service.SessionDeps{
		Sessions:   sessionRepo,
		Orders:     orderRepo,
		Catalog:    cat,
		Reserver:   cat,
		Payments:   adapter,
		Bus:        bus,
		Shipping:   service.DefaultShippingTable(),
		Pricing:    pricing,
		SessionTTL: cfg.SessionTTL,
		Logger:     log,
	})
	events := service.NewPaymentEventService(orderRepo, bus, log)

	sweeper := service.NewSweeper(sessionRepo, cat, service.SweeperConfig{
		Interval:       cfg.SweepInterval,
		AbandonedAfter: cfg.AbandonedAfter,
		BatchSize:      cfg.SweepBatchSize,
	}, log)

	allowlist := handler.NewAllowlist(cfg.AllowlistURL, cfg.TestMode, log)
	gate, err := handler.NewGate(handler.GateConfig{
		Credentials:    cfg.APICredentials,
		TestMode:       cfg.TestMode,
		APIVersion:     cfg.APIVersion,
		TrustedProxies: cfg.TrustedProxies,
	}, allowlist, handler.NewRateLimiter(handler.RateLimiterConfig{
		PerSecond: cfg.RateLimitPerSec,
		Burst:     cfg.RateLimitBurst,
		IdleTTL:   cfg.RateLimitIdleTTL,
	}), log)
	if err != nil {
		return nil, fmt.Errorf("configure access gate: %w", err)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	router := handler.NewRouter(handler.RouterDeps{
		Sessions:      handler.NewSessionHandler(sessions, log),
		PaymentEvents: handler.NewPaymentEventHandler(events, log),
		Gate:          gate,
		Idempotency:   ledger,
		Health:        healthHandler,
		Logger:        log,
		Tracing:       cfg.TracingEnabled,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		cfg:             cfg,
		logger:          log,
		server:          server,
		pool:            pool,
		redis:           redisClient,
		producer:        producer,
		bus:             bus,
		dispatcher:      dispatcher,
		sweeper:         sweeper,
		allowlist:       allowlist,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run starts the background workers and the HTTP server, blocking until the
// context is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.bus.Start(ctx)
	a.dispatcher.Start(ctx)
	a.sweeper.Start(ctx)
	a.allowlist.Start(ctx, a.cfg.AllowlistRefresh)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("checkout engine listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		_ = a.shutdown()
		return err
	}
}

// shutdown drains in reverse dependency order: stop accepting requests,
// then the workers, then the event bus, then the clients.
func (a *App) shutdown() error {
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	a.sweeper.Stop()
	a.allowlist.Stop()
	a.bus.Stop()
	a.dispatcher.Stop()

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close failed", slog.String("error", err.Error()))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close failed", slog.String("error", err.Error()))
		}
	}
	a.pool.Close()

	if err := a.tracingShutdown(ctx); err != nil {
		a.logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// demoCatalog seeds the built-in catalog used when no external catalog
// integration is configured.
func demoCatalog() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(
		catalog.Item{Ref: "sku-tee", Title: "Logo T-Shirt", UnitPrice: 2000, Stock: 500},
		catalog.Item{Ref: "sku-mug", Title: "Ceramic Mug", UnitPrice: 1000, Stock: 500},
		catalog.Item{Ref: "sku-hoodie", Title: "Zip Hoodie", UnitPrice: 4500, Stock: 200},
		catalog.Item{Ref: "sku-stickers", Title: "Sticker Pack", UnitPrice: 300, Stock: 1000},
	)
}
