package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/hdpay/internal/auth"
	"github.com/utafrali/hdpay/internal/config"
	"github.com/utafrali/hdpay/internal/event"
	"github.com/utafrali/hdpay/internal/gateway"
	handler "github.com/utafrali/hdpay/internal/handler/http"
	"github.com/utafrali/hdpay/internal/hdpay"
	"github.com/utafrali/hdpay/internal/lock"
	"github.com/utafrali/hdpay/internal/repository"
	"github.com/utafrali/hdpay/internal/repository/memory"
	"github.com/utafrali/hdpay/internal/repository/postgres"
	"github.com/utafrali/hdpay/internal/webhook"
	"github.com/utafrali/hdpay/migrations"
	"github.com/utafrali/hdpay/pkg/database"
	"github.com/utafrali/hdpay/pkg/health"
	"github.com/utafrali/hdpay/pkg/httpclient"
	pkgkafka "github.com/utafrali/hdpay/pkg/kafka"
	"github.com/utafrali/hdpay/pkg/middleware"
	"github.com/utafrali/hdpay/pkg/tracing"
)

const serviceName = "hdpay-gateway"

// App wires together all dependencies and runs the HDPay gateway service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	tracerShutdown tracing.Shutdown
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	repo, err := a.initOrderStore(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	locker, err := a.initLocker(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Kafka is optional; without it order events are dropped.
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	events := event.NewProducer(a.producer, logger)

	// Outbound processor client: fixed timeout, no retries, circuit breaker.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout()
	httpCfg.MaxRetries = 0
	breaker := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), httpclient.CircuitBreakerConfig{
		Name:         "hdpay",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}, logger)
	processor := hdpay.NewClient(hdpay.Config{
		Endpoint:  cfg.WebhookURL,
		APIKey:    cfg.APIKey,
		ProjectID: cfg.ProjectID,
	}, breaker, logger)
	if cfg.WebhookURL == "" {
		logger.Warn("HDPAY_WEBHOOK_URL is empty, checkout and refund calls will fail")
	}

	// Build the dependency graph.
	gatewayService := gateway.NewService(repo, processor, events, gateway.Config{
		SiteURL:   cfg.SiteBaseURL(),
		ProjectID: cfg.ProjectID,
		TestMode:  cfg.TestMode,
	}, logger)
	reconciler := webhook.NewReconciler(repo, locker, events,
		webhook.NewMetrics(prometheus.DefaultRegisterer),
		webhook.Config{APIKey: cfg.APIKey},
		logger,
	)
	if cfg.APIKey == "" {
		logger.Warn("HDPAY_API_KEY is empty, webhook notifications are not authenticated")
	}
	tokens := auth.NewValidator(cfg.AdminJWTSecret)

	// HTTP router.
	limits := handler.RateLimits{
		Public:   middleware.RateLimitConfig{RPS: cfg.PublicRateLimitRPS, Burst: cfg.PublicRateLimitBurst},
		Operator: middleware.RateLimitConfig{RPS: cfg.OperatorRateLimitRPS, Burst: cfg.OperatorRateLimitBurst},
	}
	router := handler.NewRouter(reconciler, gatewayService, tokens.Validate, healthHandler, limits, logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Timeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

func (a *App) initOrderStore(ctx context.Context, hh *health.Handler) (repository.OrderRepository, error) {
	cfg := a.cfg
	if cfg.OrderStore == config.StoreMemory {
		a.logger.Warn("using in-memory order store, data is lost on restart")
		return memory.NewOrderRepository(), nil
	}

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	database.RegisterPoolMetrics(pool, serviceName)
	hh.RegisterCritical("postgres", pool.Ping)

	tracer := database.NewQueryTracer(nil,
		time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	return postgres.NewOrderRepository(pool, tracer), nil
}

func (a *App) initLocker(ctx context.Context, hh *health.Handler) (lock.Locker, error) {
	cfg := a.cfg
	if !cfg.RedisLockEnabled {
		return lock.Noop{}, nil
	}

	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("db", cfg.RedisDB))

	// The lock fails open, so Redis trouble only degrades readiness.
	hh.RegisterNonCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	return lock.NewRedisLocker(rdb,
		time.Duration(cfg.LockTTLSeconds)*time.Second,
		time.Duration(cfg.LockWaitMs)*time.Millisecond,
	), nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// In-flight webhook deliveries get the full processor timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout()+5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeResources()

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
