package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/machinery-site/comments/pkg/database"
	"github.com/machinery-site/comments/pkg/health"
	"github.com/machinery-site/comments/pkg/httpclient"
	pkgkafka "github.com/machinery-site/comments/pkg/kafka"
	"github.com/machinery-site/comments/pkg/middleware"
	"github.com/machinery-site/comments/pkg/tracing"
	"github.com/machinery-site/comments/services/comments/internal/auth"
	"github.com/machinery-site/comments/services/comments/internal/captcha"
	"github.com/machinery-site/comments/services/comments/internal/config"
	"github.com/machinery-site/comments/services/comments/internal/event"
	handler "github.com/machinery-site/comments/services/comments/internal/handler/http"
	"github.com/machinery-site/comments/services/comments/internal/ratelimit"
	"github.com/machinery-site/comments/services/comments/internal/repository"
	"github.com/machinery-site/comments/services/comments/internal/repository/postgres"
	"github.com/machinery-site/comments/services/comments/internal/repository/sqlite"
	"github.com/machinery-site/comments/services/comments/internal/service"
)

const serviceName = "comments"

// App wires together all dependencies and runs the comments service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	storage        *repository.Manager
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Storage and the optional backing services may be unavailable at startup;
// the service still starts and reports them through its health endpoints.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Storage is opened lazily by the manager; warm it here so the first
	// request does not pay for connection setup and migrations.
	storage := repository.NewManager(cfg.Storage, newOpener(cfg, logger), logger)
	if err := storage.Initialize(ctx); err != nil {
		logger.Warn("storage not ready at startup, serving in offline mode",
			slog.String("backend", cfg.Storage),
			slog.String("error", err.Error()),
		)
	}
	if err := prometheus.Register(database.NewPoolStatsCollector(storage.PoolStats, serviceName)); err != nil {
		logger.Warn("pool stats collector not registered", slog.String("error", err.Error()))
	}

	// Rate limiting: redis when configured and reachable, in-process otherwise.
	var (
		redisClient *redis.Client
		primary     ratelimit.Store
	)
	if cfg.RateLimitRedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, database.DefaultRedisConfig(cfg.RateLimitRedisURL))
		if err != nil {
			logger.Warn("rate limit redis unavailable, using in-process counters",
				slog.String("error", err.Error()),
			)
		} else {
			primary = ratelimit.NewRedisStore(redisClient)
			logger.Info("rate limit store connected to redis")
		}
	}
	limiter := ratelimit.NewLimiter(primary, ratelimit.Config{
		Window: cfg.RateLimitWindow(),
		Max:    cfg.RateLimitMax,
	}, logger)

	// CAPTCHA verification runs behind a circuit breaker.
	var verifier captcha.Verifier
	if cfg.CaptchaSecret != "" {
		breaker := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("captcha"),
			logger,
		)
		verifier = captcha.NewHTTPVerifier(breaker, cfg.CaptchaSecret, cfg.CaptchaVerifyURL)
	}
	captchaPolicy := captcha.NewPolicy(cfg.Environment, verifier, logger)

	// Kafka events are optional.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	eventProducer := event.NewProducer(publisher, logger)

	// Build the dependency graph.
	authn := auth.New(auth.Config{
		StaticToken:   cfg.AdminToken,
		SessionKey:    cfg.AdminSessionKey,
		SessionSecret: cfg.AdminSessionSecret,
		SessionTTL:    cfg.SessionTTL(),
	}, logger)
	if !authn.Configured() {
		logger.Warn("no admin token or session secret configured, moderation endpoints will fail")
	}
	commentService := service.NewCommentService(storage, limiter, captchaPolicy, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("storage", func(ctx context.Context) error {
		store, err := storage.Store(ctx)
		if err != nil {
			return err
		}
		return store.Ping(ctx)
	})
	healthHandler.RegisterOptional("rate_limit", func(context.Context) error {
		if limiter.Degraded() {
			return errors.New("redis store abandoned, counting in process")
		}
		return nil
	})
	if redisClient != nil {
		healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterOptional("kafka", producer.Ping)
	}

	// HTTP router.
	router := handler.NewRouter(
		commentService,
		authn,
		storage,
		limiter,
		healthHandler,
		middleware.NewClientIPResolver(cfg.TrustedProxies, logger),
		logger,
		handler.RouterConfig{
			Environment:       cfg.Environment,
			AllowedOrigins:    cfg.AllowedOrigins,
			PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
			EventsEnabled:     eventProducer.Enabled(),
			RequireOrigin:     cfg.IsProduction(),
		},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		storage:        storage,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newOpener returns the Opener for the configured storage backend.
func newOpener(cfg *config.Config, logger *slog.Logger) repository.Opener {
	switch cfg.Storage {
	case config.StoragePostgres:
		return func(ctx context.Context) (repository.Store, error) {
			if cfg.DatabaseURL == "" {
				return nil, fmt.Errorf("%w: COMMENTS_DATABASE_URL is empty", repository.ErrNotConfigured)
			}
			pgCfg := database.DefaultPostgresConfig()
			pgCfg.URL = cfg.DatabaseURL
			pgCfg.MaxConns = cfg.DBMaxConns
			pgCfg.MinConns = cfg.DBMinConns
			pgCfg.MaxConnLifetime = time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute
			pgCfg.MaxConnIdleTime = time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute

			store, err := postgres.Open(ctx, pgCfg, logger)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	default:
		return func(ctx context.Context) (repository.Store, error) {
			if cfg.SQLitePath == "" {
				return nil, fmt.Errorf("%w: COMMENTS_SQLITE_PATH is empty", repository.ErrNotConfigured)
			}
			store, err := sqlite.Open(ctx, database.SQLiteConfig{Path: cfg.SQLitePath}, logger)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	}
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
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. Storage
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close redis client.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close storage.
	if err := a.storage.Close(); err != nil {
		a.logger.Error("storage close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
