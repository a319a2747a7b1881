package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/audit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/codegen"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/config"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/eligibility"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/handler"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/metrics"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/middleware"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/ratelimit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/repository"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/service"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/validator"
	"github.com/fairyhunter13/birthday-coupon-engine/pkg/database"
	"github.com/fairyhunter13/birthday-coupon-engine/pkg/redisclient"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.MaxRetries, time.Duration(cfg.DB.ConnectTimeout)*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		log.Info().Msg("schema applied")
	}

	m := metrics.New()
	health := handler.NewHealthHandler(pool)

	store, closeStore, err := newRateLimitStore(ctx, cfg, pool, health)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.RateLimit.Backend).Msg("failed to initialize rate limit store")
	}
	defer closeStore()

	// Issuance gates a uniqueness guarantee, so it never fails open.
	issuanceLimiter := ratelimit.New(store, ratelimit.FailClosed, ratelimit.WithObserver(m))
	redemptionLimiter := ratelimit.New(store, ratelimit.ParsePolicy(cfg.RateLimit.RedemptionPolicy), ratelimit.WithObserver(m))

	sink, closeSink := newAuditSink(cfg)
	defer closeSink()
	publisher := audit.NewPublisher(sink, cfg.Audit.BufferSize, cfg.Audit.WriteTimeout, m)

	loc, err := cfg.Eligibility.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid eligibility timezone")
	}

	// Initialize coupon components (layered architecture)
	couponRepo := repository.NewCouponRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	issuanceService := service.NewIssuanceService(service.IssuanceDeps{
		Pool:      pool,
		Coupons:   couponRepo,
		Profiles:  profileRepo,
		Limiter:   issuanceLimiter,
		Evaluator: eligibility.NewEvaluator(loc),
		Codes:     codegen.New(),
		Audit:     publisher,
		Metrics:   m,
	}, service.IssuanceConfig{
		RateLimit:        cfg.RateLimit.IssuanceLimit,
		RateWindow:       cfg.RateLimit.IssuanceWindow,
		OperationTimeout: cfg.Server.OperationTimeout,
	})
	redemptionService := service.NewRedemptionService(service.RedemptionDeps{
		Pool:    pool,
		Coupons: couponRepo,
		Audit:   publisher,
		Metrics: m,
	}, cfg.Server.OperationTimeout)

	validate := validator.New()
	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret)
	issuanceHandler := handler.NewIssuanceHandler(issuanceService, validate)
	redemptionHandler := handler.NewRedemptionHandler(redemptionService, validate)

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Birthday Coupon Engine",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    64 * 1024,         // Request bodies are a single id or code
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	app.Get("/health", health.Check)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// Coupon routes
	subjectOnly := middleware.RequireRole(verifier, middleware.RoleSubject)
	providerOnly := middleware.RequireRole(verifier, middleware.RoleProvider)
	coupons := app.Group("/api/coupons")
	coupons.Post("/issue", subjectOnly, issuanceHandler.IssueCoupon)
	coupons.Post("/redeem", providerOnly,
		middleware.RateLimit(redemptionLimiter, ratelimit.NamespaceRedemption, cfg.RateLimit.RedemptionLimit, cfg.RateLimit.RedemptionWindow),
		redemptionHandler.RedeemCoupon)
	coupons.Get("/:code", providerOnly, redemptionHandler.GetCoupon)

	// The audit worker outlives the server so events from in-flight requests
	// are flushed after shutdown.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return publisher.Run(auditCtx)
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopAudit()

		log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
		)
		defer shutdownCancel()

		// Shutdown server (waits for in-flight requests)
		log.Info().Msg("waiting for in-flight requests to complete...")
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during server shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped with error")
	}

	// Deferred closers run in reverse: audit sink, limiter store, then the pool.
	log.Info().Msg("server stopped")
}

// newRateLimitStore builds the configured counter store. The returned func
// releases its resources.
func newRateLimitStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, health *handler.HealthHandler) (ratelimit.Store, func(), error) {
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client, err := redisclient.New(ctx, redisclient.Options{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		health.WithDependency("redis", handler.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		log.Info().Msg("rate limiter using redis")
		return ratelimit.NewRedisStore(client), func() { _ = client.Close() }, nil
	case config.BackendMemory:
		log.Warn().Msg("rate limiter using process memory; quotas are per instance")
		return ratelimit.NewMemoryStore(), func() {}, nil
	default:
		log.Info().Msg("rate limiter using postgres")
		return ratelimit.NewPostgresStore(pool), func() {}, nil
	}
}

// newAuditSink returns a Kafka sink when brokers are configured, otherwise
// the log sink.
func newAuditSink(cfg *config.Config) (audit.Sink, func()) {
	if len(cfg.Audit.KafkaBrokers) == 0 {
		log.Info().Msg("audit events go to the log")
		return audit.LogSink{}, func() {}
	}

	sink := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.Audit.KafkaBrokers, cfg.Audit.Topic))
	log.Info().Strs("brokers", cfg.Audit.KafkaBrokers).Str("topic", cfg.Audit.Topic).Msg("audit events go to kafka")
	return sink, func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close audit sink")
		}
	}
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
