/**
 * @description
 * This is the main entry point for the rental-service. It loads configuration, connects
 * the ledger store, the payout provider, RabbitMQ and Redis, then serves the HTTP API
 * while the outbox dispatcher and the overdue-rent scheduler run in the background.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared rate limiting.
 * - github.com/prometheus/client_golang: Metrics registry and /metrics handler.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/payoutclient: Client for the payout provider.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/rental-service/internal/api"
	"github.com/transfa/rental-service/internal/app"
	"github.com/transfa/rental-service/internal/config"
	"github.com/transfa/rental-service/internal/metrics"
	"github.com/transfa/rental-service/internal/store"
	"github.com/transfa/rental-service/pkg/payoutclient"
	"github.com/transfa/rental-service/pkg/rabbitmq"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration is incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("starting rental-service", "port", cfg.ServerPort)

	ctx := context.Background()

	repository, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	state, err := repository.EnsureLedgerState(ctx, cfg.OwnerAccount)
	if err != nil {
		logger.Error("failed to initialize ledger state", "error", err)
		os.Exit(1)
	}
	if state.Owner != cfg.OwnerAccount {
		logger.Warn("ledger owner is fixed at first start; OWNER_ACCOUNT ignored",
			"ledger_owner", state.Owner,
			"configured_owner", cfg.OwnerAccount,
		)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	var producer rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			defer eventProducer.Close()
			producer = eventProducer
			logger.Info("rabbitmq producer connected")
		}
	} else {
		logger.Warn("RABBITMQ_URL not set; ledger events stay in the outbox")
	}

	var transfers app.Transferer = app.LoggingTransferer{Logger: logger}
	if cfg.PayoutAPIBaseURL != "" {
		transfers = payoutclient.NewClient(cfg.PayoutAPIBaseURL, cfg.PayoutAPIKey, cfg.PayoutCurrency)
		logger.Info("payout provider configured", "base_url", cfg.PayoutAPIBaseURL, "currency", cfg.PayoutCurrency)
	} else {
		logger.Warn("PAYOUT_API_BASE_URL not set; transfers are only logged")
	}

	limiter, closeLimiter := newRateLimiter(ctx, cfg, logger)
	defer closeLimiter()

	clock := app.SystemClock{}
	ledger := app.NewLedger(repository, transfers, clock, logger, ledgerMetrics)

	handler := api.RentalRoutes(api.NewRentalHandlers(ledger, logger), api.RouterConfig{
		Auth: api.AuthConfig{
			SigningKey: []byte(cfg.JWTSigningKey),
			Issuer:     cfg.JWTIssuer,
		},
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logger,
	})

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	dispatcher := app.NewOutboxDispatcher(repository, producer, cfg.RentalEventsExchange, logger, ledgerMetrics).
		WithBatchSize(cfg.OutboxBatchSize).
		WithPollInterval(time.Duration(cfg.OutboxPollIntervalMS) * time.Millisecond)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	jobs := app.NewJobs(repository, producer, cfg.RentalEventsExchange, clock, logger, ledgerMetrics)
	scheduler := app.NewScheduler(jobs, logger, cfg.OverdueSweepSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before the shutdown deadline")
	}

	stopDispatch()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("outbox dispatcher did not stop before the shutdown deadline")
	}

	logger.Info("shutdown complete")
}

// openStore connects PostgreSQL when DATABASE_URL is set and falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory ledger store")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	// Every ledger mutation serializes on one row, so a large pool buys nothing.
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connection established")

	if cfg.RunMigrations {
		if err := store.RunMigrations(ctx, dbpool, logger); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
	}
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// newRateLimiter prefers a shared Redis window and falls back to a per-process token bucket.
func newRateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.RateLimiter, func()) {
	local := api.NewLocalRateLimiter(cfg.RateLimitPerMinute)
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("REDIS_URL not set; using in-process rate limiting")
		return local, func() {}
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process rate limiting", "error", err)
		return local, func() {}
	}
	client := redis.NewClient(options)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process rate limiting", "error", err)
		client.Close()
		return local, func() {}
	}
	logger.Info("redis connected")

	limiter := api.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix, cfg.RateLimitPerMinute, time.Minute)
	return limiter, func() { client.Close() }
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
