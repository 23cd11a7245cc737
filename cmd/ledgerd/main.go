// Package main is the entry point for the ledger server. It migrates the
// store, then serves the read-only API and delivers payment webhooks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/ledger-api/internal/config"
	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
	"github.com/jmylchreest/ledger-api/internal/database/migrations/core"
	"github.com/jmylchreest/ledger-api/internal/http/handlers"
	"github.com/jmylchreest/ledger-api/internal/http/routes"
	"github.com/jmylchreest/ledger-api/internal/ledger"
	"github.com/jmylchreest/ledger-api/internal/logging"
	"github.com/jmylchreest/ledger-api/internal/service"
	"github.com/jmylchreest/ledger-api/internal/shutdown"
	"github.com/jmylchreest/ledger-api/internal/version"
	"github.com/jmylchreest/ledger-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting ledgerd",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledgerd failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ledgerd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := database.Open(cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = store.Close() }()

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner, err := core.NewRunner(store, nil,
		migrations.WithLogger(logger),
		migrations.WithMetrics(migrations.NewMetrics("ledger", metricsRegistry)),
	)
	if err != nil {
		return err
	}

	// Nothing else touches the store until every database is current.
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	versions, err := migrations.Versions(ctx, store)
	if err != nil {
		logger.Warn("failed to read schema versions", "error", err)
	} else {
		logger.Info("database schema ready", "driver", cfg.DatabaseDriver, "versions", versions)
	}

	if cfg.MigrateOnly {
		logger.Info("MIGRATE_ONLY set, exiting")
		return nil
	}

	repo := ledger.NewRepository(store)

	webhooks, err := service.NewWebhookService(service.WebhookConfig{
		SigningKey: cfg.WebhookSigningKey,
		Timeout:    cfg.WebhookTimeout,
		Retries:    cfg.WebhookRetries,
	}, logger)
	if err != nil {
		return err
	}

	webhookWorker := worker.New(repo, webhooks, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		BatchSize:    cfg.WorkerBatchSize,
	}, logger)

	router := routes.NewRouter(routes.RouterConfig{
		BaseURL:            cfg.BaseURL,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            metricsRegistry,
		Logger:             logger,
	}, handlers.New(repo, runner, store, logger))

	idle := shutdown.NewIdleMonitor(shutdown.IdleConfig{
		Timeout:      cfg.IdleTimeout,
		ExcludePaths: []string{"/healthz", "/metrics"},
		Busy:         webhookWorker.Busy,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      idle.Middleware(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		go idle.Run(gctx)
		select {
		case <-idle.Done():
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		webhookWorker.Start(gctx)
		<-gctx.Done()
		webhookWorker.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
