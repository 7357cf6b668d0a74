package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/api"
	"github.com/taskboard/notify-engine/internal/config"
	"github.com/taskboard/notify-engine/internal/db"
	"github.com/taskboard/notify-engine/internal/metrics"
	"github.com/taskboard/notify-engine/internal/ratelimiter"
	"github.com/taskboard/notify-engine/internal/repository"
	"github.com/taskboard/notify-engine/internal/sender"
	"github.com/taskboard/notify-engine/internal/service"
	"github.com/taskboard/notify-engine/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := repository.NewPgQueueRepository(pool)
	snd := sender.NewWebhookSender(cfg.GatewayURL, cfg.GatewayTimeout)
	limiter := ratelimiter.New(cfg.SendRate)

	onCreated, onMerged := m.IntakeHooks()
	svc := service.NewQueueService(repo, snd, logger, service.IntakeHooks{
		OnCreated: onCreated,
		OnMerged:  onMerged,
	})

	// ---- dispatcher ----
	// Context for the background sweep; cancelled on shutdown signal.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	onSent, onFailed := m.DispatcherHooks()
	dispatcher := worker.NewDispatcher(
		repo, snd, limiter,
		cfg.SweepInterval, cfg.SweepBatchSize,
		cfg.MaxRetries, cfg.RetryBackoff,
		logger, worker.MetricHooks{
			OnSent:   onSent,
			OnFailed: onFailed,
		},
	)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(workerCtx)
	}()

	// ---- HTTP server ----
	router := api.NewRouter(svc, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal the dispatcher to stop sweeping.
	cancelWorker()

	// 3. Wait for the in-flight sweep to finish.
	<-dispatcherDone

	logger.Info("server stopped cleanly")
}
