package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campus-erp/campus/internal/app"
	"github.com/campus-erp/campus/internal/attendance"
	"github.com/campus-erp/campus/internal/observability"
	"github.com/campus-erp/campus/internal/platform/cache"
	"github.com/campus-erp/campus/internal/platform/db"
	"github.com/campus-erp/campus/internal/rbac"
	"github.com/campus-erp/campus/internal/shared"
	"github.com/campus-erp/campus/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.DBConfig())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	attendanceService := attendance.NewService(
		attendance.NewRepository(pool),
		idempotencyStore,
		nil,
		metrics,
		logger,
		attendance.ServiceConfig{
			MaxDistanceMeters: cfg.CheckInMaxDistanceMeters,
			EarlyOpen:         cfg.CheckInEarlyOpen,
			Grace:             cfg.CheckInGrace,
		},
	)
	rbacService := rbac.NewService(rbac.NewRepository(pool), rbac.NewCache(redisClient, cfg.PermissionsCacheTTL), logger)

	summaryJob := jobs.NewAttendanceSummaryJob(attendanceService, logger, metrics.Jobs())
	cacheBumpJob := &jobs.RBACCacheBumpJob{Cache: rbacService, Logger: logger, Metrics: metrics.Jobs()}
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Cleaner:   idempotencyStore,
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   metrics.Jobs(),
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().AsynqOpts(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAttendanceSummary, Handler: summaryJob.Handle},
			{Type: jobs.TaskRBACCacheBump, Handler: cacheBumpJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: jobs.DefaultCron(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
