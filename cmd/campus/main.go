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

	"github.com/hibiken/asynq"

	"github.com/campus-erp/campus/internal/app"
	"github.com/campus-erp/campus/internal/attendance"
	"github.com/campus-erp/campus/internal/auth"
	"github.com/campus-erp/campus/internal/grading"
	"github.com/campus-erp/campus/internal/observability"
	"github.com/campus-erp/campus/internal/platform/cache"
	"github.com/campus-erp/campus/internal/platform/db"
	"github.com/campus-erp/campus/internal/rbac"
	"github.com/campus-erp/campus/internal/shared"
	"github.com/campus-erp/campus/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.DBConfig())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, rbac.NewCache(redisClient, cfg.PermissionsCacheTTL), logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger, Recorder: metrics}
	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	gradingService := grading.NewService(grading.NewRepository(dbpool), auditLogger)
	gradingHandler := grading.NewHandler(logger, gradingService, rbacMiddleware)

	jobClient := jobs.NewClient(cfg.RedisOptions().AsynqOpts())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	attendanceService := attendance.NewService(
		attendance.NewRepository(dbpool),
		idempotencyStore,
		jobClient,
		metrics,
		logger,
		attendance.ServiceConfig{
			MaxDistanceMeters: cfg.CheckInMaxDistanceMeters,
			EarlyOpen:         cfg.CheckInEarlyOpen,
			Grace:             cfg.CheckInGrace,
		},
	)
	attendanceHandler := attendance.NewHandler(logger, attendanceService, rbacMiddleware)

	inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		RBACHandler:       rbacHandler,
		GradingHandler:    gradingHandler,
		AttendanceHandler: attendanceHandler,
		JobHandler:        jobHandler,
		RBACMiddleware:    rbacMiddleware,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
