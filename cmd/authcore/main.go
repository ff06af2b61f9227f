package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-edu/authcore/internal/app"
	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/clone"
	"github.com/meridian-edu/authcore/internal/grants"
	"github.com/meridian-edu/authcore/internal/observability"
	"github.com/meridian-edu/authcore/internal/platform/cache"
	"github.com/meridian-edu/authcore/internal/platform/db"
	"github.com/meridian-edu/authcore/internal/reconcile"
	"github.com/meridian-edu/authcore/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, resolution cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	runner := db.PoolRunner{Pool: pool}
	metrics := observability.NewMetrics()

	authzRepo := authz.NewRepository(pool)
	authzCache := authz.NewCache(redisClient, cfg.CacheTTL)
	authzService := authz.NewService(authzRepo, authzCache, logger)
	guard := authz.Middleware{Service: authzService, Logger: logger}
	authzHandler := authz.NewHandler(logger, authzService)

	recorder := audit.NewRecorder()
	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, guard)

	grantsRepo := grants.NewRepository(pool)
	grantsService := grants.NewService(runner, grantsRepo, recorder, authzCache, authzService, logger)
	grantsHandler := grants.NewHandler(logger, grantsService, guard)

	cloneRepo := clone.NewRepository(pool)
	cloneService := clone.NewService(cloneRepo, authzService, cfg.ProtectedRoleList(), logger)
	cloneHandler := clone.NewHandler(logger, cloneService, guard)

	providers := reconcile.NewRegistry(reconcile.NewSQLProvider(pool))
	reconcileRepo := reconcile.NewRepository(pool)
	reconcileService := reconcile.NewService(runner, reconcileRepo, providers, recorder, authzCache, cfg.ProviderTimeout, logger)
	reconcileHandler := reconcile.NewHandler(logger, reconcileService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthzHandler:     authzHandler,
		GrantsHandler:    grantsHandler,
		CloneHandler:     cloneHandler,
		AuditHandler:     auditHandler,
		ReconcileHandler: reconcileHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
