package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-edu/authcore/internal/app"
	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	jobmetrics "github.com/meridian-edu/authcore/internal/jobs"
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
	authzCache := authz.NewCache(redisClient, cfg.CacheTTL)
	recorder := audit.NewRecorder()

	providers := reconcile.NewRegistry(reconcile.NewSQLProvider(pool))
	reconcileRepo := reconcile.NewRepository(pool)
	reconcileService := reconcile.NewService(runner, reconcileRepo, providers, recorder, authzCache, cfg.ProviderTimeout, logger)

	metrics := jobmetrics.NewMetrics(nil)
	reconcileHandler := jobs.NewReconcileViewsHandler(reconcileService, metrics, logger)

	sweepTask, err := jobs.NewReconcileViewsTask(jobs.ReconcileViewsPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileViews, Handler: reconcileHandler},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("cron", cfg.ReconcileCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
