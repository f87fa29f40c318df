package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shelfline-wms/shelfline/internal/app"
	"github.com/shelfline-wms/shelfline/internal/inventory"
	"github.com/shelfline-wms/shelfline/internal/platform/db"
	"github.com/shelfline-wms/shelfline/internal/reconcile"
	"github.com/shelfline-wms/shelfline/internal/shared"
	"github.com/shelfline-wms/shelfline/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	runRepo := reconcile.NewRepository(pool)
	orchestrator := reconcile.NewOrchestrator(runRepo, inventoryService, idempotencyStore, cfg.ImportBatchSize, logger)
	importJob := jobs.NewScheduledImporter(orchestrator, reconcile.NewCoordinator(), logger)

	var cron []jobs.CronRegistration
	if cfg.ImportSourceURL != "" {
		importTask, err := jobs.NewScheduledImportTask(cfg.ImportSourceURL, time.Now().UTC())
		if err != nil {
			logger.Error("build import task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.ImportCron,
			Task:    importTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	} else {
		logger.Info("no import feed configured, scheduled import disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeScheduledImport, Handler: importJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
