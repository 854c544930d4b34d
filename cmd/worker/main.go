package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/pidsync/internal/bootstrap"
	"github.com/kirillkom/pidsync/internal/config"
	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/observability/logging"
	"github.com/kirillkom/pidsync/internal/observability/metrics"
)

const serviceName = "pidsync-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, serviceName, workerMetrics.Registerer())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if scheduler := startHarvest(ctx, app, workerMetrics); scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "concurrency", cfg.WorkerConcurrency)
	err = app.Queue.SubscribeSyncTasks(ctx, func(handlerCtx context.Context, task domain.SyncTask) error {
		workerMetrics.ObserveQueueLag(serviceName, time.Since(task.NotBefore))
		workerMetrics.StartRun()
		start := time.Now()

		runCtx, cancel := context.WithTimeout(handlerCtx, cfg.SyncTaskTimeout)
		defer cancel()
		report, err := app.Pipeline.Run(runCtx, task.PublicationID)
		workerMetrics.FinishRun(serviceName, time.Since(start), report)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}
}

// startHarvest registers the periodic catalogue import when a schedule and
// an owner are configured.
func startHarvest(ctx context.Context, app *bootstrap.App, workerMetrics *metrics.WorkerMetrics) *cron.Cron {
	cfg := app.Config
	if cfg.HarvestCron == "" {
		return nil
	}
	if cfg.HarvestOwnerID <= 0 {
		slog.Warn("harvest_disabled", "reason", "HARVEST_OWNER_ID is not set")
		return nil
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := scheduler.AddFunc(cfg.HarvestCron, func() {
		result, err := app.Importer.Harvest(ctx, cfg.HarvestPageSize, cfg.HarvestOwnerID)
		workerMetrics.RecordHarvest(serviceName, err)
		if err != nil {
			slog.Error("harvest_failed", "error", err)
			return
		}
		slog.Info("harvest_finished",
			"created", result.Created,
			"updated", result.Updated,
			"skipped", result.Skipped,
			"errors", result.Errors,
		)
	})
	if err != nil {
		slog.Error("harvest_schedule_invalid", "spec", cfg.HarvestCron, "error", err)
		return nil
	}
	scheduler.Start()
	slog.Info("harvest_scheduled", "spec", cfg.HarvestCron, "owner_id", cfg.HarvestOwnerID)
	return scheduler
}
