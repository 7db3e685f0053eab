package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/app"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
)

func main() {
	enqueue := flag.String("enqueue", "", "enqueue a single task ("+jobs.TaskPricingCacheBump+" or "+jobs.TaskIdempotencyCleanup+") and exit")
	reason := flag.String("reason", "manual", "reason recorded with "+jobs.TaskPricingCacheBump)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if app.DryRun() {
		logger.Info("dry run, configuration ok", slog.String("refresh_cron", cfg.PricingRefreshCron))
		return
	}

	if *enqueue != "" {
		if err := enqueueOnce(ctx, cfg, *enqueue, *reason); err != nil {
			logger.Error("enqueue", slog.String("task", *enqueue), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("task enqueued", slog.String("task", *enqueue))
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	bumpJob := jobs.NewPricingCacheBumpJob(pricing.NewCache(redisClient, cfg.PricingCacheTTL), logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	bumpTask, err := jobs.NewPricingCacheBumpTask("scheduled refresh")
	if err != nil {
		logger.Error("build bump task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.RedisOpts(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPricingCacheBump, Handler: bumpJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PricingRefreshCron, Task: bumpTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func enqueueOnce(ctx context.Context, cfg *app.Config, task, reason string) error {
	client, err := jobs.NewClient(cfg.RedisOpts())
	if err != nil {
		return err
	}
	defer client.Close()

	switch task {
	case jobs.TaskPricingCacheBump:
		_, err = client.EnqueuePricingCacheBump(ctx, reason)
	case jobs.TaskIdempotencyCleanup:
		_, err = client.EnqueueIdempotencyCleanup(ctx, cfg.IdempotencyRetention)
	default:
		err = errors.New("unknown task " + task)
	}
	return err
}
