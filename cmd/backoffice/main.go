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

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/catalog"
	composerhttp "github.com/odyssey-erp/backoffice/internal/composer/http"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/orders"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
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
	slog.SetDefault(logger)

	if app.DryRun() {
		logger.Info("dry run, configuration ok", slog.String("addr", cfg.AppAddr))
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
		// Discount lookups fall back to the database without a cache.
		logger.Warn("redis unavailable, discount cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	var discountCache *pricing.Cache
	if redisClient != nil {
		discountCache = pricing.NewCache(redisClient, cfg.PricingCacheTTL)
	}
	resolver := pricing.NewResolver(pricing.NewRepository(pool), discountCache, logger, nil, metrics)

	var publisher orders.Publisher
	if cfg.KafkaEnabled() {
		kafkaPublisher := orders.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}
	orderService := orders.NewService(orders.NewRepository(pool), publisher, logger)

	sessions := composerhttp.NewSessionStore(cfg.SessionTTL, metrics, logger)
	go sessions.Run(ctx, time.Minute)

	composerHandler := composerhttp.NewHandler(composerhttp.Config{
		Logger:          logger,
		Catalog:         catalog.NewRepository(pool),
		Orders:          orderService,
		Store:           orderService,
		Resolver:        resolver,
		Idempotency:     shared.NewIdempotencyStore(pool),
		Capabilities:    cfg.CapabilitySet(),
		Search:          cfg.SearchOptions(),
		Sessions:        sessions,
		Metrics:         metrics,
		Currency:        cfg.Currency,
		Locale:          cfg.LocaleTag(),
		SearchRateLimit: cfg.SearchRateLimit,
	})

	var inspector *asynq.Inspector
	if redisClient != nil {
		inspector = asynq.NewInspector(cfg.RedisOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("asynq inspector close", slog.Any("error", err))
			}
		}()
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pool:            pool,
		Redis:           redisClient,
		ComposerHandler: composerHandler,
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
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
