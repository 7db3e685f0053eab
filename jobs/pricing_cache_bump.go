package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Bumper invalidates cached discount offers.
type Bumper interface {
	Bump(ctx context.Context) (int64, error)
}

// PricingCacheBumpJob bumps the discount cache version so open sessions
// stop reusing offers that predate a price list change.
type PricingCacheBumpJob struct {
	Cache   Bumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPricingCacheBumpJob wires dependencies for the bump handler.
func NewPricingCacheBumpJob(cache Bumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *PricingCacheBumpJob {
	return &PricingCacheBumpJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPricingCacheBump tasks.
func (j *PricingCacheBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("pricing cache bump: handler not configured")
	}
	var payload PricingCacheBumpPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskPricingCacheBump)
	logger := j.logger().With(slog.String("reason", payload.Reason))

	version, err := j.Cache.Bump(ctx)
	if err != nil {
		logger.Error("bump pricing cache", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().SetPricingCacheVersion(version)
	logger.Info("pricing cache bumped", slog.Int64("version", version))
	return tracker.End(nil)
}

func (j *PricingCacheBumpJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *PricingCacheBumpJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
