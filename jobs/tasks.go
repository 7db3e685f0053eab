package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPricingCacheBump invalidates every cached discount offer.
	TaskPricingCacheBump = "pricing:cache:bump"
	// TaskIdempotencyCleanup purges old submit idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// PricingCacheBumpPayload records why the cache was bumped.
type PricingCacheBumpPayload struct {
	Reason string `json:"reason"`
}

// NewPricingCacheBumpTask constructs the bump task.
func NewPricingCacheBumpTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(PricingCacheBumpPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPricingCacheBump, data), nil
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention converts the payload to a duration, defaulting to one week.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
