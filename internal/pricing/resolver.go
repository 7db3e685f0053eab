package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Source is the external best discount service.
type Source interface {
	BestDiscount(ctx context.Context, q Query) (*Offer, error)
}

// DefaultLookupTimeout bounds a shared discount fetch.
const DefaultLookupTimeout = 10 * time.Second

// LookupRecorder receives lookup outcomes for metrics.
type LookupRecorder interface {
	ObserveDiscountLookup(outcome string)
}

// Resolver looks up the best discount for a product and counterparty.
// Failures degrade to "no discount": they are logged and reported as a
// notice, never returned to the caller, and never retried.
type Resolver struct {
	source   Source
	cache    *Cache
	logger   *slog.Logger
	notifier shared.Notifier
	recorder LookupRecorder
	timeout  time.Duration
	group    singleflight.Group
}

// NewResolver constructs a Resolver. cache, notifier and recorder may be nil.
func NewResolver(source Source, cache *Cache, logger *slog.Logger, notifier shared.Notifier, recorder LookupRecorder) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, logger: logger, notifier: notifier, recorder: recorder, timeout: DefaultLookupTimeout}
}

// WithNotifier returns a shallow copy reporting failures to notifier.
// The copy shares cache and source but not in-flight deduplication.
func (r *Resolver) WithNotifier(notifier shared.Notifier) *Resolver {
	return &Resolver{source: r.source, cache: r.cache, logger: r.logger, notifier: notifier, recorder: r.recorder, timeout: r.timeout}
}

// Resolve returns the best offer for q. ok is false when there is none
// or when the lookup failed.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Offer, bool) {
	offer, err := r.lookup(ctx, q)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Offer{}, false
		}
		r.observe(OutcomeFailure)
		r.logger.Warn("best discount lookup failed",
			slog.Int64("product_id", q.ProductID),
			slog.String("counterparty_kind", q.CounterpartyKind),
			slog.Int64("counterparty_id", q.CounterpartyID),
			slog.Any("error", err))
		if r.notifier != nil {
			r.notifier.Notify(ctx, shared.Notice{
				Level:   shared.NoticeWarning,
				Message: fmt.Sprintf("Could not load the discount for product %d; no discount applied.", q.ProductID),
			})
		}
		return Offer{}, false
	}
	if offer == nil {
		r.observe(OutcomeNone)
		return Offer{}, false
	}
	r.observe(OutcomeFound)
	return *offer, true
}

func (r *Resolver) lookup(ctx context.Context, q Query) (*Offer, error) {
	if r == nil || r.source == nil {
		return nil, errors.New("pricing: no discount source configured")
	}
	timeout := r.timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	// Shared by every caller of the key; a cancelled caller only stops waiting.
	resultChan := r.group.DoChan(q.key(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return r.fetch(fetchCtx, q)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		offer, _ := res.Val.(*Offer)
		return offer, nil
	}
}

func (r *Resolver) fetch(ctx context.Context, q Query) (*Offer, error) {
	if r.cache == nil {
		return r.source.BestDiscount(ctx, q)
	}
	offer, err := r.cache.Fetch(ctx, q, func(ctx context.Context) (*Offer, error) {
		return r.source.BestDiscount(ctx, q)
	})
	if errors.Is(err, ErrCacheUnavailable) {
		r.logger.Warn("pricing cache bypassed", slog.Any("error", err))
		return r.source.BestDiscount(ctx, q)
	}
	return offer, err
}

func (r *Resolver) observe(outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveDiscountLookup(outcome)
	}
}
