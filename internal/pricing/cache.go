package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "pricing:version"
	bumpChannel     = "pricing.bump"
)

// Cache stores best discount lookups in Redis under a global version.
// Bumping the version invalidates every cached offer at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// ErrCacheUnavailable marks Redis failures, as opposed to loader failures.
var ErrCacheUnavailable = errors.New("pricing: cache unavailable")

// cachedOffer keeps negative results so that "no discount" is not re-queried.
type cachedOffer struct {
	Found bool   `json:"found"`
	Offer *Offer `json:"offer,omitempty"`
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// Fetch returns the cached offer for q or populates it using the loader.
func (c *Cache) Fetch(ctx context.Context, q Query, loader func(context.Context) (*Offer, error)) (*Offer, error) {
	if loader == nil {
		return nil, errors.New("pricing: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrCacheUnavailable, err)
	}
	key := q.key() + ":" + strconv.FormatInt(ver, 10)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var entry cachedOffer
		if err := json.Unmarshal(payload, &entry); err == nil {
			if !entry.Found {
				return nil, nil
			}
			return entry.Offer, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: get: %v", ErrCacheUnavailable, err)
	}

	offer, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cachedOffer{Found: offer != nil, Offer: offer})
	if err != nil {
		return nil, err
	}
	// A failed write only costs a future miss.
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	return offer, nil
}

// Bump invalidates the cache by incrementing the version and publishing it.
func (c *Cache) Bump(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}
