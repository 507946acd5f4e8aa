package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/crowdfund/internal/logging"
)

const cachePrefix = "oracle:price:v1:"

// Cached is a read-through Redis cache in front of another feed. Redis errors
// are logged and fall through to the inner feed.
type Cached struct {
	inner  Feed
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps inner with a Redis cache holding answers for ttl.
func NewCached(inner Feed, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logging.Component(logger, "price_cache")}
}

// Address reports the wrapped feed's address.
func (c *Cached) Address() string {
	return c.inner.Address()
}

// LatestPrice serves the cached answer when present.
func (c *Cached) LatestPrice(ctx context.Context) (Price, error) {
	key := cachePrefix + c.inner.Address()

	raw, err := c.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Price
		if err := json.Unmarshal(raw, &p); err == nil {
			return p, nil
		}
		c.logger.Warn("discarding undecodable cached price", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("price cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}

	p, err := c.inner.LatestPrice(ctx)
	if err != nil {
		return Price{}, err
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("price cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	return p, nil
}
