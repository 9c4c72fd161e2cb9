package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PriceCache implements ports.PriceCache using a single Redis key with TTL.
// The key's own expiry is the cache expiry, so a hit is always fresh enough
// for quoting.
type PriceCache struct {
	client *goredis.Client
	key    string
}

// NewPriceCache creates a new Redis-backed price cache.
func NewPriceCache(client *goredis.Client) *PriceCache {
	return &PriceCache{
		client: client,
		key:    "price:token_usd",
	}
}

// Get returns the cached USD price. The second return is false when no
// fresh snapshot exists.
func (c *PriceCache) Get(ctx context.Context) (float64, bool, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if err != nil {
		if err == goredis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis price get: %w", err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached price %q: %w", val, err)
	}
	return price, true, nil
}

// Set stores a USD price snapshot with the given TTL.
func (c *PriceCache) Set(ctx context.Context, priceUSD float64, ttl time.Duration) error {
	val := strconv.FormatFloat(priceUSD, 'f', -1, 64)
	if err := c.client.Set(ctx, c.key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis price set: %w", err)
	}
	return nil
}
