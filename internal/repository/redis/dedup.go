// Package redis holds Redis-backed stores.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "webhook:event:"

// DedupCache remembers processed provider event ids so redeliveries can be
// skipped without a database round trip. The audit log stays authoritative;
// a miss here always falls through to it.
type DedupCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedupCache creates a cache whose entries expire after ttl.
func NewDedupCache(client *redis.Client, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DedupCache{client: client, ttl: ttl}
}

func (c *DedupCache) Seen(ctx context.Context, providerEventID string) (bool, error) {
	err := c.client.Get(ctx, dedupKeyPrefix+providerEventID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

func (c *DedupCache) Remember(ctx context.Context, providerEventID string) error {
	if err := c.client.Set(ctx, dedupKeyPrefix+providerEventID, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup remember: %w", err)
	}
	return nil
}
