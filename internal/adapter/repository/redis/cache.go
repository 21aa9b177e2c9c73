package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errNoTTL = errors.New("redis cache: entries need a positive ttl")

// Cache implements usecase.Cache with plain Redis strings. Every entry
// carries a TTL.
type Cache struct {
	client redis.UniversalClient
	keys   keyspace
}

// NewCache creates a Cache under "<namespace>:cache:". An empty namespace
// uses DefaultNamespace.
func NewCache(client redis.UniversalClient, namespace string) *Cache {
	return &Cache{client: client, keys: newKeyspace(namespace, "cache")}
}

// Get returns the value for key and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, c.keys.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errNoTTL
	}
	if err := c.client.Set(ctx, c.keys.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete unlinks keys. Missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Unlink(ctx, c.keys.keys(keys)...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}
