package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore implements usecase.IdempotencyStore. A claimed key
// holds an empty string until Complete stores the response.
type IdempotencyStore struct {
	client redis.UniversalClient
	keys   keyspace
}

// NewIdempotencyStore creates a store under "<namespace>:idempotency:".
func NewIdempotencyStore(client redis.UniversalClient, namespace string) *IdempotencyStore {
	return &IdempotencyStore{client: client, keys: newKeyspace(namespace, "idempotency")}
}

// Reserve claims key with SET NX. A losing caller gets the stored
// response, or nil while the winner is still running.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, []byte, error) {
	k := s.keys.key(key)

	claimed, err := s.client.SetNX(ctx, k, "", ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("reserve %s: %w", key, err)
	}
	if claimed {
		return true, nil, nil
	}

	stored, err := s.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// The claim expired between the two calls; the client retries.
		return false, nil, nil
	case err != nil:
		return false, nil, fmt.Errorf("read %s: %w", key, err)
	case len(stored) == 0:
		return false, nil, nil
	}
	return false, stored, nil
}

// Complete stores the final response, replacing the claim.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if len(response) == 0 {
		return fmt.Errorf("complete %s: empty response", key)
	}
	if err := s.client.Set(ctx, s.keys.key(key), response, ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release drops a claim so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keys.key(key)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
