package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the seen set with Redis so replay protection holds across
// gateway replicas and restarts. SetNX gives the check-and-mark atomically.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the Redis instance at addr.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

// MarkIfNew records the payment id with the given TTL and returns true if
// it was not already present.
func (s *RedisStore) MarkIfNew(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, "q402:seen:"+paymentID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis seen store error: %w", err)
	}
	return ok, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
