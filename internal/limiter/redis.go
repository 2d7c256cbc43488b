package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements fixed-window counting shared across gateway
// instances: one INCR per admission check keeps the window atomic without
// cross-instance coordination.
type RedisStore struct {
	client   *redis.Client
	capacity int
	window   time.Duration
}

// NewRedisStore creates a Redis-backed store admitting capacity calls per
// window across all instances.
func NewRedisStore(client *redis.Client, capacity int, window time.Duration) *RedisStore {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RedisStore{
		client:   client,
		capacity: capacity,
		window:   window,
	}
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixNano()/int64(s.window))

	pipe := s.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit INCR failed: %w", err)
	}

	if count.Val() > int64(s.capacity) {
		ttl, err := s.client.TTL(ctx, windowKey).Result()
		if err != nil || ttl < 0 {
			ttl = s.window
		}
		return false, ttl, nil
	}

	return true, 0, nil
}
