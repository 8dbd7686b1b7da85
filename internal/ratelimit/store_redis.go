package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. The counter key embeds the window
// start, so INCR against it is the atomic upsert-and-increment: the first
// caller in a window creates the key at 1, later callers increment it.
// Expiry at two window durations doubles as garbage collection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed rate limit store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// redisKey builds the per-window counter key.
func redisKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, windowStart.UnixMilli())
}

// Increment atomically increments the window counter and refreshes its
// expiry in one pipeline round trip.
func (s *RedisStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := redisKey(key, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val(), nil
}
