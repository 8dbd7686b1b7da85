// Package health provides readiness checkers for the service's backing
// stores, surfaced through the /ready endpoint.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker reports whether the Redis instance holding rate-limit
// counters is reachable. With Redis down the limiter falls back to its
// configured fail policy, so readiness should reflect the degradation.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a checker over an existing client.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
