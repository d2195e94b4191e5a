// Package health provides dependency probes for the readiness endpoint.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker probes the Redis instance backing rate-limit counters.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING within the probe timeout.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
