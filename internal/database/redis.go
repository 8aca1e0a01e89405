package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hostedid/devicereset/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the Redis client shared by the reset store, the rate limiter
// and the audit stream
type Redis struct {
	*redis.Client
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Redis{Client: client}, nil
}

// WrapRedis wraps an existing client, used by tests against miniredis
func WrapRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

// HealthCheck verifies the Redis connection is healthy
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}

// IncrWindow counts one hit on a fixed-window counter. The window starts with
// the first hit; the returned duration is what is left of it.
func (r *Redis) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// first hit, or a counter that lost its expiry
		if err := r.Client.Expire(ctx, key, window).Err(); err != nil {
			return incr.Val(), window, err
		}
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// Publish publishes a message to a channel
func (r *Redis) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.Client.Publish(ctx, channel, message).Err()
}
