package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailpilot/mailpilot/internal/config"
)

// Redis carries the status channel, the login lockout counter and the rate
// limit windows. None of these is required for sending.
type Redis struct {
	*redis.Client
}

// NewRedis connects and pings. Callers treat an error as "run without Redis".
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr(), err)
	}

	return &Redis{Client: client}, nil
}

// HealthCheck pings the server
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}

// PublishRetained stores payload under key for ttl and publishes it on
// channel in one MULTI/EXEC, so a late subscriber reading key never sees an
// older payload than the last one published.
func (r *Redis) PublishRetained(ctx context.Context, channel, key, payload string, ttl time.Duration) error {
	_, err := r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, ttl)
		pipe.Publish(ctx, channel, payload)
		return nil
	})
	return err
}

// GetString retrieves a string value. A missing key yields redis.Nil.
func (r *Redis) GetString(ctx context.Context, key string) (string, error) {
	return r.Get(ctx, key).Result()
}

// CountWithin increments key and starts its expiry window on the first hit
func (r *Redis) CountWithin(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := r.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Delete removes keys
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	return r.Del(ctx, keys...).Err()
}
