// Package storage holds the daemon's small redis-backed cache, used for
// invite resend rate limiting. The wallet core itself persists nothing.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guardvault/guardvault/config"
	"github.com/guardvault/guardvault/contexthelper"
)

// RedisStorage wraps the redis client behind the few operations the API
// needs.
type RedisStorage struct {
	cfg    config.Config
	client *redis.Client
}

// NewRedisStorage connects and pings the configured redis instance.
func NewRedisStorage(cfg config.Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if status := client.Ping(context.Background()); status.Err() != nil {
		return nil, fmt.Errorf("fail to connect to redis: %w", status.Err())
	}
	return &RedisStorage{cfg: cfg, client: client}, nil
}

// Set stores a value with an expiry.
func (r *RedisStorage) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Set(ctx, key, value, expiry).Err()
}

// Get returns a stored value, or "" with no error when the key is absent.
func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	if contexthelper.CheckCancellation(ctx) != nil {
		return "", ctx.Err()
	}
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fail to get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes a key.
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if contexthelper.CheckCancellation(ctx) != nil {
		return ctx.Err()
	}
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
