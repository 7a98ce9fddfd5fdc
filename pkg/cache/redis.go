package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Store and Counter shared across instances through Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client
func NewRedisStore(client *redis.Client, config Config) *RedisStore {
	prefix := config.Prefix
	if prefix == "" {
		prefix = DefaultConfig().Prefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get returns the value for key if present
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}

	val, err := r.client.Get(ctx, prefixed(r.prefix, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores value under key for ttl. A zero ttl means no expiry.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := r.client.Set(ctx, prefixed(r.prefix, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Evict removes key
func (r *RedisStore) Evict(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := r.client.Del(ctx, prefixed(r.prefix, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Incr implements Counter. The expiry is only set when the key has none, so
// later increments do not extend the window.
func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, ErrInvalidKey
	}

	redisKey := prefixed(r.prefix, "rl:"+key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis incr: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// -1 means no expiry yet: this increment opened the window
		if err := r.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return incr.Val(), window, fmt.Errorf("redis expire: %w", err)
		}
		remaining = window
	}

	return incr.Val(), remaining, nil
}

// Ping checks connectivity
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
