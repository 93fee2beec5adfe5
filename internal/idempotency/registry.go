// Package idempotency remembers which record a caller-supplied key produced, so a
// retried create returns the original id instead of inserting a duplicate row.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paypersist/internal/constants"
)

type Registry interface {
	// Lookup returns the record id stored for key, if any.
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Remember stores id under key unless the key is already taken.
	Remember(ctx context.Context, key, id string) error
}

type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = time.Duration(constants.DefaultTTLSeconds) * time.Second
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := r.client.Get(ctx, constants.CacheKeyPrefixIdempotency+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET failed: %w", err)
	}
	return id, true, nil
}

func (r *RedisRegistry) Remember(ctx context.Context, key, id string) error {
	if _, err := r.client.SetNX(ctx, constants.CacheKeyPrefixIdempotency+key, id, r.ttl).Result(); err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	return nil
}

// NopRegistry never remembers anything; creates are then not retry-safe.
type NopRegistry struct{}

func (NopRegistry) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }

func (NopRegistry) Remember(context.Context, string, string) error { return nil }
