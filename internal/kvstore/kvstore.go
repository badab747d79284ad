// Package kvstore provides durable string key/value storage scoped per
// client context.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the storage surface the bootstrap components need.
type Store interface {
	// GetItem returns the value under key and whether it was present.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// KeyPrefix is the namespace of every key written by this service.
const KeyPrefix = "menuboard:"

// ContextPrefix returns the key prefix owned by a client context.
func ContextPrefix(contextID string) string {
	return KeyPrefix + "ctx:" + contextID + ":"
}

// Redis is a Redis-backed key/value store.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at url. Every write refreshes the
// key's expiry to ttl; a non-positive ttl disables expiry.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return NewRedisWithClient(redis.NewClient(opts), ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{client: client, ttl: ttl}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Scope returns a Store whose keys are prefixed with prefix.
func (r *Redis) Scope(prefix string) Store {
	return &scoped{r: r, prefix: prefix}
}

func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

type scoped struct {
	r      *Redis
	prefix string
}

func (s *scoped) GetItem(ctx context.Context, key string) (string, bool, error) {
	return s.r.GetItem(ctx, s.prefix+key)
}

func (s *scoped) SetItem(ctx context.Context, key, value string) error {
	return s.r.SetItem(ctx, s.prefix+key, value)
}

func (s *scoped) RemoveItem(ctx context.Context, key string) error {
	return s.r.RemoveItem(ctx, s.prefix+key)
}
