// Package cache is a small string cache over Redis. A nil *redis.Client gives
// a no-op cache so callers never branch on whether Redis is configured.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"netops/metrics"
	"netops/utils"
)

const keyPrefix = "netops:"

// Store caches string values by namespace and key
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration)
	Delete(ctx context.Context, namespace, key string)
}

// RedisStore implements Store on go-redis
type RedisStore struct {
	rdb *redis.Client
}

// New returns a Redis-backed Store, or a no-op Store when rdb is nil
func New(rdb *redis.Client) Store {
	if rdb == nil {
		return NopStore{}
	}
	return &RedisStore{rdb: rdb}
}

func redisKey(namespace, key string) string {
	return keyPrefix + namespace + ":" + key
}

// Get returns the cached value. Redis errors are logged and reported as a miss.
func (s *RedisStore) Get(ctx context.Context, namespace, key string) (string, bool) {
	val, err := s.rdb.Get(ctx, redisKey(namespace, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.IncrementCacheOperation(namespace, "miss")
		} else {
			metrics.IncrementCacheOperation(namespace, "error")
			utils.LogWarn("cache get", err, "namespace", namespace)
		}
		return "", false
	}
	metrics.IncrementCacheOperation(namespace, "hit")
	return val, true
}

// Set stores value with ttl. Failures are logged, never returned.
func (s *RedisStore) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) {
	if err := s.rdb.Set(ctx, redisKey(namespace, key), value, ttl).Err(); err != nil {
		metrics.IncrementCacheOperation(namespace, "error")
		utils.LogWarn("cache set", err, "namespace", namespace)
	}
}

// Delete evicts a key
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) {
	if err := s.rdb.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		utils.LogWarn("cache delete", err, "namespace", namespace)
	}
}

// NopStore never stores anything
type NopStore struct{}

func (NopStore) Get(context.Context, string, string) (string, bool)         { return "", false }
func (NopStore) Set(context.Context, string, string, string, time.Duration) {}
func (NopStore) Delete(context.Context, string, string)                     {}
