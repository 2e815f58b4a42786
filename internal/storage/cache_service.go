// Package storage provides the query cache backends used by the leaderboard
// client: Redis for sharing between processes, and an in-memory map.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this package writes
const keyPrefix = "leaderboard"

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyUsers is for leaderboard pages
	CacheKeyUsers CacheKeyType = "users"
	// CacheKeyUser is for single user lookups
	CacheKeyUser CacheKeyType = "user"
	// CacheKeyWeekly is for weekly points pages
	CacheKeyWeekly CacheKeyType = "weekly"
)

// GenerateCacheKey builds <prefix>:<type>:<param1>:<param2>:... Parameters
// are kept verbatim since the API matches addresses case-sensitively.
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, keyPrefix, string(keyType))
	parts = append(parts, params...)
	return strings.Join(parts, ":")
}

// CacheService stores JSON values in Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it into dest. A miss
// returns false without an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidateType removes every entry of one key type
func (c *CacheService) InvalidateType(ctx context.Context, keyType CacheKeyType) error {
	keys, err := c.redis.Scan(ctx, GenerateCacheKey(keyType)+":*")
	if err != nil {
		return fmt.Errorf("failed to find keys for %s: %w", keyType, err)
	}
	return c.Invalidate(ctx, keys...)
}
