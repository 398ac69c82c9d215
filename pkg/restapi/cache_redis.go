package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

const redisScanCount = 100

// RedisCacheConfig configures the Redis backend.
type RedisCacheConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db"       yaml:"db"`
	// KeyPrefix is prepended with a colon separator and defaults to
	// "restclient". Clear only removes keys under this prefix.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RedisCache stores JSON-encoded entries in Redis, using each entry's
// ExpiresAt as the key TTL.
type RedisCache struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// NewRedisCache creates a Redis backend from config.
func NewRedisCache(config *RedisCacheConfig) *RedisCache {
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return NewRedisCacheFromClient(client, config.KeyPrefix)
}

// NewRedisCacheFromClient wraps an existing client. An empty keyPrefix
// falls back to the default prefix.
func NewRedisCacheFromClient(client goredis.UniversalClient, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = constants.DefaultRedisKeyPrefix
	}

	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) fullKey(key string) string {
	return c.keyPrefix + ":" + key
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	raw, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}

		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry CacheEntry

	err = json.Unmarshal(raw, &entry)
	if err != nil {
		return nil, fmt.Errorf("redis unmarshal %q: %w", key, err)
	}

	return &entry, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis marshal %q: %w", key, err)
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return c.Delete(ctx, key)
		}
	}

	err = c.client.Set(ctx, c.fullKey(key), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}

	return nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.client.Del(ctx, c.fullKey(key)).Err()
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}

	return nil
}

// Clear implements Cache.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.fullKey("*"), redisScanCount).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			return fmt.Errorf("redis delete %q: %w", iter.Val(), err)
		}
	}

	err := iter.Err()
	if err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	return nil
}

// Has implements Cache.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.fullKey(key)).Result()

	return err == nil && n > 0
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
