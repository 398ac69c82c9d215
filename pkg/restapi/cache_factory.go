package restapi

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// CacheType names a cache backend in configuration.
type CacheType string

const (
	// CacheTypeMemory keeps entries in a process-local LRU.
	CacheTypeMemory CacheType = "memory"

	// CacheTypeNATS stores entries in a NATS JetStream key/value bucket.
	CacheTypeNATS CacheType = "nats"

	// CacheTypeRedis stores entries in Redis.
	CacheTypeRedis CacheType = "redis"

	// CacheTypeTiered fronts the configured Redis or NATS backend with a
	// memory LRU.
	CacheTypeTiered CacheType = "tiered"

	// CacheTypeNone disables caching.
	CacheTypeNone CacheType = "none"
)

// Static errors for err113 compliance.
var (
	ErrNATSConfigRequired    = errors.New("NATS configuration required for NATS cache")
	ErrRedisConfigRequired   = errors.New("redis configuration required for redis cache")
	ErrTieredBackendRequired = errors.New("tiered cache requires a redis or NATS backend")
	ErrUnsupportedCacheType  = errors.New("unsupported cache type")
	ErrCacheDisabled         = errors.New("cache disabled")
)

// CacheConfig selects and configures a cache backend. It is loaded from the
// CLI profile file, so every field carries mapstructure and yaml tags.
type CacheConfig struct {
	Type CacheType `mapstructure:"type" yaml:"type"`

	// Memory sizes the LRU of the memory and tiered types.
	Memory *MemoryCacheConfig `mapstructure:"memory" yaml:"memory,omitempty"`

	NATS  *NATSKVConfig     `mapstructure:"nats" yaml:"nats,omitempty"`
	Redis *RedisCacheConfig `mapstructure:"redis" yaml:"redis,omitempty"`

	// Options apply whatever the backend. Nil means DefaultCacheOptions.
	Options *CacheOptions `mapstructure:"options" yaml:"options,omitempty"`
}

// MemoryCacheConfig configures the memory LRU.
type MemoryCacheConfig struct {
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// DefaultCacheConfig is a memory cache of constants.DefaultCacheSize entries
// with conditional requests enabled.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Type:    CacheTypeMemory,
		Memory:  &MemoryCacheConfig{MaxSize: constants.DefaultCacheSize},
		Options: DefaultCacheOptions(),
	}
}

// NewCacheFromConfig builds the key/value backend named by config.Type. A
// nil config or an empty type yields the default memory cache.
func NewCacheFromConfig(config *CacheConfig) (Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	switch config.Type {
	case CacheTypeMemory, "":
		return NewMemoryCacheFromConfig(config.Memory), nil
	case CacheTypeNATS, CacheTypeRedis:
		return remoteCache(config.Type, config)
	case CacheTypeTiered:
		remote, err := remoteCache(tieredRemote(config), config)
		if err != nil {
			return nil, err
		}

		return NewCacheChain(NewMemoryCacheFromConfig(config.Memory), remote), nil
	case CacheTypeNone:
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCacheType, config.Type)
	}
}

func tieredRemote(config *CacheConfig) CacheType {
	switch {
	case config.Redis != nil:
		return CacheTypeRedis
	case config.NATS != nil:
		return CacheTypeNATS
	default:
		return CacheTypeTiered
	}
}

func remoteCache(kind CacheType, config *CacheConfig) (Cache, error) {
	switch kind {
	case CacheTypeRedis:
		if config.Redis == nil {
			return nil, ErrRedisConfigRequired
		}

		return NewRedisCache(config.Redis), nil
	case CacheTypeNATS:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		cache, err := NewNATSKVCache(config.NATS)
		if err != nil {
			return nil, err
		}

		return cache, nil
	default:
		return nil, ErrTieredBackendRequired
	}
}

// NewResponseCacheFromConfig builds the backend described by config and
// wraps it with NewResponseCache. CacheTypeNone yields NoCache().
func NewResponseCacheFromConfig(config *CacheConfig) (ResponseCache, error) {
	if config != nil && config.Type == CacheTypeNone {
		return NoCache(), nil
	}

	store, err := NewCacheFromConfig(config)
	if err != nil {
		return nil, err
	}

	var options *CacheOptions
	if config != nil {
		options = config.Options
	}

	return NewResponseCache(store, options), nil
}

// NewMemoryCacheFromConfig sizes a memory cache, falling back to
// constants.DefaultCacheSize.
func NewMemoryCacheFromConfig(config *MemoryCacheConfig) *MemoryCache {
	if config == nil {
		return NewMemoryCache(constants.DefaultCacheSize)
	}

	return NewMemoryCache(config.MaxSize)
}

// NoOpCache stores nothing. Every lookup misses with ErrCacheDisabled.
type NoOpCache struct{}

// NewNoOpCache returns a NoOpCache.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Get implements Cache.
func (c *NoOpCache) Get(context.Context, string) (*CacheEntry, error) {
	return nil, ErrCacheDisabled
}

// Set implements Cache.
func (c *NoOpCache) Set(context.Context, string, *CacheEntry) error {
	return nil
}

// Delete implements Cache.
func (c *NoOpCache) Delete(context.Context, string) error {
	return nil
}

// Clear implements Cache.
func (c *NoOpCache) Clear(context.Context) error {
	return nil
}

// Has implements Cache.
func (c *NoOpCache) Has(context.Context, string) bool {
	return false
}

// CacheBuilder assembles a CacheConfig fluently and builds the ResponseCache
// for it.
type CacheBuilder struct {
	config *CacheConfig
}

// NewCacheBuilder starts from a memory cache with default options.
func NewCacheBuilder() *CacheBuilder {
	return &CacheBuilder{config: &CacheConfig{Type: CacheTypeMemory, Options: DefaultCacheOptions()}}
}

// WithType selects the backend.
func (b *CacheBuilder) WithType(cacheType CacheType) *CacheBuilder {
	b.config.Type = cacheType

	return b
}

// WithMemoryConfig sizes the memory LRU.
func (b *CacheBuilder) WithMemoryConfig(maxSize int) *CacheBuilder {
	b.config.Memory = &MemoryCacheConfig{MaxSize: maxSize}

	return b
}

// WithNATSConfig configures the NATS backend.
func (b *CacheBuilder) WithNATSConfig(config *NATSKVConfig) *CacheBuilder {
	b.config.NATS = config

	return b
}

// WithRedisConfig configures the Redis backend.
func (b *CacheBuilder) WithRedisConfig(config *RedisCacheConfig) *CacheBuilder {
	b.config.Redis = config

	return b
}

// WithOptions replaces the cache options.
func (b *CacheBuilder) WithOptions(options *CacheOptions) *CacheBuilder {
	b.config.Options = options

	return b
}

// BuildResponseCache builds the configured backend and wraps it for the
// executor.
func (b *CacheBuilder) BuildResponseCache() (ResponseCache, error) {
	return NewResponseCacheFromConfig(b.config)
}

// CacheChain consults its tiers in order. A hit in a lower tier is copied
// into every tier above it. Writes go to every tier.
type CacheChain struct {
	tiers []Cache
}

// NewCacheChain orders tiers from fastest to slowest.
func NewCacheChain(tiers ...Cache) *CacheChain {
	return &CacheChain{tiers: tiers}
}

// Get implements Cache.
func (c *CacheChain) Get(ctx context.Context, key string) (*CacheEntry, error) {
	for depth, tier := range c.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			continue
		}

		for _, upper := range c.tiers[:depth] {
			_ = upper.Set(ctx, key, entry)
		}

		return entry, nil
	}

	return nil, fmt.Errorf("%w: not in any of %d caches", ErrCacheMiss, len(c.tiers))
}

// Set implements Cache. A failing tier does not stop the others.
func (c *CacheChain) Set(ctx context.Context, key string, entry *CacheEntry) error {
	return c.each(func(tier Cache) error { return tier.Set(ctx, key, entry) })
}

// Delete implements Cache.
func (c *CacheChain) Delete(ctx context.Context, key string) error {
	return c.each(func(tier Cache) error { return tier.Delete(ctx, key) })
}

// Clear implements Cache.
func (c *CacheChain) Clear(ctx context.Context) error {
	return c.each(func(tier Cache) error { return tier.Clear(ctx) })
}

// Has implements Cache.
func (c *CacheChain) Has(ctx context.Context, key string) bool {
	return slices.ContainsFunc(c.tiers, func(tier Cache) bool { return tier.Has(ctx, key) })
}

func (c *CacheChain) each(fn func(Cache) error) error {
	errs := make([]error, 0, len(c.tiers))

	for _, tier := range c.tiers {
		err := fn(tier)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
