package restapi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// Static errors for err113 compliance.
var (
	// ErrCacheMiss is matched by every lookup that found nothing usable.
	ErrCacheMiss = errors.New("cache miss: key not found")

	ErrCacheEntryExpired = fmt.Errorf("%w: entry expired", ErrCacheMiss)
)

// CacheEntry is a stored GET response.
type CacheEntry struct {
	URI          string    `json:"uri"`
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag"`
	Continuation string    `json:"continuation,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
	// ExpiresAt is zero for entries that never expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has expired at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Cache is a key/value backend for cache entries.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) bool
}

// CacheOptions are applied by NewResponseCache to any backend.
type CacheOptions struct {
	// TTL bounds how long an entry is served on 304. Zero keeps entries until
	// the backend evicts them.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// MaxSize is the entry limit for size-bounded backends.
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
	// EnableETags turns on conditional requests. When false the cache never
	// yields a validator.
	EnableETags bool `mapstructure:"enable_etags" yaml:"enable_etags"`
	// KeyPrefix namespaces keys in shared backends.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// DefaultCacheOptions returns default cache options.
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		TTL:         constants.DefaultCacheTTL,
		MaxSize:     constants.DefaultCacheSize,
		EnableETags: true,
		KeyPrefix:   constants.DefaultCacheKeyPrefix,
	}
}

// MemoryCache is an in-process LRU cache. Entries past their own ExpiresAt
// are dropped on read.
type MemoryCache struct {
	entries *lru.Cache[string, *CacheEntry]
	now     func() time.Time
}

// NewMemoryCache creates an LRU cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = constants.DefaultCacheSize
	}

	// New only fails for a non-positive size.
	entries, _ := lru.New[string, *CacheEntry](maxSize)

	return &MemoryCache{entries: entries, now: time.Now}
}

// Get retrieves an entry and marks it most recently used.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}

	if entry.Expired(c.now()) {
		c.entries.Remove(key)

		return nil, ErrCacheEntryExpired
	}

	return entry, nil
}

// Set stores an entry, evicting the least recently used one when full.
func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.entries.Add(key, entry)

	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)

	return nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.entries.Purge()

	return nil
}

// Has reports whether a live entry exists for key without touching its
// recency.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	entry, ok := c.entries.Peek(key)

	return ok && !entry.Expired(c.now())
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Cleanup drops expired entries.
func (c *MemoryCache) Cleanup() {
	now := c.now()

	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && entry.Expired(now) {
			c.entries.Remove(key)
		}
	}
}

// ResponseCache stores GET responses by request URI for conditional fetches.
// Lookups that find nothing return an error matching ErrCacheMiss.
type ResponseCache interface {
	// LookupValidator returns the ETag stored for uri.
	LookupValidator(ctx context.Context, uri string) (string, error)
	// LookupBody returns the body stored for uri.
	LookupBody(ctx context.Context, uri string) ([]byte, error)
	// LookupContinuation returns the next-page link stored for uri. An entry
	// without one yields the empty string.
	LookupContinuation(ctx context.Context, uri string) (string, error)
	// Store saves entry under entry.URI.
	Store(ctx context.Context, entry *CacheEntry) error
}

// CacheStats counts response cache traffic.
type CacheStats struct {
	Hits   int64
	Misses int64
	Sets   int64
	Errors int64
}

// GetHitRate returns hits over lookups, or zero before any lookup.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// BackedResponseCache implements ResponseCache over a Cache backend.
type BackedResponseCache struct {
	store   Cache
	options CacheOptions
	now     func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	sets     atomic.Int64
	failures atomic.Int64
}

// NewResponseCache wraps store. A nil options uses DefaultCacheOptions.
func NewResponseCache(store Cache, options *CacheOptions) *BackedResponseCache {
	if options == nil {
		options = DefaultCacheOptions()
	}

	return &BackedResponseCache{
		store:   store,
		options: *options,
		now:     time.Now,
	}
}

// LookupValidator implements ResponseCache.
func (c *BackedResponseCache) LookupValidator(ctx context.Context, uri string) (string, error) {
	if !c.options.EnableETags {
		return "", ErrCacheMiss
	}

	entry, err := c.lookup(ctx, uri)
	if err != nil {
		return "", err
	}

	if entry.ETag == "" {
		return "", ErrCacheMiss
	}

	return entry.ETag, nil
}

// LookupBody implements ResponseCache.
func (c *BackedResponseCache) LookupBody(ctx context.Context, uri string) ([]byte, error) {
	entry, err := c.lookup(ctx, uri)
	if err != nil {
		return nil, err
	}

	return entry.Body, nil
}

// LookupContinuation implements ResponseCache.
func (c *BackedResponseCache) LookupContinuation(ctx context.Context, uri string) (string, error) {
	entry, err := c.lookup(ctx, uri)
	if err != nil {
		return "", err
	}

	return entry.Continuation, nil
}

// Store implements ResponseCache.
func (c *BackedResponseCache) Store(ctx context.Context, entry *CacheEntry) error {
	stored := *entry
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.now()
	}

	if c.options.TTL > 0 && stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = stored.StoredAt.Add(c.options.TTL)
	}

	err := c.store.Set(ctx, c.key(entry.URI), &stored)
	if err != nil {
		c.failures.Add(1)

		return fmt.Errorf("storing cache entry for %s: %w", entry.URI, err)
	}

	c.sets.Add(1)

	return nil
}

// Invalidate removes the entry for uri.
func (c *BackedResponseCache) Invalidate(ctx context.Context, uri string) error {
	err := c.store.Delete(ctx, c.key(uri))
	if err != nil {
		return fmt.Errorf("deleting cache entry for %s: %w", uri, err)
	}

	return nil
}

// Stats returns a snapshot of the counters.
func (c *BackedResponseCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.failures.Load(),
	}
}

func (c *BackedResponseCache) lookup(ctx context.Context, uri string) (*CacheEntry, error) {
	entry, err := c.store.Get(ctx, c.key(uri))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrCacheDisabled) {
			c.misses.Add(1)

			return nil, ErrCacheMiss
		}

		c.failures.Add(1)

		return nil, fmt.Errorf("reading cache entry for %s: %w", uri, err)
	}

	if entry.Expired(c.now()) {
		c.misses.Add(1)

		return nil, ErrCacheEntryExpired
	}

	c.hits.Add(1)

	return entry, nil
}

func (c *BackedResponseCache) key(uri string) string {
	return c.options.KeyPrefix + uri
}

// NoCache returns a ResponseCache that never stores anything, so no request
// carries a validator.
func NoCache() ResponseCache {
	return noCache{}
}

type noCache struct{}

func (noCache) LookupValidator(context.Context, string) (string, error) {
	return "", ErrCacheMiss
}

func (noCache) LookupBody(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (noCache) LookupContinuation(context.Context, string) (string, error) {
	return "", ErrCacheMiss
}

func (noCache) Store(context.Context, *CacheEntry) error {
	return nil
}
