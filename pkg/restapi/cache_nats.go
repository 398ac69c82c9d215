package restapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// ErrCacheValueTooLarge is returned when an entry exceeds MaxCacheValueSize.
var ErrCacheValueTooLarge = errors.New("cache value exceeds maximum size")

// NATSKVConfig configures the NATS JetStream KV backend.
type NATSKVConfig struct {
	// URL of the NATS server. Defaults to nats.DefaultURL.
	URL string `mapstructure:"url" yaml:"url"`
	// Bucket is created on first use when missing.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	// TTL is the bucket-level expiry applied by the server.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// Replicas for the bucket stream.
	Replicas int `mapstructure:"replicas" yaml:"replicas"`
}

// NATSKVCache stores entries in a JetStream key/value bucket. Keys are
// hashed because URIs contain characters KV keys do not allow.
type NATSKVCache struct {
	kv   nats.KeyValue
	conn *nats.Conn
}

// NewNATSKVCache connects to NATS and opens or creates the bucket.
func NewNATSKVCache(config *NATSKVConfig) (*NATSKVCache, error) {
	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	conn, err := nats.Connect(url, nats.Name("restclient-cache"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("opening JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "restclient response cache",
			TTL:         config.TTL,
			Replicas:    config.Replicas,
		})
	}

	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("opening KV bucket %s: %w", bucket, err)
	}

	return &NATSKVCache{kv: kv, conn: conn}, nil
}

// NewNATSKVCacheFromKV wraps an already opened bucket. The caller owns the
// connection.
func NewNATSKVCacheFromKV(kv nats.KeyValue) *NATSKVCache {
	return &NATSKVCache{kv: kv}
}

// Get implements Cache.
func (c *NATSKVCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	kvEntry, err := c.kv.Get(hashKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrCacheMiss
		}

		return nil, fmt.Errorf("reading KV key: %w", err)
	}

	var entry CacheEntry

	err = json.Unmarshal(kvEntry.Value(), &entry)
	if err != nil {
		return nil, fmt.Errorf("decoding KV entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		return nil, ErrCacheEntryExpired
	}

	return &entry, nil
}

// Set implements Cache.
func (c *NATSKVCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding KV entry: %w", err)
	}

	if len(data) > constants.MaxCacheValueSize {
		return fmt.Errorf("%w: %d bytes", ErrCacheValueTooLarge, len(data))
	}

	_, err = c.kv.Put(hashKey(key), data)
	if err != nil {
		return fmt.Errorf("writing KV key: %w", err)
	}

	return nil
}

// Delete implements Cache.
func (c *NATSKVCache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(hashKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("deleting KV key: %w", err)
	}

	return nil
}

// Clear implements Cache.
func (c *NATSKVCache) Clear(ctx context.Context) error {
	keys, err := c.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("listing KV keys: %w", err)
	}

	for _, key := range keys {
		err = c.kv.Delete(key)
		if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("deleting KV key: %w", err)
		}
	}

	return nil
}

// Has implements Cache.
func (c *NATSKVCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Close closes the connection opened by NewNATSKVCache.
func (c *NATSKVCache) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
