package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a forecast is served from cache.
const DefaultCacheTTL = 10 * time.Minute

// Key identifies a cached forecast. Digest ties the entry to the series
// content so keys from different processes never collide.
type Key struct {
	Region  string
	Version uint64
	Digest  uint64
	Horizon int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%016x:%d", k.Region, k.Version, k.Digest, k.Horizon)
}

// Cache stores forecast results for a short time.
type Cache interface {
	Get(ctx context.Context, key Key) (*Result, bool, error)
	Set(ctx context.Context, key Key, res *Result) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, Key) (*Result, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, Key, *Result) error         { return nil }

type memoryEntry struct {
	res     *Result
	expires time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]memoryEntry
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl uses
// DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[Key]memoryEntry)}
}

// Get returns the entry for key if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key Key) (*Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.res, true, nil
}

// Set stores res and evicts expired entries.
func (c *MemoryCache) Set(_ context.Context, key Key, res *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{res: res, expires: now.Add(c.ttl)}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares forecasts between processes. Values are JSON compressed
// with snappy and expire via SET EX.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache storing keys under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = "fluhub"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) redisKey(key Key) string {
	return c.prefix + ":forecast:" + key.String()
}

// Get loads and decodes the entry for key.
func (c *RedisCache) Get(ctx context.Context, key Key) (*Result, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to get cached forecast", goerr.V("key", key.String()))
	}

	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to decompress cached forecast", goerr.V("key", key.String()))
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, goerr.Wrap(err, "failed to decode cached forecast", goerr.V("key", key.String()))
	}
	return &res, true, nil
}

// Set encodes res and stores it with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key Key, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return goerr.Wrap(err, "failed to encode forecast", goerr.V("key", key.String()))
	}
	if err := c.client.Set(ctx, c.redisKey(key), snappy.Encode(nil, data), c.ttl).Err(); err != nil {
		return goerr.Wrap(err, "failed to cache forecast", goerr.V("key", key.String()))
	}
	return nil
}
