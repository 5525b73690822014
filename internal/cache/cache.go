package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by TableCache.Get when no entry exists.
var ErrMiss = errors.New("cache miss")

// Versioner holds the monotonically increasing snapshot version.
type Versioner interface {
	Current(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

// TableCache stores serialized loader results keyed by (table, version).
type TableCache interface {
	Get(ctx context.Context, table string, version int64) ([]byte, error)
	Set(ctx context.Context, table string, version int64, data []byte) error
}

// RedisVersioner keeps the version in a single Redis key.
type RedisVersioner struct {
	client *redis.Client
	key    string
}

// NewRedisVersioner stores the version under prefix:snapshot_version.
func NewRedisVersioner(client *redis.Client, prefix string) *RedisVersioner {
	return &RedisVersioner{client: client, key: prefix + ":snapshot_version"}
}

// Current returns 0 before the first bump.
func (v *RedisVersioner) Current(ctx context.Context) (int64, error) {
	n, err := v.client.Get(ctx, v.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}
	return n, nil
}

// Bump increments the version atomically and returns the new value.
func (v *RedisVersioner) Bump(ctx context.Context) (int64, error) {
	n, err := v.client.Incr(ctx, v.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump snapshot version: %w", err)
	}
	return n, nil
}

// MemoryVersioner is the single-process fallback.
type MemoryVersioner struct {
	n atomic.Int64
}

// NewMemoryVersioner starts at version 0.
func NewMemoryVersioner() *MemoryVersioner { return &MemoryVersioner{} }

// Current returns the in-process version.
func (v *MemoryVersioner) Current(context.Context) (int64, error) { return v.n.Load(), nil }

// Bump increments the in-process version.
func (v *MemoryVersioner) Bump(context.Context) (int64, error) { return v.n.Add(1), nil }

func tableKey(prefix, table string, version int64) string {
	return prefix + ":table:" + table + ":v" + strconv.FormatInt(version, 10)
}

// RedisTableCache stores entries with a TTL so stale versions age out.
type RedisTableCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTableCache expires entries after ttl.
func NewRedisTableCache(client *redis.Client, prefix string, ttl time.Duration) *RedisTableCache {
	return &RedisTableCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns ErrMiss for absent or expired entries.
func (c *RedisTableCache) Get(ctx context.Context, table string, version int64) ([]byte, error) {
	b, err := c.client.Get(ctx, tableKey(c.prefix, table, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table cache: %w", err)
	}
	return b, nil
}

// Set overwrites any existing entry and resets its TTL.
func (c *RedisTableCache) Set(ctx context.Context, table string, version int64, data []byte) error {
	if err := c.client.Set(ctx, tableKey(c.prefix, table, version), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write table cache: %w", err)
	}
	return nil
}

// MemoryTableCache is a bounded LRU for single-process deployments.
type MemoryTableCache struct {
	entries *lru.Cache[string, []byte]
}

// NewMemoryTableCache keeps at most max entries; max <= 0 means 32.
func NewMemoryTableCache(max int) *MemoryTableCache {
	if max <= 0 {
		max = 32
	}
	entries, err := lru.New[string, []byte](max)
	if err != nil {
		panic(err)
	}
	return &MemoryTableCache{entries: entries}
}

// Get returns ErrMiss when the entry was never set or has been evicted.
func (c *MemoryTableCache) Get(_ context.Context, table string, version int64) ([]byte, error) {
	data, ok := c.entries.Get(tableKey("", table, version))
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

// Set stores data and evicts the least recently used entry when full.
func (c *MemoryTableCache) Set(_ context.Context, table string, version int64, data []byte) error {
	c.entries.Add(tableKey("", table, version), data)
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryTableCache) Len() int { return c.entries.Len() }
