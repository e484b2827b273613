package vision

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache maps an image fingerprint to a critique. Writes are idempotent per fingerprint,
// so implementations need no compare-and-set.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (string, bool)
	Set(ctx context.Context, fingerprint string, text string)
}

// MemoryCache is a process-local cache. Entries are never evicted.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	text, ok := c.items[fingerprint]
	return text, ok
}

func (c *MemoryCache) Set(_ context.Context, fingerprint string, text string) {
	if fingerprint == "" || text == "" {
		return
	}

	c.mu.Lock()
	c.items[fingerprint] = text
	c.mu.Unlock()
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

const DefaultCacheKeyPrefix = "archcritic:result:"

// RedisCache shares results between bot replicas. Redis failures degrade to cache misses.
type RedisCache struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache builds a cache over client. A zero ttl keeps entries until Redis evicts them.
func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultCacheKeyPrefix
	}

	return &RedisCache{redis: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}

	text, err := c.redis.Get(ctx, c.key(fingerprint)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cacheLogger().Warn("result cache read failed", "fingerprint", fingerprintPrefix(fingerprint), "error", err)
		}
		return "", false
	}

	return text, text != ""
}

func (c *RedisCache) Set(ctx context.Context, fingerprint string, text string) {
	if fingerprint == "" || text == "" {
		return
	}

	if err := c.redis.Set(ctx, c.key(fingerprint), text, c.ttl).Err(); err != nil {
		cacheLogger().Warn("result cache write failed", "fingerprint", fingerprintPrefix(fingerprint), "error", err)
	}
}

func (c *RedisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

func cacheLogger() *slog.Logger {
	return slog.Default().With("component", "vision.cache")
}
