package template

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/commshub/pkg/logger"
)

// Cache stores fetched template text keyed by source and culture.
type Cache interface {
	// Get retrieves cached template text
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores template text with TTL; zero TTL uses the cache default
	Set(ctx context.Context, key, text string, ttl time.Duration) error

	// Delete removes cached template text
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process Cache with lazy expiry and oldest-first eviction.
type MemoryCache struct {
	mutex      sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
}

type cacheEntry struct {
	text      string
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryCache creates a memory cache. maxEntries <= 0 means unbounded and
// ttl <= 0 means entries never expire.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), ttl: ttl, maxEntries: maxEntries}
}

// Get retrieves cached template text
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return "", false, nil
	}
	return entry.text, true, nil
}

// Set stores template text
func (c *MemoryCache) Set(_ context.Context, key, text string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	now := time.Now()
	entry := cacheEntry{text: text, createdAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry
	return nil
}

// Delete removes cached template text
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
	return nil
}

// Size returns the number of cached entries, expired ones included.
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// RedisCache stores template text in Redis under a key prefix.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisCache wraps an existing client. prefix defaults to "commshub:template:".
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, log logger.Logger) *RedisCache {
	if prefix == "" {
		prefix = "commshub:template:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger.OrDiscard(log)}
}

// Get retrieves cached template text from Redis
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	text, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("Redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("redis get error: %w", err)
	}
	c.logger.Debug("Redis cache hit", "key", key, "size", len(text))
	return text, true, nil
}

// Set stores template text in Redis
func (c *RedisCache) Set(ctx context.Context, key, text string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, text, ttl).Err(); err != nil {
		c.logger.Error("Redis SET failed", "key", key, "error", err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes cached template text from Redis
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Error("Redis DEL failed", "key", key, "error", err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// CachedSource memoizes another source per culture.
type CachedSource struct {
	Source Source
	Cache  Cache
	Key    string
	TTL    time.Duration

	mu       sync.Mutex
	cultures map[string]struct{}
}

// Cached wraps src so its content is stored in cache under key.
func Cached(src Source, cache Cache, key string, ttl time.Duration) *CachedSource {
	return &CachedSource{Source: src, Cache: cache, Key: key, TTL: ttl, cultures: map[string]struct{}{}}
}

// CacheKey returns the cache key for a base key and culture.
func CacheKey(key, culture string) string {
	if culture == "" {
		return key
	}
	return key + "@" + culture
}

// Content serves from cache and falls back to the wrapped source. Missing
// content is not cached; cache errors fall through to the source.
func (s *CachedSource) Content(ctx context.Context, culture string) (string, bool, error) {
	k := CacheKey(s.Key, culture)
	if text, ok, err := s.Cache.Get(ctx, k); err == nil && ok {
		return text, true, nil
	}
	text, ok, err := s.Source.Content(ctx, culture)
	if err != nil || !ok {
		return text, ok, err
	}
	if s.Cache.Set(ctx, k, text, s.TTL) == nil {
		s.mu.Lock()
		if s.cultures == nil {
			s.cultures = map[string]struct{}{}
		}
		s.cultures[culture] = struct{}{}
		s.mu.Unlock()
	}
	return text, true, nil
}

// Invalidate removes every cached culture variant this source has stored.
func (s *CachedSource) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	cultures := []string{""}
	for c := range s.cultures {
		if c != "" {
			cultures = append(cultures, c)
		}
	}
	s.cultures = map[string]struct{}{}
	s.mu.Unlock()

	var errs []error
	for _, c := range cultures {
		if err := s.Cache.Delete(ctx, CacheKey(s.Key, c)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
