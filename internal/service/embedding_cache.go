package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CacheConfig controls the query embedding cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultCacheConfig provides sane defaults for query caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        time.Hour,
		MaxEntries: 1024,
	}
}

type cacheEntry struct {
	embedding []float32
	storedAt  time.Time
	lastUsed  time.Time
}

// QueryEmbeddingCache memoizes query embeddings in front of an upstream
// client. Entries expire TTL after they were stored; a hit refreshes the
// entry's recency for eviction but never its expiry, so a stale embedding
// cannot be kept alive by repeated use. When full, the least recently used
// entry is evicted.
type QueryEmbeddingCache struct {
	upstream EmbeddingClient
	ttl      time.Duration
	max      int

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewQueryEmbeddingCache creates a cache in front of the given client.
func NewQueryEmbeddingCache(upstream EmbeddingClient, cfg CacheConfig) *QueryEmbeddingCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	return &QueryEmbeddingCache{
		upstream: upstream,
		ttl:      cfg.TTL,
		max:      cfg.MaxEntries,
		entries:  make(map[string]*cacheEntry),
	}
}

// GenerateEmbedding returns the cached embedding for an equivalent query, or
// asks the upstream client and caches the result. Queries differing only in
// case or whitespace share one entry. Upstream failures are not cached.
func (c *QueryEmbeddingCache) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := normalizeQueryKey(text)
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if now.Sub(entry.storedAt) < c.ttl {
			entry.lastUsed = now
			out := copyEmbedding(entry.embedding)
			c.mu.Unlock()
			return out, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	embedding, err := c.upstream.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{
		embedding: copyEmbedding(embedding),
		storedAt:  now,
		lastUsed:  now,
	}
	c.mu.Unlock()

	return embedding, nil
}

// SweepExpired drops every expired entry. It is meant to run periodically
// from a background worker so abandoned queries do not pin memory until
// their key happens to be requested again.
func (c *QueryEmbeddingCache) SweepExpired(ctx context.Context) error {
	now := time.Now()

	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		log.Printf("embedding cache: swept %d expired entries, %d remaining", removed, remaining)
	}
	return nil
}

// Len returns the current number of cached entries.
func (c *QueryEmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryEmbeddingCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// normalizeQueryKey collapses case and whitespace so trivially reworded
// queries share a cache entry.
func normalizeQueryKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func copyEmbedding(embedding []float32) []float32 {
	out := make([]float32, len(embedding))
	copy(out, embedding)
	return out
}
