package service

import (
	"bytes"
	"sync"

	"github.com/benbjohnson/clock"
	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// QueryCache is a bounded, strictly LRU cache of routed queries keyed by fingerprint.
// Recency is refreshed on both Get and Put. Entries never expire by time.
type QueryCache struct {
	config    *CacheConfig
	lru       *simplelru.LRU[string, model.CacheEntry]
	clock     clock.Clock
	logger    *zap.Logger
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	evictions uint64
	onEvict   func()
	removing  bool
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Capacity int
	Buckets  BucketWidths
}

// NewQueryCache creates a new query cache. A non-positive capacity is a configuration error.
func NewQueryCache(cfg *CacheConfig, clk clock.Clock, logger *zap.Logger) (*QueryCache, error) {
	if cfg == nil || cfg.Capacity <= 0 {
		capacity := 0
		if cfg != nil {
			capacity = cfg.Capacity
		}
		return nil, apperrors.Configuration("cache capacity must be positive", nil).
			WithDetail("capacity", capacity)
	}
	if clk == nil {
		clk = clock.New()
	}

	c := &QueryCache{
		config: cfg,
		clock:  clk,
		logger: logger,
	}

	lru, err := simplelru.NewLRU[string, model.CacheEntry](cfg.Capacity, c.evicted)
	if err != nil {
		return nil, apperrors.Configuration("failed to create query cache", err)
	}
	c.lru = lru

	return c, nil
}

// evicted runs under c.mu from inside Add
func (c *QueryCache) evicted(key string, entry model.CacheEntry) {
	if c.removing {
		return
	}
	c.evictions++
	if c.onEvict != nil {
		c.onEvict()
	}

	c.logger.Debug("Evicted cache entry",
		zap.String("fingerprint", key),
		zap.String("route", entry.Route.String()),
		zap.Time("inserted_at", entry.InsertedAt))
}

// OnEvict registers a hook invoked on every capacity eviction. It must not call back into the cache.
func (c *QueryCache) OnEvict(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Fingerprint computes the cache key for a query using the configured buckets
func (c *QueryCache) Fingerprint(deviceID string, m model.Metrics) string {
	return Fingerprint(deviceID, m, c.config.Buckets)
}

// Get retrieves an entry and marks it most-recently-used
func (c *QueryCache) Get(fingerprint string) (model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.lru.Get(fingerprint)
	if !found {
		c.misses++
		return model.CacheEntry{}, false
	}

	c.hits++
	return cloneEntry(entry), true
}

// Put stores an entry as most-recently-used, evicting the least-recently-used one when full
func (c *QueryCache) Put(fingerprint string, entry model.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry = cloneEntry(entry)
	entry.Fingerprint = fingerprint
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = c.clock.Now()
	}

	c.lru.Add(fingerprint, entry)
}

// Remove drops an entry without counting it as an eviction
func (c *QueryCache) Remove(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// simplelru fires the eviction callback on Remove too
	c.removing = true
	defer func() { c.removing = false }()

	return c.lru.Remove(fingerprint)
}

// RemoveIfOwned drops the entry only while it is still the one stored by queryID
func (c *QueryCache) RemoveIfOwned(fingerprint, queryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.lru.Peek(fingerprint)
	if !found || entry.QueryID != queryID {
		return false
	}

	c.removing = true
	defer func() { c.removing = false }()

	return c.lru.Remove(fingerprint)
}

// Contains reports presence without touching recency
func (c *QueryCache) Contains(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(fingerprint)
}

// Keys returns fingerprints from least to most recently used
func (c *QueryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached entries
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured capacity
func (c *QueryCache) Capacity() int {
	return c.config.Capacity
}

// Stats returns cache statistics
func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Capacity:   c.config.Capacity,
		EntryCount: c.lru.Len(),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	stats.UsagePercent = float64(stats.EntryCount) / float64(stats.Capacity) * 100
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Capacity     int     `json:"capacity"`
	EntryCount   int     `json:"entry_count"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Evictions    uint64  `json:"evictions"`
	HitRate      float64 `json:"hit_rate"`
	UsagePercent float64 `json:"usage_percent"`
}

func cloneEntry(e model.CacheEntry) model.CacheEntry {
	if e.Payload != nil {
		e.Payload = bytes.Clone(e.Payload)
	}
	return e
}
