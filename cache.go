package streamz

import (
	"encoding/hex"
	"sync"

	"github.com/dchest/siphash"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/zoobzio/metricz"
	"golang.org/x/sync/singleflight"
)

// Metric keys.
const (
	CacheHitsTotal      = metricz.Key("cache.hits.total")
	CacheMissesTotal    = metricz.Key("cache.misses.total")
	CacheEvictionsTotal = metricz.Key("cache.evictions.total")
	CacheBytes          = metricz.Key("cache.bytes")
)

// cacheIndexCap bounds the entry count of the LRU index; the real limit is
// the byte budget, enforced separately.
const cacheIndexCap = 1 << 20

// Cache is the process-wide in-memory cache pipelines share. Entries are
// keyed by fingerprint, sized in bytes against a fixed budget, and evicted
// least-recently-used. Concurrent lookups of the same fingerprint collapse
// into at most one build via a per-key single-flight latch.
type Cache struct {
	budget  uint64
	mu      sync.Mutex
	entries *lru.LRU[string, cacheEntry]
	used    uint64
	group   singleflight.Group
	metrics *metricz.Registry
}

type cacheEntry struct {
	value any
	size  uint64
}

// NewCache creates a cache bounded by the given byte budget.
func NewCache(budget uint64) *Cache {
	metrics := metricz.New()
	metrics.Counter(CacheHitsTotal)
	metrics.Counter(CacheMissesTotal)
	metrics.Counter(CacheEvictionsTotal)
	metrics.Gauge(CacheBytes)
	c := &Cache{budget: budget, metrics: metrics}
	entries, err := lru.NewLRU(cacheIndexCap, c.onEvict)
	if err != nil {
		panic(err)
	}
	c.entries = entries
	return c
}

// onEvict runs under c.mu via the LRU's callbacks.
func (c *Cache) onEvict(_ string, e cacheEntry) {
	c.used -= e.size
	c.metrics.Counter(CacheEvictionsTotal).Inc()
}

// Metrics returns the cache's metrics registry.
func (c *Cache) Metrics() *metricz.Registry { return c.metrics }

// Get returns the cached value for a fingerprint.
func (c *Cache) Get(fingerprint string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(fingerprint)
	if ok {
		c.metrics.Counter(CacheHitsTotal).Inc()
		return e.value, true
	}
	c.metrics.Counter(CacheMissesTotal).Inc()
	return nil, false
}

// GetOrBuild returns the cached value for a fingerprint, building it at
// most once across concurrent callers. The build function reports the
// value's size in bytes; values larger than the whole budget are returned
// but not retained.
func (c *Cache) GetOrBuild(fingerprint string, build func() (any, uint64, error)) (any, error) {
	if v, ok := c.Get(fingerprint); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// A concurrent builder may have won the latch and inserted already.
		c.mu.Lock()
		if e, ok := c.entries.Get(fingerprint); ok {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()
		value, size, err := build()
		if err != nil {
			return nil, err
		}
		c.put(fingerprint, value, size)
		return value, nil
	})
	return v, err
}

// Put inserts a value with an explicit byte size, evicting as needed.
func (c *Cache) Put(fingerprint string, value any, size uint64) {
	c.put(fingerprint, value, size)
}

func (c *Cache) put(fingerprint string, value any, size uint64) {
	if size > c.budget {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Peek(fingerprint); ok {
		// The eviction callback adjusts the byte accounting.
		c.entries.Remove(fingerprint)
	}
	c.entries.Add(fingerprint, cacheEntry{value: value, size: size})
	c.used += size
	for c.used > c.budget {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
	c.metrics.Gauge(CacheBytes).Set(float64(c.used))
}

// Remove drops an entry.
func (c *Cache) Remove(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(fingerprint)
	c.metrics.Gauge(CacheBytes).Set(float64(c.used))
}

// Used returns the bytes currently retained.
func (c *Cache) Used() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Len returns the number of retained entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Fixed keys so fingerprints are stable across processes.
const (
	cacheHashK0 = 0x63616368657a0001
	cacheHashK1 = 0x73747265616d7a02
)

// Fingerprint hashes the given parts into a stable cache key.
func Fingerprint(parts ...string) string {
	var buf []byte
	for _, p := range parts {
		buf = appendLenPrefixed(buf, p)
	}
	sum := siphash.Hash(cacheHashK0, cacheHashK1, buf)
	var raw [8]byte
	for i := 0; i < 8; i++ {
		raw[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(raw[:])
}
