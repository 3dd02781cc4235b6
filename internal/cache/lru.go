package cache

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a size-bounded cache with per-entry TTL expiration. Expired entries
// are dropped lazily on Get.
type LRU[K comparable, V any] struct {
	inner *lru.Cache[K, entry[V]]
	ttl   time.Duration
	clock clock.Clock

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRU creates a cache holding at most capacity entries, each valid for ttl.
// A nil clk uses the wall clock.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration, clk clock.Clock) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	// lru.New only fails on a non-positive size.
	inner, _ := lru.New[K, entry[V]](capacity)
	return &LRU[K, V]{inner: inner, ttl: ttl, clock: clk}
}

// Get returns the value for key if present and not expired.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	e, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if c.clock.Now().After(e.expiresAt) {
		c.inner.Remove(key)
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Put adds or replaces key and restarts its TTL.
func (c *LRU[K, V]) Put(key K, value V) {
	c.inner.Add(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)})
}

// Len returns the number of items in the cache, including expired entries
// not yet evicted.
func (c *LRU[K, V]) Len() int {
	return c.inner.Len()
}

// Stats returns cache hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
