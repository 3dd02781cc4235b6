package price

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/emperorhan/treasury-sync/internal/cache"
	"github.com/emperorhan/treasury-sync/internal/metrics"
)

// Cached memoizes successful lookups of an inner source for ttl. Failures
// are not cached.
type Cached struct {
	inner Source
	name  string
	cache *cache.LRU[string, float64]
}

func NewCached(inner Source, name string, ttl time.Duration, clk clock.Clock) *Cached {
	return &Cached{
		inner: inner,
		name:  name,
		cache: cache.NewLRU[string, float64](256, ttl, clk),
	}
}

func (c *Cached) PriceOf(ctx context.Context, symbol string) (float64, error) {
	key := strings.ToUpper(symbol)
	if p, ok := c.cache.Get(key); ok {
		metrics.PriceCacheHits.WithLabelValues(c.name).Inc()
		return p, nil
	}
	p, err := c.inner.PriceOf(ctx, symbol)
	if err != nil {
		return 0, err
	}
	c.cache.Put(key, p)
	return p, nil
}
