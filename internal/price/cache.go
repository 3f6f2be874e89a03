package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider wraps a Provider with a quote cache and a last-known-price
// fallback. Quotes are written to Redis (and a local map, so a Redis outage
// does not take the fallback down with it). A cached quote within the TTL is
// served directly; past the TTL the inner provider is consulted again, and
// if that lookup fails the expired quote is served with Stale set instead of
// surfacing the failure. Only a ticker with no history returns ErrUnavailable.
type CachedProvider struct {
	inner Provider
	rdb   *redis.Client // optional; nil disables the Redis layer
	ttl   time.Duration

	mu    sync.RWMutex
	local map[string]Quote
}

// NewCachedProvider creates the caching wrapper. ttl bounds how long a
// cached quote is served without re-consulting the inner provider. Pass
// nil rdb to run with the in-process cache only.
func NewCachedProvider(inner Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]Quote),
	}
}

func (c *CachedProvider) Fetch(ctx context.Context, ticker string) (Quote, error) {
	cached, ok := c.get(ctx, ticker)
	if ok && c.Fresh(cached, time.Now().UTC()) {
		return cached, nil
	}

	q, err := c.inner.Fetch(ctx, ticker)
	if err == nil {
		c.put(ctx, q)
		return q, nil
	}

	if !ok {
		return Quote{}, fmt.Errorf("%w: %s (lookup failed, no cached price)", ErrUnavailable, ticker)
	}

	slog.Warn("price lookup failed, serving expired cached quote",
		"ticker", ticker, "as_of", cached.AsOf, "err", err)
	cached.Stale = true
	return cached, nil
}

func (c *CachedProvider) put(ctx context.Context, q Quote) {
	c.mu.Lock()
	c.local[q.Ticker] = q
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	if data, err := json.Marshal(q); err == nil {
		// No expiry: the stored quote is the fallback of last resort.
		c.rdb.Set(ctx, quoteKey(q.Ticker), data, 0)
	}
}

func (c *CachedProvider) get(ctx context.Context, ticker string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.local[ticker]
	c.mu.RUnlock()
	if ok {
		return q, true
	}

	if c.rdb == nil {
		return Quote{}, false
	}
	data, err := c.rdb.Get(ctx, quoteKey(ticker)).Bytes()
	if err != nil {
		return Quote{}, false
	}
	if json.Unmarshal(data, &q) != nil {
		return Quote{}, false
	}
	return q, true
}

// Fresh reports whether a quote is within the provider's freshness window.
func (c *CachedProvider) Fresh(q Quote, now time.Time) bool {
	return !q.Stale && now.Sub(q.AsOf) <= c.ttl
}

func quoteKey(ticker string) string { return fmt.Sprintf("quote:%s", ticker) }
