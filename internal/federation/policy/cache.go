package policy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agora/internal/platform/metrics"
)

// Loader reads the trust policy from its backing store.
type Loader interface {
	LoadTrustPolicy(ctx context.Context) (Snapshot, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Snapshot, error)

func (f LoaderFunc) LoadTrustPolicy(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Cache is a short-TTL cache of the trust policy. All inbound and outbound
// federation reads the allow/block lists several times per activity; hitting
// the backend directly would cause a huge number of reads, so the snapshot is
// cached briefly and list changes still take effect quickly.
//
// Concurrent misses coalesce into a single backend load; a load failure
// propagates to every waiter and nothing is cached, so an expired snapshot is
// never served.
type Cache struct {
	loader  Loader
	ttl     time.Duration
	clock   func() time.Time
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.RWMutex
	snap    Snapshot
	expires time.Time
	loaded  bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics records backend reloads.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache constructs a Cache over loader with the given TTL.
func NewCache(loader Loader, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the current snapshot, reloading from the backend when the
// cached one is missing or expired.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	if c.loaded && c.clock().Before(c.expires) {
		snap := c.snap
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	// Single key: there is exactly one policy, so every concurrent miss
	// shares the one in-flight load and its error.
	v, err, _ := c.group.Do("trust-policy", func() (any, error) {
		c.mu.RLock()
		if c.loaded && c.clock().Before(c.expires) {
			snap := c.snap
			c.mu.RUnlock()
			return snap, nil
		}
		c.mu.RUnlock()

		snap, err := c.loader.LoadTrustPolicy(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if c.metrics != nil {
			c.metrics.PolicyReloads.Inc()
		}

		c.mu.Lock()
		c.snap = snap
		c.expires = c.clock().Add(c.ttl)
		c.loaded = true
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Invalidate drops the cached snapshot so the next Get reloads. The admin
// API calls this after list changes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
