// Package cache provides a TTL-bounded metric cache backed by
// singleflight to deduplicate concurrent recomputation, and a periodic
// snapshot dispatcher that hands composed MarketSnapshots to a sink.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"golang.org/x/sync/singleflight"
)

// entry holds a cached value and when it was computed.
type entry struct {
	value     any
	computed  time.Time
}

// Cache is a TTL-bounded, singleflight-deduplicated memoization cache
// keyed by string. Safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]entry
	group singleflight.Group
}

// New creates a Cache with the given TTL (default 5s per spec §4.11).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{ttl: ttl, items: make(map[string]entry)}
}

// Get returns the cached value for key if it is fresh, otherwise calls
// compute exactly once across concurrent callers (via singleflight) and
// caches the result.
func (c *Cache) Get(key string, compute func() (any, error)) (any, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && time.Since(e.computed) < c.ttl {
		return e.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		e, ok := c.items[key]
		c.mu.RUnlock()
		if ok && time.Since(e.computed) < c.ttl {
			return e.value, nil
		}

		val, err := compute()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = entry{value: val, computed: time.Now().UTC()}
		c.mu.Unlock()
		return val, nil
	})
	return v, err
}

// Invalidate drops a single cached key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateAll drops every cached key.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
}

// SnapshotSource composes a MarketSnapshot on demand. Implemented by the
// engine, which has access to every analytics component.
type SnapshotSource interface {
	ComposeSnapshot(now time.Time) models.MarketSnapshot
}

// SnapshotSink receives composed snapshots. Persistence is external; see
// internal/sink.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snap models.MarketSnapshot) error
}

// Dispatcher periodically composes a MarketSnapshot and hands it to a
// sink, on its own goroutine.
type Dispatcher struct {
	source   SnapshotSource
	sink     SnapshotSink
	interval time.Duration
	errFn    func(error)
}

// NewDispatcher creates a Dispatcher with the given composition interval
// (typically equal to the cache TTL). errFn receives sink write errors; if
// nil, errors are silently dropped.
func NewDispatcher(source SnapshotSource, sink SnapshotSink, interval time.Duration, errFn func(error)) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if errFn == nil {
		errFn = func(error) {}
	}
	return &Dispatcher{source: source, sink: sink, interval: interval, errFn: errFn}
}

// Run blocks, dispatching snapshots on the configured interval until ctx
// is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := d.source.ComposeSnapshot(now.UTC())
			if err := d.sink.WriteSnapshot(ctx, snap); err != nil {
				d.errFn(err)
			}
		}
	}
}
