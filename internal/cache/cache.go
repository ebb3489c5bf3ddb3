// Package cache implements the time-windowed identity cache that keeps hot
// catalog nodes resident in memory.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Options configures a Cache.
type Options struct {
	// TTL is the base retention window applied on Put.
	TTL time.Duration
	// MaxMultiplier caps how far reads may stretch the window (TTL × multiplier).
	MaxMultiplier int
	// VerifyVersion makes GetVersion treat a version mismatch as a miss.
	VerifyVersion bool
	// Capacity bounds the number of entries; zero means unbounded.
	Capacity uint64
}

// DefaultOptions returns the retention used by the catalog.
func DefaultOptions() Options {
	return Options{TTL: 30 * time.Second, MaxMultiplier: 10}
}

type entry[V any] struct {
	value   V
	version uint64
	reads   atomic.Int64
}

// Cache maps identities to values with read-adaptive expiry.
//
// Expired entries are removed by ttlcache's cleaner goroutine, which sleeps
// until the next expiry and idles while the cache is empty.
type Cache[K comparable, V any] struct {
	opts  Options
	items *ttlcache.Cache[K, *entry[V]]

	mu      sync.RWMutex
	reclaim func(K, V) bool
	evicted []func(K, V)

	// setMu orders Put against the window extension done on reads.
	setMu sync.Mutex

	hits   atomic.Uint64
	misses atomic.Uint64

	stopOnce sync.Once
}

// New creates a cache and starts its expiry loop. Call Close to stop it.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.MaxMultiplier < 1 {
		opts.MaxMultiplier = 1
	}
	ttlOpts := []ttlcache.Option[K, *entry[V]]{
		ttlcache.WithTTL[K, *entry[V]](opts.TTL),
		ttlcache.WithDisableTouchOnHit[K, *entry[V]](),
	}
	if opts.Capacity > 0 {
		ttlOpts = append(ttlOpts, ttlcache.WithCapacity[K, *entry[V]](opts.Capacity))
	}

	c := &Cache[K, V]{
		opts:  opts,
		items: ttlcache.New(ttlOpts...),
	}
	c.items.OnEviction(c.onEviction)
	go c.items.Start()
	return c
}

// Put stores value with a fresh window of TTL and resets its read count.
func (c *Cache[K, V]) Put(key K, value V, version uint64) {
	c.setMu.Lock()
	defer c.setMu.Unlock()
	c.items.Set(key, &entry[V]{value: value, version: version}, c.opts.TTL)
}

// Get returns the cached value. Each hit extends the entry's window
// proportionally to its cumulative reads.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e := c.lookup(key)
	if e == nil {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetVersion is Get with a version check: when VerifyVersion is enabled, an
// entry stored with a different version is dropped and reported as a miss.
func (c *Cache[K, V]) GetVersion(key K, version uint64) (V, bool) {
	var zero V
	item := c.items.Get(key)
	if item == nil {
		c.misses.Add(1)
		return zero, false
	}
	if c.opts.VerifyVersion && item.Value().version != version {
		c.items.Delete(key)
		c.misses.Add(1)
		return zero, false
	}
	e := c.touch(item)
	return e.value, true
}

func (c *Cache[K, V]) lookup(key K) *entry[V] {
	item := c.items.Get(key)
	if item == nil {
		c.misses.Add(1)
		return nil
	}
	return c.touch(item)
}

func (c *Cache[K, V]) touch(item *ttlcache.Item[K, *entry[V]]) *entry[V] {
	c.hits.Add(1)
	e := item.Value()
	reads := e.reads.Add(1)
	mult := min(1+reads, int64(c.opts.MaxMultiplier))

	c.setMu.Lock()
	defer c.setMu.Unlock()
	if cur := c.items.Get(item.Key()); cur != nil && cur.Value() == e {
		c.items.Set(item.Key(), e, time.Duration(mult)*c.opts.TTL)
	}
	return e
}

// TTL returns the current retention window of key, or zero when absent.
func (c *Cache[K, V]) TTL(key K) time.Duration {
	item := c.items.Get(key)
	if item == nil {
		return 0
	}
	return item.TTL()
}

// Has reports whether key is resident without touching it.
func (c *Cache[K, V]) Has(key K) bool {
	return c.items.Has(key)
}

// Delete drops key without invoking the reclaim hook.
func (c *Cache[K, V]) Delete(key K) {
	c.items.Delete(key)
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// OnEvict registers fn to run for every entry removed by expiry, capacity
// or Delete.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, fn)
}

// SetReclaimHook installs a veto for expiry: when fn returns true the entry is
// reinstated for another window instead of being evicted.
func (c *Cache[K, V]) SetReclaimHook(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reclaim = fn
}

// Close stops the expiry loop.
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(c.items.Stop)
}

func (c *Cache[K, V]) onEviction(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[K, *entry[V]]) {
	c.mu.RLock()
	reclaim := c.reclaim
	callbacks := c.evicted
	c.mu.RUnlock()

	e := item.Value()
	if reason == ttlcache.EvictionReasonExpired && reclaim != nil && reclaim(item.Key(), e.value) {
		if !c.items.Has(item.Key()) {
			c.items.Set(item.Key(), e, c.opts.TTL)
		}
		return
	}
	for _, fn := range callbacks {
		fn(item.Key(), e.value)
	}
}
