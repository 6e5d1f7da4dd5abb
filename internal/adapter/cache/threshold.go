package cache

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/alert"
	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/guregu/null"
	"github.com/jonboulle/clockwork"
)

// ThresholdCache wraps an alert.ThresholdLookup with an in-memory LRU cache
// whose entries expire after a TTL.
type ThresholdCache struct {
	inner   alert.ThresholdLookup
	cache   *lruCache
	metrics *observability.Metrics
}

// NewThresholdCache creates a cache decorator around a threshold lookup.
// A nil clock uses the real clock.
func NewThresholdCache(inner alert.ThresholdLookup, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *ThresholdCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ThresholdCache{
		inner:   inner,
		cache:   newLRUCache(maxEntries, ttl, clock),
		metrics: metrics,
	}
}

// Threshold returns the cached threshold for serial. Missing thresholds are
// cached too; errors are not.
func (c *ThresholdCache) Threshold(ctx context.Context, serial string) (null.Float, error) {
	if v, ok := c.cache.get(serial); ok {
		c.metrics.ThresholdCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	c.metrics.ThresholdCache.WithLabelValues("miss").Inc()

	v, err := c.inner.Threshold(ctx, serial)
	if err != nil {
		return v, err
	}
	c.cache.put(serial, v)
	return v, nil
}

// Invalidate drops every cached threshold.
func (c *ThresholdCache) Invalidate() {
	c.cache.clear()
}

// lruCache is a simple thread-safe LRU cache with per-entry expiry.
type lruCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key       string
	value     null.Float
	expiresAt time.Time
	prev      *entry
	next      *entry
}

func newLRUCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (null.Float, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return null.Float{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.remove(e)
		return null.Float{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value null.Float) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.head, c.tail = nil, nil
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
