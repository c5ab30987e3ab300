package memo

import (
	"sync"
	"time"
)

type entry[K comparable] struct {
	key K
	ts  time.Time
}

type item[V any] struct {
	value V
	ts    time.Time
}

// Cache memoises lookups for the lifetime of a process, bounded by capacity and ttl.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]item[V]
	order    []entry[K]
	capacity int
	ttl      time.Duration
}

// New creates a cache with the provided capacity and ttl.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[K, V]{
		items:    make(map[K]item[V], capacity),
		order:    make([]entry[K], 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the value stored for key if it is still inside the ttl window.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok && now.Sub(it.ts) <= c.ttl {
		return it.value, true
	}
	var zero V
	return zero, false
}

// Put records value for key.
func (c *Cache[K, V]) Put(key K, value V) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[V]{value: value, ts: now}
	c.order = append(c.order, entry[K]{key: key, ts: now})
	c.compact(now)
}

// GetOrLoad returns the cached value or calls load and caches a successful result.
// Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

// Len reports the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if it, ok := c.items[oldest.key]; ok && it.ts == oldest.ts {
			delete(c.items, oldest.key)
		}
	}
}
