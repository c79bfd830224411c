// Package pagecache provides a bounded, time-limited cache of serialized
// page responses keyed by query shape, with per-key mutexes supporting the
// singleflight read pattern: concurrent identical queries collapse into one
// backing-store read, while unrelated keys fill fully in parallel.
package pagecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

// Default cache policy values.
const (
	DefaultTTL      = 30 * time.Second
	DefaultCapacity = 256
)

// PageKey identifies one paginated/sorted query shape. It is a comparable
// value type: two keys are equal iff all four fields are equal, which makes
// it usable directly as both a cache key and a lock-table key.
type PageKey struct {
	Sort     store.SortField
	Order    store.SortOrder
	Page     int
	PageSize int
}

type entry[V any] struct {
	key        PageKey
	value      V
	insertedAt time.Time
}

// Cache is an LRU+TTL cache with a lazily grown per-key lock table. All
// entry operations are safe for concurrent use; the recency list is only
// ever touched under the cache mutex.
//
// The cache is process-local. Instances sharing a database each hold their
// own cache, which is why invalidation happens locally after a successful
// sync and staleness in other instances is bounded only by the TTL.
type Cache[V any] struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[PageKey]*list.Element
	// order holds *entry[V] values, most recently used at the front.
	order *list.List

	lockMu sync.Mutex
	locks  map[PageKey]*sync.Mutex

	// now is swapped out by tests to control expiry.
	now func() time.Time
}

// New creates a cache with the given TTL and capacity. Non-positive values
// fall back to the defaults.
func New[V any](ttl time.Duration, capacity int) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[PageKey]*list.Element),
		order:    list.New(),
		locks:    make(map[PageKey]*sync.Mutex),
		now:      time.Now,
	}
}

// Get returns the cached value for key if present and fresh, bumping it to
// most-recently-used. An expired entry is evicted and reported as a miss.
func (c *Cache[V]) Get(key PageKey) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	ent := elem.Value.(*entry[V])
	if c.now().Sub(ent.insertedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return zero, false
	}

	c.order.MoveToFront(elem)
	return ent.value, true
}

// Put inserts or overwrites the value for key with the current timestamp,
// bumping it to most-recently-used and evicting from the least-recently-used
// end until the cache is back at capacity.
func (c *Cache[V]) Put(key PageKey, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.insertedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[V]{
		key:        key,
		value:      value,
		insertedAt: c.now(),
	})

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}
}

// InvalidateAll clears every entry. The lock table is retained: a mutex may
// be held by an in-flight read, and the key space is bounded in practice.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[PageKey]*list.Element)
	c.order.Init()
}

// LockFor returns the mutex associated with key, creating it on first
// reference. Structurally equal keys always observe the same instance.
func (c *Cache[V]) LockFor(key PageKey) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	mu, ok := c.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[key] = mu
	}
	return mu
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
