package pagecache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

func keyForPage(page int) PageKey {
	return PageKey{Sort: store.SortByID, Order: store.OrderAsc, Page: page, PageSize: 20}
}

func TestCacheGetPut(t *testing.T) {
	t.Parallel()

	c := New[string](time.Minute, 4)

	_, ok := c.Get(keyForPage(1))
	assert.False(t, ok, "empty cache should miss")

	c.Put(keyForPage(1), "one")
	got, ok := c.Get(keyForPage(1))
	require.True(t, ok)
	assert.Equal(t, "one", got)

	c.Put(keyForPage(1), "one-rewritten")
	got, ok = c.Get(keyForPage(1))
	require.True(t, ok)
	assert.Equal(t, "one-rewritten", got)
	assert.Equal(t, 1, c.Len(), "overwrite must not grow the cache")
}

func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	c := New[string](30*time.Second, 4)
	current := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put(keyForPage(1), "one")

	current = current.Add(30 * time.Second)
	_, ok := c.Get(keyForPage(1))
	assert.True(t, ok, "entry at exactly the TTL boundary is still fresh")

	current = current.Add(time.Nanosecond)
	_, ok = c.Get(keyForPage(1))
	assert.False(t, ok, "entry past the TTL must expire")
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on read")
}

func TestCacheLRUEviction(t *testing.T) {
	t.Parallel()

	c := New[int](time.Minute, 3)
	for page := 1; page <= 3; page++ {
		c.Put(keyForPage(page), page)
	}

	// Touch page 1 so page 2 becomes the eviction candidate.
	_, ok := c.Get(keyForPage(1))
	require.True(t, ok)

	c.Put(keyForPage(4), 4)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get(keyForPage(2))
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, page := range []int{1, 3, 4} {
		_, ok = c.Get(keyForPage(page))
		assert.True(t, ok, "page %d should survive eviction", page)
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	t.Parallel()

	c := New[int](time.Minute, 8)
	for page := 1; page <= 5; page++ {
		c.Put(keyForPage(page), page)
	}
	require.Equal(t, 5, c.Len())

	c.InvalidateAll()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(keyForPage(1))
	assert.False(t, ok)

	// The cache stays usable after invalidation.
	c.Put(keyForPage(1), 1)
	got, ok := c.Get(keyForPage(1))
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestLockForIdentity(t *testing.T) {
	t.Parallel()

	c := New[string](time.Minute, 4)

	a := PageKey{Sort: store.SortByName, Order: store.OrderDesc, Page: 2, PageSize: 50}
	b := PageKey{Sort: store.SortByName, Order: store.OrderDesc, Page: 2, PageSize: 50}
	other := PageKey{Sort: store.SortByName, Order: store.OrderDesc, Page: 3, PageSize: 50}

	assert.Same(t, c.LockFor(a), c.LockFor(b), "equal keys share one mutex")
	assert.NotSame(t, c.LockFor(a), c.LockFor(other), "distinct keys get distinct mutexes")

	// Lock identity survives invalidation so in-flight readers stay serialized.
	mu := c.LockFor(a)
	c.InvalidateAll()
	assert.Same(t, mu, c.LockFor(a))
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New[string](time.Minute, 16)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := keyForPage(j % 20)
				c.Put(key, fmt.Sprintf("worker-%d", i))
				c.Get(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, c.Len(), 16)
}
