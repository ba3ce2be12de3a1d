// Package memo provides a process-lifetime, build-once cache.
//
// Entries are never evicted: callers rely on repeated lookups returning the
// same value, and on the build function running at most once per key even
// under concurrent first use.
package memo

import (
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kneutral-org/alert-repository/internal/metrics"
)

type entry[V any] struct {
	value V
	err   error
}

// Cache memoizes the result of a build function per key, failures included.
type Cache[V any] struct {
	name   string
	mu     sync.RWMutex
	items  map[string]*entry[V]
	group  singleflight.Group
	hits   atomic.Int64
	builds atomic.Int64
}

// Stats contains cache statistics.
type Stats struct {
	Size   int
	Hits   int64
	Builds int64
}

// New creates an empty cache. The name labels the cache_operations_total metric.
func New[V any](name string) *Cache[V] {
	return &Cache[V]{
		name:  name,
		items: make(map[string]*entry[V]),
	}
}

// Get returns the cached value for key. Failed builds are reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.lookup(key)
	if !ok || e.err != nil {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrBuild returns the cached result for key, running build on first use.
// Concurrent first callers share one build; a build error is cached too.
func (c *Cache[V]) GetOrBuild(key string, build func() (V, error)) (V, error) {
	if e, ok := c.lookup(key); ok {
		c.hits.Add(1)
		metrics.RecordCacheOperation(c.name, "hit")
		return e.value, e.err
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		// Check again in case a previous flight finished between lookups
		if e, ok := c.lookup(key); ok {
			return e, nil
		}

		c.builds.Add(1)
		metrics.RecordCacheOperation(c.name, "miss")

		value, err := build()
		e := &entry[V]{value: value, err: err}

		c.mu.Lock()
		c.items[key] = e
		c.mu.Unlock()

		return e, nil
	})

	e := v.(*entry[V])
	return e.value, e.err
}

// Len returns the number of cached keys.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Keys returns the cached keys in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Size:   c.Len(),
		Hits:   c.hits.Load(),
		Builds: c.builds.Load(),
	}
}

func (c *Cache[V]) lookup(key string) (*entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	return e, ok
}
