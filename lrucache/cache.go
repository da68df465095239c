/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"fmt"
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache represents a cache with LRU eviction mechanism and Prometheus metrics.
// All methods are safe for concurrent use and are serialized by a single mutex,
// so callers that need parallelism should shard several caches.
type LRUCache[K comparable, V any] struct {
	maxEntries int

	mu      sync.Mutex
	lruList *list.List
	cache   map[K]*list.Element // map of cache entries, value is a lruList element

	metricsCollector MetricsCollector
}

// New creates a new LRUCache with the provided maximum number of entries and metrics collector.
// Zero maxEntries means the cache is unbounded and entries leave it only by Remove, RemoveFunc or Purge.
// Metrics collector can be nil, in this case, metrics will be disabled.
func New[K comparable, V any](maxEntries int, metricsCollector MetricsCollector) (*LRUCache[K, V], error) {
	if maxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater or equal to 0 (unbounded)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &LRUCache[K, V]{
		maxEntries:       maxEntries,
		lruList:          list.New(),
		cache:            make(map[K]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns a value from the cache by the provided key.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Add adds a value to the cache with the provided key.
// If the cache is full, the least recently used entry will be removed.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = &cacheEntry[K, V]{key: key, value: value}
		return
	}
	c.addNew(key, value)
}

// GetOrAdd returns a value from the cache by the provided key.
// If the key does not exist, valueProvider is called and its result is added to the cache.
// The lookup and the insertion happen under the same lock,
// so concurrent callers with the same key always get the same value and valueProvider is called at most once.
func (c *LRUCache[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, exists = c.get(key); exists {
		return value, exists
	}
	value = valueProvider()
	c.addNew(key, value)
	return value, false
}

// Remove removes a value from the cache by the provided key.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.cache, key)
	c.metricsCollector.SetAmount(len(c.cache))
	return true
}

// Entry is a key-value pair of the cache.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Entries returns a snapshot of all entries ordered from the least to the most recently used one.
// The order of the entries in the cache isn't changed.
func (c *LRUCache[K, V]) Entries() []Entry[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry[K, V], 0, len(c.cache))
	for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry[K, V])
		entries = append(entries, Entry[K, V]{Key: entry.key, Value: entry.value})
	}
	return entries
}

// RemoveFunc removes the entry by the provided key if the predicate returns true for its current value.
// The predicate is called while the cache lock is held, so it must not call other methods of the cache.
func (c *LRUCache[K, V]) RemoveFunc(key K, predicate func(value V) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok || !predicate(elem.Value.(*cacheEntry[K, V]).value) {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.cache, key)
	c.metricsCollector.SetAmount(len(c.cache))
	return true
}

// Purge clears the cache.
// All removed entries will not be counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.cache = make(map[K]*list.Element)
	c.lruList.Init()
}

// Len returns the number of items in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *LRUCache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.cache[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return elem.Value.(*cacheEntry[K, V]).value, true
}

func (c *LRUCache[K, V]) addNew(key K, value V) {
	c.cache[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
	if c.maxEntries == 0 || len(c.cache) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.cache))
		return
	}
	if evictedEntry := c.removeOldest(); evictedEntry != nil {
		c.metricsCollector.AddEvictions(1)
	}
}

func (c *LRUCache[K, V]) removeOldest() *cacheEntry[K, V] {
	elem := c.lruList.Back()
	if elem == nil {
		return nil
	}
	c.lruList.Remove(elem)
	entry := elem.Value.(*cacheEntry[K, V])
	delete(c.cache, entry.key)
	return entry
}
