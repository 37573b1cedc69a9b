package storage

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry represents a cached item with expiration
type CacheEntry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// LRUCache is a thread-safe LRU cache with TTL support. Entries may carry
// their own TTL through SetWithTTL; Set uses the cache default.
type LRUCache[V any] struct {
	mu           sync.Mutex
	capacity     int
	ttl          time.Duration
	items        map[string]*list.Element
	evictionList *list.List
	now          func() time.Time
}

// NewLRUCache creates a new LRU cache
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	return &LRUCache[V]{
		capacity:     capacity,
		ttl:          ttl,
		items:        make(map[string]*list.Element, capacity),
		evictionList: list.New(),
		now:          time.Now,
	}
}

// Get retrieves an item from the cache
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
		return zero, false
	}

	entry := elem.Value.(*CacheEntry[V])
	if c.now().After(entry.ExpiresAt) {
		c.removeElement(elem)
		return zero, false
	}

	c.evictionList.MoveToFront(elem)
	return entry.Value, true
}

// Take retrieves and removes an item in one step. It is how single-use
// entries are consumed.
func (c *LRUCache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
		return zero, false
	}
	entry := elem.Value.(*CacheEntry[V])
	c.removeElement(elem)
	if c.now().After(entry.ExpiresAt) {
		return zero, false
	}
	return entry.Value, true
}

// Set adds or updates an item in the cache
func (c *LRUCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL adds or updates an item with an explicit lifetime.
func (c *LRUCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if elem, found := c.items[key]; found {
		c.evictionList.MoveToFront(elem)
		entry := elem.Value.(*CacheEntry[V])
		entry.Value = value
		entry.ExpiresAt = expiresAt
		return
	}

	elem := c.evictionList.PushFront(&CacheEntry[V]{
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
	})
	c.items[key] = elem

	if c.evictionList.Len() > c.capacity {
		c.removeOldest()
	}
}

// Delete removes an item from the cache
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		c.removeElement(elem)
	}
}

// Clear removes all items from the cache
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.capacity)
	c.evictionList.Init()
}

// Len returns the current number of items in the cache
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictionList.Len()
}

func (c *LRUCache[V]) removeOldest() {
	elem := c.evictionList.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRUCache[V]) removeElement(elem *list.Element) {
	c.evictionList.Remove(elem)
	entry := elem.Value.(*CacheEntry[V])
	delete(c.items, entry.Key)
}

// CleanupExpired removes all expired items (should be called periodically)
func (c *LRUCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	var next *list.Element
	for elem := c.evictionList.Back(); elem != nil; elem = next {
		next = elem.Prev()
		entry := elem.Value.(*CacheEntry[V])

		if now.After(entry.ExpiresAt) {
			c.removeElement(elem)
			removed++
		}
	}

	return removed
}

// CacheStats describes cache occupancy
type CacheStats struct {
	Capacity int
	Size     int
	TTL      time.Duration
}

// GetStats returns current cache statistics
func (c *LRUCache[V]) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Capacity: c.capacity,
		Size:     c.evictionList.Len(),
		TTL:      c.ttl,
	}
}
