package policy

import (
	"container/list"
	"sync"
)

// defaultCacheCapacity is the selection cache size when none is configured.
const defaultCacheCapacity = 100

// selectionCache is a thread-safe, strictly LRU cache of policy selections.
// Eviction is by recency only; concurrent readers may observe independent
// snapshots, which is acceptable because selections are deterministic for
// a given repository.
type selectionCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = most recently used
	entries  map[string]*list.Element // key → element; element value is *cacheItem
}

type cacheItem struct {
	key string
	sel *Selection
}

func newSelectionCache(capacity int) *selectionCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &selectionCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// get returns the cached selection for key, promoting it to most recent.
func (c *selectionCache) get(key string) (*Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).sel, true
}

// put stores a selection, evicting the least recently used entry when full.
func (c *selectionCache) put(key string, sel *Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheItem).sel = sel
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheItem).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheItem{key: key, sel: sel})
}

// len returns the number of cached selections.
func (c *selectionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// purge empties the cache.
func (c *selectionCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}
