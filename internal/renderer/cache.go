package renderer

import (
	"container/list"
	"sync"
)

// Cache is a bounded in-memory LRU cache of rendered artifacts. Eviction is
// least-recently-used by last access and never blocks an in-flight render:
// all operations are short map/list manipulations under one mutex.
//
// The cache is transient by design - every entry can be rebuilt from the
// source document at any time.
type Cache struct {
	mu sync.Mutex

	// maxEntries bounds the entry count (0 = unlimited).
	maxEntries int

	// maxBytes bounds the total payload size (0 = unlimited).
	maxBytes int

	entries  map[Key]*list.Element
	order    *list.List // front = most recently used
	curBytes int
}

type cacheEntry struct {
	key      Key
	artifact Artifact
}

// NewCache creates a Cache bounded by entry count and/or total bytes.
func NewCache(maxEntries, maxBytes int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[Key]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached artifact for key, refreshing its recency.
func (c *Cache) Get(key Key) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Artifact{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).artifact, true
}

// Put stores an artifact and evicts the least recently used entries until
// the configured bounds hold again.
func (c *Cache) Put(key Key, a Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		c.curBytes += a.Size() - entry.artifact.Size()
		entry.artifact = a
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&cacheEntry{key: key, artifact: a})
		c.entries[key] = el
		c.curBytes += a.Size()
	}

	c.evictOverflow()
}

// evictOverflow removes LRU entries until bounds hold. Caller holds mu.
func (c *Cache) evictOverflow() {
	for c.overLimit() {
		back := c.order.Back()
		if back == nil || back == c.order.Front() {
			// The most recent entry always stays, even when it alone
			// exceeds the byte budget.
			return
		}
		c.removeElement(back)
	}
}

func (c *Cache) overLimit() bool {
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		return true
	}
	if c.maxBytes > 0 && c.curBytes > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) removeElement(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
	c.curBytes -= entry.artifact.Size()
}

// InvalidateDocument evicts every entry belonging to the document.
func (c *Cache) InvalidateDocument(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if string(el.Value.(*cacheEntry).key.DocumentID) == docID {
			c.removeElement(el)
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the total cached payload size.
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
