// Package cache provides an optional, capacity-bounded cache of decoded
// blocks, keyed by file identity and block offset, so a TableReader can
// skip re-reading and re-decoding hot blocks. It has no effect on read
// semantics: a Reader built without a Cache behaves identically to one
// whose cache always misses.
package cache

import (
	"container/list"
	"sync"

	"github.com/sstcore/sstcore/internal/block"
)

// Key identifies a cached block by the file it came from and its offset
// within that file. FileID is caller-assigned; a Reader typically uses a
// counter or the file's inode/path hash.
type Key struct {
	FileID uint64
	Offset uint64
}

// Cache is a fixed-capacity, thread-safe LRU cache of decoded blocks.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key   Key
	block *block.Block
}

// New creates a Cache holding at most capacity blocks. capacity <= 0 means
// unbounded.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached block for key, if present, promoting it to
// most-recently-used.
func (c *Cache) Get(key Key) (*block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).block, true
}

// Put inserts blk under key, evicting the least-recently-used entry if the
// cache is at capacity. A Put for a key already present replaces its value
// and promotes it to most-recently-used.
func (c *Cache) Put(key Key, blk *block.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).block = blk
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, block: blk})
	c.entries[key] = elem

	if c.capacity > 0 {
		for c.order.Len() > c.capacity {
			c.evictOldest()
		}
	}
}

func (c *Cache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.order.Remove(oldest)
	delete(c.entries, oldest.Value.(*cacheEntry).key)
}

// Len returns the number of blocks currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
