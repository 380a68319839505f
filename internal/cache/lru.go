package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/hupe1980/segdex/internal/resource"
)

// LRU evicts the least recently used block once the cached bytes exceed
// its capacity. Blocks are indexed per file so that dropping a deleted
// segment file touches only its own blocks.
type LRU struct {
	mu       sync.Mutex
	capacity int64
	rc       *resource.Controller

	order *list.List
	files map[string]map[int64]*list.Element

	bytes     int64
	blocks    int
	hits      int64
	misses    int64
	evictions int64
}

type block struct {
	key  Key
	data []byte
}

var _ BlockCache = (*LRU)(nil)

// NewLRU returns a cache holding up to capacity bytes. Cached bytes are
// charged to rc when it is not nil.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity: capacity,
		rc:       rc,
		order:    list.New(),
		files:    make(map[string]map[int64]*list.Element),
	}
}

func (c *LRU) lookup(key Key) *list.Element {
	return c.files[key.File][key.Block]
}

// Get returns a cached block and marks it recently used.
func (c *LRU) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(key)
	if e == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(e)
	return e.Value.(*block).data, true
}

// Set caches a block. Blocks larger than the capacity, or denied by the
// resource controller, are not cached.
func (c *LRU) Set(_ context.Context, key Key, b []byte) {
	size := int64(len(b))
	if size > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.lookup(key); e != nil {
		// Blocks of immutable files never change; keep the first copy.
		c.order.MoveToFront(e)
		return
	}
	// Evict first so the released bytes are available to the controller.
	for c.bytes+size > c.capacity && c.order.Len() > 0 {
		c.remove(c.order.Back())
		c.evictions++
	}
	if !c.rc.TryAcquireMemory(size) {
		return
	}
	blocks := c.files[key.File]
	if blocks == nil {
		blocks = make(map[int64]*list.Element)
		c.files[key.File] = blocks
	}
	blocks[key.Block] = c.order.PushFront(&block{key: key, data: b})
	c.bytes += size
	c.blocks++
}

// InvalidateFile drops every cached block of file.
func (c *LRU) InvalidateFile(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.files[file] {
		c.remove(e)
	}
}

func (c *LRU) remove(e *list.Element) {
	b := c.order.Remove(e).(*block)
	blocks := c.files[b.key.File]
	delete(blocks, b.key.Block)
	if len(blocks) == 0 {
		delete(c.files, b.key.File)
	}
	size := int64(len(b.data))
	c.bytes -= size
	c.blocks--
	c.rc.ReleaseMemory(size)
}

// Stats returns the current counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Bytes:     c.bytes,
		Blocks:    c.blocks,
	}
}
