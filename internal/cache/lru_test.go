package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/segdex/internal/resource"
)

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(20, nil)

	c.Set(ctx, Key{File: "_0.tim", Block: 0}, make([]byte, 10))
	c.Set(ctx, Key{File: "_0.tim", Block: 1}, make([]byte, 10))
	_, ok := c.Get(ctx, Key{File: "_0.tim", Block: 0})
	assert.True(t, ok)

	// Block 1 is least recently used.
	c.Set(ctx, Key{File: "_0.doc", Block: 0}, make([]byte, 10))
	_, ok = c.Get(ctx, Key{File: "_0.tim", Block: 1})
	assert.False(t, ok)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Evictions: 1, Bytes: 20, Blocks: 2}, c.Stats())
}

func TestLRUKeepsFirstCopy(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(100, nil)
	k := Key{File: "_0.fdt", Block: 3}

	c.Set(ctx, k, []byte("first"))
	c.Set(ctx, k, []byte("second!"))
	v, ok := c.Get(ctx, k)
	assert.True(t, ok)
	assert.Equal(t, "first", string(v))
	assert.Equal(t, int64(5), c.Stats().Bytes)
}

func TestLRUControllerLimits(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRU(50, rc)

	c.Set(ctx, Key{File: "big"}, make([]byte, 60))
	assert.Zero(t, c.Stats().Bytes)

	c.Set(ctx, Key{File: "a", Block: 1}, make([]byte, 8))
	assert.Equal(t, int64(8), rc.MemoryUsage())

	// The controller has only 2 bytes left.
	c.Set(ctx, Key{File: "a", Block: 2}, make([]byte, 4))
	_, ok := c.Get(ctx, Key{File: "a", Block: 2})
	assert.False(t, ok)

	c.InvalidateFile("a")
	assert.Zero(t, rc.MemoryUsage())
}

func TestLRUInvalidateFile(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(100, nil)
	for i := int64(0); i < 3; i++ {
		c.Set(ctx, Key{File: "_1.fdt", Block: i}, []byte{1})
		c.Set(ctx, Key{File: "_2.fdt", Block: i}, []byte{1})
	}
	c.InvalidateFile("_1.fdt")
	c.InvalidateFile("_9.fdt")

	s := c.Stats()
	assert.Equal(t, int64(3), s.Bytes)
	assert.Equal(t, 3, s.Blocks)
	_, ok := c.Get(ctx, Key{File: "_2.fdt", Block: 2})
	assert.True(t, ok)
	_, ok = c.Get(ctx, Key{File: "_1.fdt", Block: 0})
	assert.False(t, ok)
}
