package arena

import "sync/atomic"

// Counter tracks bytes currently held by pools.
type Counter interface {
	Add(delta int64) int64
	Get() int64
}

// NewCounter returns a Counter for single-goroutine use.
func NewCounter() Counter { return &serialCounter{} }

// NewAtomicCounter returns a Counter safe for concurrent use.
func NewAtomicCounter() Counter { return &atomicCounter{} }

type serialCounter struct{ n int64 }

func (c *serialCounter) Add(delta int64) int64 {
	c.n += delta
	return c.n
}

func (c *serialCounter) Get() int64 { return c.n }

type atomicCounter struct{ n atomic.Int64 }

func (c *atomicCounter) Add(delta int64) int64 { return c.n.Add(delta) }

func (c *atomicCounter) Get() int64 { return c.n.Load() }

// ByteAllocator hands out byte blocks of a fixed size.
type ByteAllocator interface {
	// BlockSize returns the size of every block this allocator returns.
	BlockSize() int
	// Allocate returns a zero-filled block.
	Allocate() []byte
	// Recycle takes back blocks that are no longer referenced.
	Recycle(blocks [][]byte)
}

// IntAllocator hands out int32 blocks of a fixed size.
type IntAllocator interface {
	BlockSize() int
	Allocate() []int32
	Recycle(blocks [][]int32)
}

// DirectByteAllocator allocates fresh blocks and drops recycled ones.
type DirectByteAllocator struct {
	size    int
	counter Counter
}

// NewDirectByteAllocator creates an allocator; counter may be nil.
func NewDirectByteAllocator(blockSize int, counter Counter) *DirectByteAllocator {
	if counter == nil {
		counter = NewCounter()
	}
	return &DirectByteAllocator{size: blockSize, counter: counter}
}

func (a *DirectByteAllocator) BlockSize() int { return a.size }

func (a *DirectByteAllocator) Allocate() []byte {
	a.counter.Add(int64(a.size))
	return make([]byte, a.size)
}

func (a *DirectByteAllocator) Recycle(blocks [][]byte) {
	a.counter.Add(-int64(len(blocks) * a.size))
	for i := range blocks {
		blocks[i] = nil
	}
}

// RecyclingByteAllocator keeps up to maxBuffered blocks on a free list.
// Blocks on the free list still count as used.
type RecyclingByteAllocator struct {
	size        int
	maxBuffered int
	free        [][]byte
	counter     Counter
}

// DefaultMaxBufferedBlocks bounds the free list of recycling allocators.
const DefaultMaxBufferedBlocks = 64

// NewRecyclingByteAllocator creates a recycling allocator; counter may be nil.
func NewRecyclingByteAllocator(blockSize, maxBuffered int, counter Counter) *RecyclingByteAllocator {
	if counter == nil {
		counter = NewCounter()
	}
	if maxBuffered < 0 {
		maxBuffered = 0
	}
	return &RecyclingByteAllocator{size: blockSize, maxBuffered: maxBuffered, counter: counter}
}

func (a *RecyclingByteAllocator) BlockSize() int { return a.size }

func (a *RecyclingByteAllocator) Allocate() []byte {
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		return b
	}
	a.counter.Add(int64(a.size))
	return make([]byte, a.size)
}

// Recycle zero-fills and buffers blocks; the rest are released.
func (a *RecyclingByteAllocator) Recycle(blocks [][]byte) {
	released := 0
	for i, b := range blocks {
		if b == nil {
			continue
		}
		if len(a.free) < a.maxBuffered {
			clear(b)
			a.free = append(a.free, b)
		} else {
			released++
		}
		blocks[i] = nil
	}
	if released > 0 {
		a.counter.Add(-int64(released * a.size))
	}
}

// NumBuffered returns the number of blocks on the free list.
func (a *RecyclingByteAllocator) NumBuffered() int { return len(a.free) }

// FreeBlocks releases up to num buffered blocks and returns how many were freed.
func (a *RecyclingByteAllocator) FreeBlocks(num int) int {
	n := min(num, len(a.free))
	for i := 0; i < n; i++ {
		a.free[len(a.free)-1] = nil
		a.free = a.free[:len(a.free)-1]
	}
	a.counter.Add(-int64(n * a.size))
	return n
}

// DirectIntAllocator allocates fresh int blocks and drops recycled ones.
type DirectIntAllocator struct {
	size    int
	counter Counter
}

// NewDirectIntAllocator creates an allocator; counter may be nil.
func NewDirectIntAllocator(blockSize int, counter Counter) *DirectIntAllocator {
	if counter == nil {
		counter = NewCounter()
	}
	return &DirectIntAllocator{size: blockSize, counter: counter}
}

func (a *DirectIntAllocator) BlockSize() int { return a.size }

func (a *DirectIntAllocator) Allocate() []int32 {
	a.counter.Add(int64(a.size * 4))
	return make([]int32, a.size)
}

func (a *DirectIntAllocator) Recycle(blocks [][]int32) {
	a.counter.Add(-int64(len(blocks) * a.size * 4))
	for i := range blocks {
		blocks[i] = nil
	}
}

// RecyclingIntAllocator keeps up to maxBuffered int blocks on a free list.
type RecyclingIntAllocator struct {
	size        int
	maxBuffered int
	free        [][]int32
	counter     Counter
}

// NewRecyclingIntAllocator creates a recycling allocator; counter may be nil.
func NewRecyclingIntAllocator(blockSize, maxBuffered int, counter Counter) *RecyclingIntAllocator {
	if counter == nil {
		counter = NewCounter()
	}
	if maxBuffered < 0 {
		maxBuffered = 0
	}
	return &RecyclingIntAllocator{size: blockSize, maxBuffered: maxBuffered, counter: counter}
}

func (a *RecyclingIntAllocator) BlockSize() int { return a.size }

func (a *RecyclingIntAllocator) Allocate() []int32 {
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		return b
	}
	a.counter.Add(int64(a.size * 4))
	return make([]int32, a.size)
}

func (a *RecyclingIntAllocator) Recycle(blocks [][]int32) {
	released := 0
	for i, b := range blocks {
		if b == nil {
			continue
		}
		if len(a.free) < a.maxBuffered {
			clear(b)
			a.free = append(a.free, b)
		} else {
			released++
		}
		blocks[i] = nil
	}
	if released > 0 {
		a.counter.Add(-int64(released * a.size * 4))
	}
}

// NumBuffered returns the number of blocks on the free list.
func (a *RecyclingIntAllocator) NumBuffered() int { return len(a.free) }
