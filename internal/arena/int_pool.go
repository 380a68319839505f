package arena

import "fmt"

const (
	IntBlockShift = 13
	IntBlockSize  = 1 << IntBlockShift
	IntBlockMask  = IntBlockSize - 1
)

// Int slice level tables. The end marker of a slice at level l is l+1 so a
// zero-filled slot is never mistaken for a marker.
var (
	intLevelSizes = [...]int{2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}
	intNextLevel  = [...]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}
)

// IntBlockPool is an append-only sequence of fixed-size int32 blocks.
type IntBlockPool struct {
	Buffers [][]int32

	Buffer    []int32
	IntUpto   int
	IntOffset int

	bufferUpto int
	allocator  IntAllocator
}

// NewIntBlockPool creates a pool; call NextBuffer before writing.
func NewIntBlockPool(allocator IntAllocator) *IntBlockPool {
	if allocator == nil {
		allocator = NewDirectIntAllocator(IntBlockSize, nil)
	}
	if allocator.BlockSize() != IntBlockSize {
		panic(fmt.Sprintf("arena: int allocator block size %d, want %d", allocator.BlockSize(), IntBlockSize))
	}
	return &IntBlockPool{
		bufferUpto: -1,
		IntUpto:    IntBlockSize,
		IntOffset:  -IntBlockSize,
		allocator:  allocator,
	}
}

// NextBuffer advances to a fresh block.
func (p *IntBlockPool) NextBuffer() {
	if p.bufferUpto+1 == len(p.Buffers) {
		p.Buffers = append(p.Buffers, nil)
	}
	p.bufferUpto++
	p.Buffers[p.bufferUpto] = p.allocator.Allocate()
	p.Buffer = p.Buffers[p.bufferUpto]
	p.IntUpto = 0
	p.IntOffset += IntBlockSize
}

// Reset returns blocks to the allocator; see ByteBlockPool.Reset.
func (p *IntBlockPool) Reset(zeroFill, reuseFirst bool) {
	if p.bufferUpto == -1 {
		return
	}
	if zeroFill {
		for i := 0; i < p.bufferUpto; i++ {
			clear(p.Buffers[i])
		}
		clear(p.Buffers[p.bufferUpto][:p.IntUpto])
	}

	if p.bufferUpto > 0 || !reuseFirst {
		offset := 0
		if reuseFirst {
			offset = 1
		}
		p.allocator.Recycle(p.Buffers[offset : p.bufferUpto+1])
	}

	if reuseFirst {
		p.bufferUpto = 0
		p.IntUpto = 0
		p.IntOffset = 0
		p.Buffer = p.Buffers[0]
	} else {
		p.bufferUpto = -1
		p.IntUpto = IntBlockSize
		p.IntOffset = -IntBlockSize
		p.Buffer = nil
	}
}

func (p *IntBlockPool) newSlice(size int) int {
	if p.IntUpto > IntBlockSize-size {
		p.NextBuffer()
	}
	upto := p.IntUpto
	p.IntUpto += size
	p.Buffer[p.IntUpto-1] = 1
	return upto
}

// allocSlice chains a larger slice to the one whose marker is at
// slice[sliceOffset] and returns the write position in p.Buffer.
func (p *IntBlockPool) allocSlice(slice []int32, sliceOffset int) int {
	level := int(slice[sliceOffset]) - 1
	newLevel := intNextLevel[level]
	newSize := intLevelSizes[newLevel]

	if p.IntUpto > IntBlockSize-newSize {
		p.NextBuffer()
	}
	newUpto := p.IntUpto
	offset := newUpto + p.IntOffset
	p.IntUpto += newSize

	slice[sliceOffset] = int32(offset)
	p.Buffer[p.IntUpto-1] = int32(newLevel + 1)
	return newUpto
}

// Get returns the int at absolute offset.
func (p *IntBlockPool) Get(offset int) int32 {
	return p.Buffers[offset>>IntBlockShift][offset&IntBlockMask]
}
