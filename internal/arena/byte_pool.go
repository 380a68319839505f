package arena

import (
	"encoding/binary"
	"fmt"
)

const (
	ByteBlockShift = 15
	ByteBlockSize  = 1 << ByteBlockShift
	ByteBlockMask  = ByteBlockSize - 1
)

// Slice level tables shared by ByteSliceWriter and ByteSliceReader.
var (
	byteLevelSizes = [...]int{5, 14, 20, 30, 40, 40, 80, 80, 120, 200}
	byteNextLevel  = [...]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 9}
)

// FirstLevelSize is the size of a freshly started byte slice.
var FirstLevelSize = byteLevelSizes[0]

// ByteBlockPool is an append-only sequence of fixed-size byte blocks.
// Positions in the pool are absolute: block index << ByteBlockShift | offset.
//
// The pool is not safe for concurrent use.
type ByteBlockPool struct {
	Buffers [][]byte

	// Buffer is the current head block, ByteUpto the next free byte in it and
	// ByteOffset the absolute offset of its first byte.
	Buffer     []byte
	ByteUpto   int
	ByteOffset int

	bufferUpto int
	allocator  ByteAllocator
}

// NewByteBlockPool creates a pool; call NextBuffer before writing.
func NewByteBlockPool(allocator ByteAllocator) *ByteBlockPool {
	if allocator == nil {
		allocator = NewDirectByteAllocator(ByteBlockSize, nil)
	}
	if allocator.BlockSize() != ByteBlockSize {
		panic(fmt.Sprintf("arena: byte allocator block size %d, want %d", allocator.BlockSize(), ByteBlockSize))
	}
	return &ByteBlockPool{
		bufferUpto: -1,
		ByteUpto:   ByteBlockSize,
		ByteOffset: -ByteBlockSize,
		allocator:  allocator,
	}
}

// NextBuffer advances to a fresh block.
func (p *ByteBlockPool) NextBuffer() {
	if p.bufferUpto+1 == len(p.Buffers) {
		p.Buffers = append(p.Buffers, nil)
	}
	p.bufferUpto++
	p.Buffers[p.bufferUpto] = p.allocator.Allocate()
	p.Buffer = p.Buffers[p.bufferUpto]
	p.ByteUpto = 0
	p.ByteOffset += ByteBlockSize
}

// Reset returns blocks to the allocator. With zeroFill the used region of
// retained blocks is cleared; with reuseFirst the first block stays in place.
func (p *ByteBlockPool) Reset(zeroFill, reuseFirst bool) {
	if p.bufferUpto == -1 {
		return
	}
	if zeroFill {
		for i := 0; i < p.bufferUpto; i++ {
			clear(p.Buffers[i])
		}
		clear(p.Buffers[p.bufferUpto][:p.ByteUpto])
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
		p.ByteUpto = 0
		p.ByteOffset = 0
		p.Buffer = p.Buffers[0]
	} else {
		p.bufferUpto = -1
		p.ByteUpto = ByteBlockSize
		p.ByteOffset = -ByteBlockSize
		p.Buffer = nil
	}
}

// NewSlice allocates a slice of the given size in the current block and
// returns its offset within that block.
func (p *ByteBlockPool) NewSlice(size int) int {
	if p.ByteUpto > ByteBlockSize-size {
		p.NextBuffer()
	}
	upto := p.ByteUpto
	p.ByteUpto += size
	p.Buffer[p.ByteUpto-1] = 16
	return upto
}

// AllocSlice chains a new, larger slice to the slice whose end marker sits at
// slice[upto]. It returns the offset in p.Buffer where writing continues.
func (p *ByteBlockPool) AllocSlice(slice []byte, upto int) int {
	level := int(slice[upto] & 15)
	newLevel := byteNextLevel[level]
	newSize := byteLevelSizes[newLevel]

	if p.ByteUpto > ByteBlockSize-newSize {
		p.NextBuffer()
	}

	newUpto := p.ByteUpto
	offset := newUpto + p.ByteOffset
	p.ByteUpto += newSize

	// The last three data bytes move into the new slice to make room for the
	// forwarding address.
	p.Buffer[newUpto] = slice[upto-3]
	p.Buffer[newUpto+1] = slice[upto-2]
	p.Buffer[newUpto+2] = slice[upto-1]

	binary.BigEndian.PutUint32(slice[upto-3:], uint32(offset))

	p.Buffer[p.ByteUpto-1] = byte(16 | newLevel)
	return newUpto + 3
}

// Append copies b to the end of the pool, spanning blocks as needed.
func (p *ByteBlockPool) Append(b []byte) {
	for len(b) > 0 {
		if p.ByteUpto == ByteBlockSize || p.Buffer == nil {
			p.NextBuffer()
		}
		n := copy(p.Buffer[p.ByteUpto:], b)
		p.ByteUpto += n
		b = b[n:]
	}
}

// ReadBytes copies len(dst) bytes starting at absolute offset into dst.
func (p *ByteBlockPool) ReadBytes(offset int, dst []byte) {
	for len(dst) > 0 {
		block := p.Buffers[offset>>ByteBlockShift]
		pos := offset & ByteBlockMask
		n := copy(dst, block[pos:])
		dst = dst[n:]
		offset += n
	}
}

// Term returns the length-prefixed term stored at absolute textStart.
// The returned slice aliases the pool when the term fits in one block.
func (p *ByteBlockPool) Term(textStart int) []byte {
	block := p.Buffers[textStart>>ByteBlockShift]
	pos := textStart & ByteBlockMask
	if block[pos]&0x80 == 0 {
		n := int(block[pos])
		return block[pos+1 : pos+1+n]
	}
	n := int(block[pos]&0x7f) | int(block[pos+1])<<7
	return block[pos+2 : pos+2+n]
}

// ByteAt returns the byte at absolute offset.
func (p *ByteBlockPool) ByteAt(offset int) byte {
	return p.Buffers[offset>>ByteBlockShift][offset&ByteBlockMask]
}
