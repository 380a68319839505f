// Package termhash maps term bytes to dense ids, storing the bytes in an
// arena.ByteBlockPool.
package termhash

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/segdex/internal/arena"
	"github.com/hupe1980/segdex/internal/hash"
)

// MaxTermLength is the longest term the hash accepts. A term and its two
// byte length prefix must fit in one pool block.
const MaxTermLength = arena.ByteBlockSize - 2

// DefaultCapacity is the initial number of hash slots.
const DefaultCapacity = 16

// ErrTermTooLong is returned by Add for terms longer than MaxTermLength.
var ErrTermTooLong = errors.New("termhash: term too long")

const bytesPerSlot = 8

// Hash assigns ids 0, 1, 2, ... to distinct terms in insertion order.
//
// Hash is not safe for concurrent use.
type Hash struct {
	pool       *arena.ByteBlockPool
	bytesStart []int
	ids        []int
	count      int
	lastCount  int
	hashSize   int
	hashMask   int
	hashHalf   int
	counter    arena.Counter
}

// New creates a hash with the given power-of-two capacity over pool.
// counter tracks the bytes held by the slot table; it may be nil.
func New(pool *arena.ByteBlockPool, capacity int, counter arena.Counter) *Hash {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("termhash: capacity %d is not a power of two", capacity))
	}
	if counter == nil {
		counter = arena.NewCounter()
	}
	h := &Hash{
		pool:      pool,
		lastCount: -1,
		counter:   counter,
	}
	h.resize(capacity)
	return h
}

func (h *Hash) resize(size int) {
	h.ids = newSlots(size)
	h.hashSize = size
	h.hashMask = size - 1
	h.hashHalf = size / 2
	h.counter.Add(int64(size * bytesPerSlot))
}

func newSlots(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = -1
	}
	return s
}

// Size returns the number of distinct terms.
func (h *Hash) Size() int { return h.count }

// Pool returns the pool holding the term bytes.
func (h *Hash) Pool() *arena.ByteBlockPool { return h.pool }

// Add inserts term if absent. It returns the term's id and whether it was
// newly added.
func (h *Hash) Add(term []byte) (int, bool, error) {
	pos := h.findSlot(term)
	if e := h.ids[pos]; e != -1 {
		return e, false, nil
	}

	n := len(term)
	if n > MaxTermLength {
		return 0, false, fmt.Errorf("%w: %d bytes, max %d", ErrTermTooLong, n, MaxTermLength)
	}
	if h.pool.Buffer == nil || n+2+h.pool.ByteUpto > arena.ByteBlockSize {
		h.pool.NextBuffer()
	}

	buf := h.pool.Buffer
	upto := h.pool.ByteUpto
	e := h.count
	h.count++
	h.bytesStart = append(h.bytesStart, upto+h.pool.ByteOffset)

	if n < 128 {
		buf[upto] = byte(n)
		copy(buf[upto+1:], term)
		h.pool.ByteUpto += n + 1
	} else {
		buf[upto] = byte(0x80 | (n & 0x7f))
		buf[upto+1] = byte(n >> 7)
		copy(buf[upto+2:], term)
		h.pool.ByteUpto += n + 2
	}
	h.ids[pos] = e

	if h.count == h.hashHalf {
		h.rehash(2 * h.hashSize)
	}
	return e, true, nil
}

// Find returns the id of term or -1.
func (h *Hash) Find(term []byte) int {
	return h.ids[h.findSlot(term)]
}

// Get returns the bytes of the term with the given id. The slice aliases
// the pool and is valid until the next Clear.
func (h *Hash) Get(id int) []byte {
	return h.pool.Term(h.bytesStart[id])
}

// ByteStart returns the absolute pool offset of the term's length prefix.
func (h *Hash) ByteStart(id int) int { return h.bytesStart[id] }

// Sort returns the ids ordered by unsigned byte comparison of their terms.
// The hash must be cleared before further use.
func (h *Hash) Sort() []int {
	ids := h.compact()
	slices.SortFunc(ids, func(a, b int) int {
		return bytes.Compare(h.Get(a), h.Get(b))
	})
	return ids
}

func (h *Hash) compact() []int {
	upto := 0
	for i := 0; i < h.hashSize; i++ {
		if h.ids[i] != -1 {
			if upto < i {
				h.ids[upto] = h.ids[i]
				h.ids[i] = -1
			}
			upto++
		}
	}
	h.lastCount = h.count
	return h.ids[:h.count]
}

// Clear drops every term. With resetPool the byte pool is reset as well.
func (h *Hash) Clear(resetPool bool) {
	h.lastCount = h.count
	h.count = 0
	h.bytesStart = h.bytesStart[:0]
	if resetPool {
		h.pool.Reset(false, false)
	}
	if h.lastCount != -1 && h.shrink(h.lastCount) {
		return
	}
	for i := range h.ids {
		h.ids[i] = -1
	}
}

func (h *Hash) shrink(target int) bool {
	newSize := h.hashSize
	for newSize >= 8 && newSize/4 > target {
		newSize /= 2
	}
	if newSize == h.hashSize {
		return false
	}
	h.counter.Add(-int64(h.hashSize * bytesPerSlot))
	h.resize(newSize)
	return true
}

func (h *Hash) findSlot(term []byte) int {
	code := int(hash.Murmur3(term, hash.DefaultSeed))
	pos := code & h.hashMask
	for {
		e := h.ids[pos]
		if e == -1 || bytes.Equal(h.Get(e), term) {
			return pos
		}
		code++
		pos = code & h.hashMask
	}
}

func (h *Hash) rehash(newSize int) {
	newMask := newSize - 1
	slots := newSlots(newSize)
	for _, e := range h.ids {
		if e == -1 {
			continue
		}
		code := int(hash.Murmur3(h.Get(e), hash.DefaultSeed))
		pos := code & newMask
		for slots[pos] != -1 {
			code++
			pos = code & newMask
		}
		slots[pos] = e
	}
	h.counter.Add(int64((newSize - h.hashSize) * bytesPerSlot))
	h.ids = slots
	h.hashSize = newSize
	h.hashMask = newMask
	h.hashHalf = newSize / 2
}
