package bitset

import (
	"fmt"
	"math/bits"
)

// BitSet is a fixed-length set of bits indexed from 0 to Len()-1.
type BitSet struct {
	words  []uint64
	length int
}

// New creates a set of n clear bits.
func New(n int) *BitSet {
	return &BitSet{words: make([]uint64, wordCount(n)), length: n}
}

// NewAllSet creates a set of n set bits.
func NewAllSet(n int) *BitSet {
	b := New(n)
	for i := range b.words {
		b.words[i] = ^uint64(0)
	}
	b.clearTail()
	return b
}

func wordCount(n int) int { return (n + 63) >> 6 }

func (b *BitSet) clearTail() {
	if r := b.length & 63; r != 0 {
		b.words[len(b.words)-1] &= (uint64(1) << r) - 1
	}
}

// Len returns the number of addressable bits.
func (b *BitSet) Len() int { return b.length }

func (b *BitSet) check(i int) {
	if i < 0 || i >= b.length {
		panic(fmt.Sprintf("bitset: index %d out of range [0,%d)", i, b.length))
	}
}

// Get reports whether bit i is set.
func (b *BitSet) Get(i int) bool {
	b.check(i)
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Set sets bit i.
func (b *BitSet) Set(i int) {
	b.check(i)
	b.words[i>>6] |= 1 << (uint(i) & 63)
}

// Clear clears bit i.
func (b *BitSet) Clear(i int) {
	b.check(i)
	b.words[i>>6] &^= 1 << (uint(i) & 63)
}

// GetAndClear clears bit i and reports whether it was set.
func (b *BitSet) GetAndClear(i int) bool {
	b.check(i)
	w := i >> 6
	mask := uint64(1) << (uint(i) & 63)
	was := b.words[w]&mask != 0
	b.words[w] &^= mask
	return was
}

// Cardinality returns the number of set bits.
func (b *BitSet) Cardinality() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// NextSetBit returns the first set bit at or after i, or -1.
func (b *BitSet) NextSetBit(i int) int {
	if i >= b.length {
		return -1
	}
	if i < 0 {
		i = 0
	}
	w := i >> 6
	word := b.words[w] >> (uint(i) & 63)
	if word != 0 {
		return i + bits.TrailingZeros64(word)
	}
	for w++; w < len(b.words); w++ {
		if b.words[w] != 0 {
			return w<<6 + bits.TrailingZeros64(b.words[w])
		}
	}
	return -1
}

// NextClearBit returns the first clear bit at or after i, or -1.
func (b *BitSet) NextClearBit(i int) int {
	for ; i < b.length; i++ {
		w := i >> 6
		if b.words[w] == ^uint64(0) {
			i = w<<6 + 63
			continue
		}
		if b.words[w]&(1<<(uint(i)&63)) == 0 {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy.
func (b *BitSet) Clone() *BitSet {
	words := make([]uint64, len(b.words))
	copy(words, b.words)
	return &BitSet{words: words, length: b.length}
}

// Equal reports whether both sets have the same length and bits.
func (b *BitSet) Equal(o *BitSet) bool {
	if b.length != o.length {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}
