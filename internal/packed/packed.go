// Package packed stores unsigned integers using a fixed number of bits each.
//
// Values are packed little-endian into a contiguous byte slice, so a value
// may straddle up to nine bytes. Readers decode by position without
// unpacking the whole slice.
package packed

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// BitsRequired returns the number of bits needed to store v. Zero needs zero
// bits.
func BitsRequired(v uint64) int {
	return bits.Len64(v)
}

// ByteCount returns the number of bytes needed for n values of bpv bits.
// Padding up to eight bytes is included so readers can use 64-bit loads.
func ByteCount(n, bpv int) int {
	if bpv == 0 || n == 0 {
		return 0
	}
	return (n*bpv+7)/8 + 8
}

// Append packs values with bpv bits each and appends the result to dst.
func Append(dst []byte, values []uint64, bpv int) []byte {
	if bpv < 0 || bpv > 64 {
		panic(fmt.Sprintf("packed: invalid bits per value %d", bpv))
	}
	size := ByteCount(len(values), bpv)
	if size == 0 {
		return dst
	}
	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	out := dst[start:]

	bitPos := 0
	for _, v := range values {
		if bpv < 64 && v>>uint(bpv) != 0 {
			panic(fmt.Sprintf("packed: value %d does not fit in %d bits", v, bpv))
		}
		writeBits(out, bitPos, v, bpv)
		bitPos += bpv
	}
	return dst
}

func writeBits(out []byte, bitPos int, v uint64, bpv int) {
	for bpv > 0 {
		idx := bitPos >> 3
		shift := uint(bitPos & 7)
		n := min(8-int(shift), bpv)
		out[idx] |= byte(v<<shift) & byte(((1<<uint(n))-1)<<shift)
		v >>= uint(n)
		bpv -= n
		bitPos += n
	}
}

// Reader decodes values packed by Append.
type Reader struct {
	data []byte
	bpv  int
	n    int
	mask uint64
}

// NewReader wraps data holding n values of bpv bits.
func NewReader(data []byte, n, bpv int) (*Reader, error) {
	if bpv < 0 || bpv > 64 {
		return nil, fmt.Errorf("packed: invalid bits per value %d", bpv)
	}
	if len(data) < ByteCount(n, bpv) {
		return nil, fmt.Errorf("packed: need %d bytes for %d values of %d bits, have %d", ByteCount(n, bpv), n, bpv, len(data))
	}
	mask := ^uint64(0)
	if bpv < 64 {
		mask = (uint64(1) << uint(bpv)) - 1
	}
	return &Reader{data: data, bpv: bpv, n: n, mask: mask}, nil
}

// Len returns the number of values.
func (r *Reader) Len() int { return r.n }

// BitsPerValue returns the packed width.
func (r *Reader) BitsPerValue() int { return r.bpv }

// Get returns value i.
func (r *Reader) Get(i int) uint64 {
	if r.bpv == 0 {
		return 0
	}
	bitPos := i * r.bpv
	idx := bitPos >> 3
	shift := uint(bitPos & 7)
	lo := binary.LittleEndian.Uint64(r.data[idx:])
	v := lo >> shift
	if int(shift)+r.bpv > 64 {
		v |= uint64(r.data[idx+8]) << (64 - shift)
	}
	return v & r.mask
}
