package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/segdex/internal/packed"
)

// PackedEncoder stores int64 values as offsets from a minimum, packed with
// the narrowest width that fits. With BlockSize > 0 each block of that many
// values gets its own minimum and width.
type PackedEncoder struct {
	BlockSize int
}

var errShortBlock = errors.New("codec: truncated packed block")

func (e PackedEncoder) Name() string {
	if e.BlockSize > 0 {
		return fmt.Sprintf("BlockPacked%d", e.BlockSize)
	}
	return "Packed"
}

func (e PackedEncoder) Encode(dst []byte, values []int64) []byte {
	size := e.BlockSize
	if size <= 0 {
		size = max(len(values), 1)
	}
	deltas := make([]uint64, 0, min(size, len(values)))
	for start := 0; start < len(values); start += size {
		block := values[start:min(start+size, len(values))]
		lo := block[0]
		for _, v := range block {
			lo = min(lo, v)
		}
		deltas = deltas[:0]
		var span uint64
		for _, v := range block {
			d := uint64(v) - uint64(lo)
			span = max(span, d)
			deltas = append(deltas, d)
		}
		bpv := packed.BitsRequired(span)
		dst = binary.AppendVarint(dst, lo)
		dst = append(dst, byte(bpv))
		dst = packed.Append(dst, deltas, bpv)
	}
	return dst
}

func (e PackedEncoder) Decode(src []byte, n int) ([]int64, error) {
	size := e.BlockSize
	if size <= 0 {
		size = max(n, 1)
	}
	out := make([]int64, 0, n)
	for len(out) < n {
		count := min(size, n-len(out))
		lo, k := binary.Varint(src)
		if k <= 0 || k >= len(src) {
			return nil, errShortBlock
		}
		bpv := int(src[k])
		src = src[k+1:]
		nb := packed.ByteCount(count, bpv)
		if nb > len(src) {
			return nil, errShortBlock
		}
		r, err := packed.NewReader(src[:nb], count, bpv)
		if err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			out = append(out, int64(uint64(lo)+r.Get(i)))
		}
		src = src[nb:]
	}
	if len(src) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after packed values", len(src))
	}
	return out, nil
}
