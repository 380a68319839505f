package packed

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitsRequired(t *testing.T) {
	assert.Equal(t, 0, BitsRequired(0))
	assert.Equal(t, 1, BitsRequired(1))
	assert.Equal(t, 8, BitsRequired(255))
	assert.Equal(t, 9, BitsRequired(256))
	assert.Equal(t, 64, BitsRequired(^uint64(0)))
}

func TestPackEveryWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for bpv := 0; bpv <= 64; bpv++ {
		values := make([]uint64, 1+rng.Intn(300))
		for i := range values {
			v := rng.Uint64()
			if bpv < 64 {
				v &= (uint64(1) << uint(bpv)) - 1
			}
			values[i] = v
		}

		prefix := []byte{0xAA, 0xBB}
		data := Append(prefix, values, bpv)
		r, err := NewReader(data[len(prefix):], len(values), bpv)
		require.NoError(t, err)
		for i, v := range values {
			require.Equal(t, v, r.Get(i), "bpv=%d i=%d", bpv, i)
		}
	}
}

func TestAppendRejectsOversizedValue(t *testing.T) {
	assert.Panics(t, func() { Append(nil, []uint64{8}, 3) })
}

func TestNewReaderShortData(t *testing.T) {
	_, err := NewReader(make([]byte, 3), 10, 7)
	assert.Error(t, err)
}
