package termhash

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/internal/arena"
)

func newHash() *Hash {
	return New(arena.NewByteBlockPool(nil), DefaultCapacity, nil)
}

func TestAddAssignsDenseIDs(t *testing.T) {
	h := newHash()

	seen := map[string]int{}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		term := fmt.Sprintf("t%d", rng.Intn(2000))
		id, added, err := h.Add([]byte(term))
		require.NoError(t, err)
		if prev, ok := seen[term]; ok {
			assert.False(t, added)
			assert.Equal(t, prev, id)
			continue
		}
		assert.True(t, added)
		assert.Equal(t, len(seen), id)
		seen[term] = id
	}

	assert.Equal(t, len(seen), h.Size())
	for term, id := range seen {
		assert.Equal(t, term, string(h.Get(id)))
		assert.Equal(t, id, h.Find([]byte(term)))
	}
	assert.Equal(t, -1, h.Find([]byte("missing")))
}

func TestLongTermsUseTwoBytePrefix(t *testing.T) {
	h := newHash()
	long := strings.Repeat("x", 1000)
	id, added, err := h.Add([]byte(long))
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, long, string(h.Get(id)))

	max := strings.Repeat("y", MaxTermLength)
	id, _, err = h.Add([]byte(max))
	require.NoError(t, err)
	assert.Equal(t, max, string(h.Get(id)))

	_, _, err = h.Add([]byte(strings.Repeat("z", MaxTermLength+1)))
	assert.ErrorIs(t, err, ErrTermTooLong)
}

func TestSortOrdersByUnsignedBytes(t *testing.T) {
	h := newHash()
	terms := []string{"b", "a", "\xff", "ab", "", "aa", "\x01"}
	for _, term := range terms {
		_, _, err := h.Add([]byte(term))
		require.NoError(t, err)
	}

	var got []string
	for _, id := range h.Sort() {
		got = append(got, string(h.Get(id)))
	}
	want := append([]string(nil), terms...)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestClearShrinksAndReuses(t *testing.T) {
	counter := arena.NewCounter()
	h := New(arena.NewByteBlockPool(nil), DefaultCapacity, counter)
	for i := 0; i < 1000; i++ {
		_, _, err := h.Add([]byte(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	grown := counter.Get()

	h.Clear(true)
	assert.Zero(t, h.Size())
	h.Clear(true)
	assert.Less(t, counter.Get(), grown)

	id, added, err := h.Add([]byte("again"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 0, id)
}
