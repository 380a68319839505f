package queue

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapPopsInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := New(0, func(a, b int) bool { return a < b })
	var want []int
	for i := 0; i < 500; i++ {
		v := rng.Intn(100)
		h.Push(v)
		want = append(want, v)
	}
	slices.Sort(want)

	got := make([]int, 0, len(want))
	for h.Len() > 0 {
		v, ok := h.Pop()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, want, got)

	_, ok := h.Pop()
	assert.False(t, ok)
}

func TestHeapFixAfterTopChange(t *testing.T) {
	type item struct{ key int }
	h := New(3, func(a, b *item) bool { return a.key < b.key })
	a, b, c := &item{1}, &item{2}, &item{3}
	h.Push(c)
	h.Push(a)
	h.Push(b)

	top, _ := h.Top()
	require.Same(t, a, top)
	a.key = 10
	h.Fix()

	top, _ = h.Top()
	assert.Same(t, b, top)
}
