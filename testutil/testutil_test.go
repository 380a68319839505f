package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZipf(t *testing.T) {
	rng := NewRNG(4711)

	counts := make([]int, 10)
	for range 2000 {
		v := rng.Zipf(10, 1.5)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 10)
		counts[v]++
	}

	// The head dominates the tail.
	assert.Greater(t, counts[0], counts[9])
}

func TestVocabulary(t *testing.T) {
	words := Vocabulary(100)

	seen := make(map[string]bool)
	for _, w := range words {
		assert.False(t, seen[w], "duplicate word %q", w)
		seen[w] = true
	}
	assert.Equal(t, "wa", words[0])
}

func TestDocGeneratorDeterministic(t *testing.T) {
	a := NewDocGenerator(42).Documents(20)
	b := NewDocGenerator(42).Documents(20)

	for i := range a {
		assert.Equal(t, a[i].Len(), b[i].Len())
		for j := range a[i].Fields {
			assert.Equal(t, a[i].Fields[j].String(), b[i].Fields[j].String())
		}
		id, ok := a[i].Get("id")
		assert.True(t, ok)
		assert.Equal(t, ID(i), id)
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(7)
	first := rng.Int63()
	rng.Reset()
	assert.Equal(t, first, rng.Int63())
	assert.Equal(t, int64(7), rng.Seed())
}
