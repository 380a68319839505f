package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/segdex/document"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63 returns a non-negative pseudo-random int64.
func (r *RNG) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

// Bool returns true with probability p.
func (r *RNG) Bool(p float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64() < p
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	r.rand.Read(b)
	return b
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
// Word frequencies in natural text follow this law.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	// Compute normalization constant (harmonic number with exponent s)
	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	// Sample from uniform and use inverse transform
	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1 // 0-indexed
		}
	}

	return n - 1
}

// Vocabulary returns n distinct lowercase words.
func Vocabulary(n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = word(i)
	}
	return words
}

// word spells i in base 26 with a "w" prefix so words never collide with
// stop lists or numbers.
func word(i int) string {
	var sb strings.Builder
	sb.WriteByte('w')
	for {
		sb.WriteByte(byte('a' + i%26))
		i /= 26
		if i == 0 {
			return sb.String()
		}
	}
}

// Text returns n words drawn from vocab with Zipfian skew.
func (r *RNG) Text(vocab []string, n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	words := make([]string, n)
	for i := range words {
		words[i] = vocab[r.zipfLocked(len(vocab), 1.1)]
	}
	return strings.Join(words, " ")
}

// VectorTextType is an analyzed, stored field with full postings and term
// vectors with positions and offsets.
var VectorTextType = &document.FieldType{
	Tokenized:                true,
	Stored:                   true,
	IndexOptions:             document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets,
	StoreTermVectors:         true,
	StoreTermVectorPositions: true,
	StoreTermVectorOffsets:   true,
}

// DocGenerator produces reproducible random documents covering every
// field kind: an id term, analyzed text with and without vectors, stored
// values of each kind and all doc values types.
type DocGenerator struct {
	rng   *RNG
	vocab []string
	tags  []string
}

// NewDocGenerator creates a generator seeded with seed.
func NewDocGenerator(seed int64) *DocGenerator {
	return &DocGenerator{
		rng:   NewRNG(seed),
		vocab: Vocabulary(500),
		tags:  Vocabulary(12),
	}
}

// ID returns the id field value of the i-th document.
func ID(i int) string { return fmt.Sprintf("doc-%06d", i) }

// Document returns the i-th document. Optional fields are left out at
// random so that segments have sparse columns.
func (g *DocGenerator) Document(i int) *document.Document {
	r := g.rng
	doc := document.New(
		document.NewStringField("id", ID(i), true),
		document.NewTextField("body", r.Text(g.vocab, 5+r.Intn(40)), false),
		document.NewNumericDocValuesField("rank", int64(i)),
	)
	if r.Bool(0.5) {
		doc.Add(document.NewField("title", r.Text(g.vocab, 1+r.Intn(6)), VectorTextType))
	}
	if r.Bool(0.7) {
		doc.Add(document.NewSortedDocValuesField("category", []byte(g.tags[r.Intn(len(g.tags))])))
	}
	for range r.Intn(4) {
		doc.Add(document.NewSortedSetDocValuesField("tags", []byte(g.tags[r.Intn(len(g.tags))])))
	}
	if r.Bool(0.3) {
		doc.Add(document.NewBinaryDocValuesField("blob", r.Bytes(1+r.Intn(16))))
	}
	if r.Bool(0.4) {
		doc.Add(document.NewStoredInt64Field("price", r.Int63()%10000))
		doc.Add(document.NewStoredFloat64Field("score", float64(r.Intn(1000))/7))
	}
	return doc
}

// Documents returns documents 0 through n-1.
func (g *DocGenerator) Documents(n int) []*document.Document {
	docs := make([]*document.Document, n)
	for i := range docs {
		docs[i] = g.Document(i)
	}
	return docs
}
