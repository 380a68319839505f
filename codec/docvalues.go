package codec

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// NumericValues is an int64 column. Documents without a value read as
// missing.
type NumericValues struct {
	docs   *roaring.Bitmap
	values []int64
}

// NewNumericValues creates an empty column for maxDoc documents.
func NewNumericValues(maxDoc int) *NumericValues {
	return &NumericValues{docs: roaring.New(), values: make([]int64, maxDoc)}
}

// Set assigns the value of doc.
func (v *NumericValues) Set(doc int, value int64) {
	v.docs.Add(uint32(doc))
	v.values[doc] = value
}

// Get returns the value of doc.
func (v *NumericValues) Get(doc int) (int64, bool) {
	if doc < 0 || doc >= len(v.values) || !v.docs.Contains(uint32(doc)) {
		return 0, false
	}
	return v.values[doc], true
}

// MaxDoc returns the column length.
func (v *NumericValues) MaxDoc() int { return len(v.values) }

// Docs returns the documents with a value. Do not modify it.
func (v *NumericValues) Docs() *roaring.Bitmap { return v.docs }

// BinaryValues is a byte-slice column.
type BinaryValues struct {
	docs   *roaring.Bitmap
	values [][]byte
}

// NewBinaryValues creates an empty column for maxDoc documents.
func NewBinaryValues(maxDoc int) *BinaryValues {
	return &BinaryValues{docs: roaring.New(), values: make([][]byte, maxDoc)}
}

// Set assigns the value of doc. The column keeps value.
func (v *BinaryValues) Set(doc int, value []byte) {
	v.docs.Add(uint32(doc))
	v.values[doc] = value
}

// Get returns the value of doc. The slice must not be modified.
func (v *BinaryValues) Get(doc int) ([]byte, bool) {
	if doc < 0 || doc >= len(v.values) || !v.docs.Contains(uint32(doc)) {
		return nil, false
	}
	return v.values[doc], true
}

func (v *BinaryValues) MaxDoc() int { return len(v.values) }

func (v *BinaryValues) Docs() *roaring.Bitmap { return v.docs }

// SortedValues is a single-valued column of byte values, stored as ordinals
// into a sorted dictionary of unique values.
type SortedValues struct {
	terms [][]byte
	ords  []int32 // -1 when missing
}

// NewSortedValues creates a column from a sorted, duplicate-free dictionary
// and per-document ordinals (-1 for missing).
func NewSortedValues(terms [][]byte, ords []int32) (*SortedValues, error) {
	if err := checkSortedTerms(terms); err != nil {
		return nil, err
	}
	for doc, o := range ords {
		if o < -1 || int(o) >= len(terms) {
			return nil, fmt.Errorf("codec: doc %d has ordinal %d outside [0,%d)", doc, o, len(terms))
		}
	}
	return &SortedValues{terms: terms, ords: ords}, nil
}

// BuildSortedValues creates a column from per-document values; nil entries
// are missing.
func BuildSortedValues(values [][]byte) *SortedValues {
	terms := make([][]byte, 0, len(values))
	for _, v := range values {
		if v != nil {
			terms = append(terms, v)
		}
	}
	terms = sortUnique(terms)
	ords := make([]int32, len(values))
	for doc, v := range values {
		if v == nil {
			ords[doc] = -1
			continue
		}
		i, _ := slices.BinarySearchFunc(terms, v, bytes.Compare)
		ords[doc] = int32(i)
	}
	return &SortedValues{terms: terms, ords: ords}
}

// Ord returns the ordinal of doc's value, or -1.
func (v *SortedValues) Ord(doc int) int {
	if doc < 0 || doc >= len(v.ords) {
		return -1
	}
	return int(v.ords[doc])
}

// Get returns doc's value.
func (v *SortedValues) Get(doc int) ([]byte, bool) {
	o := v.Ord(doc)
	if o < 0 {
		return nil, false
	}
	return v.terms[o], true
}

// LookupOrd returns the value of an ordinal.
func (v *SortedValues) LookupOrd(ord int) []byte { return v.terms[ord] }

// ValueCount returns the dictionary size.
func (v *SortedValues) ValueCount() int { return len(v.terms) }

func (v *SortedValues) MaxDoc() int { return len(v.ords) }

// SortedSetValues is a multi-valued column of byte values. Each document
// holds a sorted set of ordinals.
type SortedSetValues struct {
	terms  [][]byte
	starts []int // len maxDoc+1
	ords   []int
}

// BuildSortedSetValues creates a column from per-document value lists.
// Duplicate values within a document collapse.
func BuildSortedSetValues(values [][][]byte) *SortedSetValues {
	var all [][]byte
	for _, vs := range values {
		all = append(all, vs...)
	}
	terms := sortUnique(all)
	sv := &SortedSetValues{terms: terms, starts: make([]int, 1, len(values)+1)}
	for _, vs := range values {
		start := len(sv.ords)
		for _, v := range vs {
			i, _ := slices.BinarySearchFunc(terms, v, bytes.Compare)
			sv.ords = append(sv.ords, i)
		}
		docOrds := sv.ords[start:]
		slices.Sort(docOrds)
		sv.ords = sv.ords[:start+len(slices.Compact(docOrds))]
		sv.starts = append(sv.starts, len(sv.ords))
	}
	return sv
}

// NewSortedSetValues creates a column from a sorted dictionary and
// per-document ordinal lists, which are sorted and deduplicated.
func NewSortedSetValues(terms [][]byte, docOrds [][]int) (*SortedSetValues, error) {
	if err := checkSortedTerms(terms); err != nil {
		return nil, err
	}
	sv := &SortedSetValues{terms: terms, starts: make([]int, 1, len(docOrds)+1)}
	for doc, os := range docOrds {
		start := len(sv.ords)
		for _, o := range os {
			if o < 0 || o >= len(terms) {
				return nil, fmt.Errorf("codec: doc %d has ordinal %d outside [0,%d)", doc, o, len(terms))
			}
			sv.ords = append(sv.ords, o)
		}
		d := sv.ords[start:]
		slices.Sort(d)
		sv.ords = sv.ords[:start+len(slices.Compact(d))]
		sv.starts = append(sv.starts, len(sv.ords))
	}
	return sv, nil
}

// Ords returns the sorted ordinals of doc. The slice must not be modified.
func (v *SortedSetValues) Ords(doc int) []int {
	if doc < 0 || doc+1 >= len(v.starts) {
		return nil
	}
	return v.ords[v.starts[doc]:v.starts[doc+1]]
}

// LookupOrd returns the value of an ordinal.
func (v *SortedSetValues) LookupOrd(ord int) []byte { return v.terms[ord] }

func (v *SortedSetValues) ValueCount() int { return len(v.terms) }

func (v *SortedSetValues) MaxDoc() int { return len(v.starts) - 1 }

func sortUnique(terms [][]byte) [][]byte {
	slices.SortFunc(terms, bytes.Compare)
	return slices.CompactFunc(terms, bytes.Equal)
}

func checkSortedTerms(terms [][]byte) error {
	for i := 1; i < len(terms); i++ {
		if bytes.Compare(terms[i-1], terms[i]) >= 0 {
			return fmt.Errorf("codec: dictionary not sorted at %d", i)
		}
	}
	return nil
}
