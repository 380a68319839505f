package index

import (
	"bytes"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/termhash"
)

// docValuesWriter buffers one doc values column of a segment builder.
type docValuesWriter interface {
	add(docID int, pf *preparedField)
	flush(c codec.DocValuesConsumer, fi *codec.FieldInfo, maxDoc int) error
}

func newDocValuesWriter(b *segmentBuilder, t document.DocValuesType) docValuesWriter {
	switch t {
	case document.DocValuesNumeric:
		return &numericDVWriter{b: b}
	case document.DocValuesBinary:
		return &binaryDVWriter{b: b}
	case document.DocValuesSorted:
		return &sortedDVWriter{b: b, hash: termhash.New(b.bytePool, termhash.DefaultCapacity, b.counter)}
	default:
		return &sortedSetDVWriter{b: b, hash: termhash.New(b.bytePool, termhash.DefaultCapacity, b.counter)}
	}
}

type numericDVWriter struct {
	b    *segmentBuilder
	docs []int32
	vals []int64
}

func (w *numericDVWriter) add(docID int, pf *preparedField) {
	w.docs = append(w.docs, int32(docID))
	w.vals = append(w.vals, pf.dvNumeric)
	w.b.extraBytes.Add(12)
}

func (w *numericDVWriter) flush(c codec.DocValuesConsumer, fi *codec.FieldInfo, maxDoc int) error {
	v := codec.NewNumericValues(maxDoc)
	for i, doc := range w.docs {
		v.Set(int(doc), w.vals[i])
	}
	return c.AddNumeric(fi, v)
}

type binaryDVWriter struct {
	b    *segmentBuilder
	docs []int32
	vals [][]byte
}

func (w *binaryDVWriter) add(docID int, pf *preparedField) {
	w.docs = append(w.docs, int32(docID))
	w.vals = append(w.vals, pf.dvBytes[0])
	w.b.extraBytes.Add(int64(len(pf.dvBytes[0])) + 28)
}

func (w *binaryDVWriter) flush(c codec.DocValuesConsumer, fi *codec.FieldInfo, maxDoc int) error {
	v := codec.NewBinaryValues(maxDoc)
	for i, doc := range w.docs {
		v.Set(int(doc), w.vals[i])
	}
	return c.AddBinary(fi, v)
}

// sortedDVWriter dedups values through a term hash; ordinals are assigned
// at flush, in sorted value order.
type sortedDVWriter struct {
	b    *segmentBuilder
	hash *termhash.Hash
	docs []int32
	ids  []int32
}

func (w *sortedDVWriter) add(docID int, pf *preparedField) {
	id, _, err := w.hash.Add(pf.dvBytes[0])
	if err != nil {
		// Value lengths are checked while preparing the document.
		panic(err)
	}
	w.docs = append(w.docs, int32(docID))
	w.ids = append(w.ids, int32(id))
	w.b.extraBytes.Add(8)
}

func (w *sortedDVWriter) flush(c codec.DocValuesConsumer, fi *codec.FieldInfo, maxDoc int) error {
	terms, ordOf := sortedDictionary(w.hash)
	ords := make([]int32, maxDoc)
	for i := range ords {
		ords[i] = -1
	}
	for i, doc := range w.docs {
		ords[doc] = int32(ordOf[w.ids[i]])
	}
	v, err := codec.NewSortedValues(terms, ords)
	if err != nil {
		return err
	}
	return c.AddSorted(fi, v)
}

type sortedSetDVWriter struct {
	b      *segmentBuilder
	hash   *termhash.Hash
	docs   []int32
	starts []int
	ids    []int32
}

func (w *sortedSetDVWriter) add(docID int, pf *preparedField) {
	w.docs = append(w.docs, int32(docID))
	w.starts = append(w.starts, len(w.ids))
	for _, v := range pf.dvBytes {
		id, _, err := w.hash.Add(v)
		if err != nil {
			panic(err)
		}
		w.ids = append(w.ids, int32(id))
	}
	w.b.extraBytes.Add(int64(12 + 4*len(pf.dvBytes)))
}

func (w *sortedSetDVWriter) flush(c codec.DocValuesConsumer, fi *codec.FieldInfo, maxDoc int) error {
	terms, ordOf := sortedDictionary(w.hash)
	docOrds := make([][]int, maxDoc)
	for i, doc := range w.docs {
		end := len(w.ids)
		if i+1 < len(w.starts) {
			end = w.starts[i+1]
		}
		for _, id := range w.ids[w.starts[i]:end] {
			docOrds[doc] = append(docOrds[doc], ordOf[id])
		}
	}
	v, err := codec.NewSortedSetValues(terms, docOrds)
	if err != nil {
		return err
	}
	return c.AddSortedSet(fi, v)
}

// sortedDictionary sorts the hash and returns the values in order plus the
// ordinal of every term id. The values are copied out of the pool.
func sortedDictionary(h *termhash.Hash) ([][]byte, []int) {
	ordOf := make([]int, h.Size())
	ids := h.Sort()
	terms := make([][]byte, len(ids))
	for ord, id := range ids {
		terms[ord] = bytes.Clone(h.Get(id))
		ordOf[id] = ord
	}
	return terms, ordOf
}
