package index

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/segdex/codec"
)

// bytesPerDeleteTerm approximates the map overhead of one buffered term.
const bytesPerDeleteTerm = 96

type deleteKey struct {
	field string
	term  string
}

func keyOf(t Term) deleteKey { return deleteKey{field: t.Field, term: string(t.Bytes)} }

func compareKeys(a, b deleteKey) int {
	if c := cmp.Compare(a.field, b.field); c != 0 {
		return c
	}
	return cmp.Compare(a.term, b.term)
}

// bufferedDeletes holds delete terms of a segment builder. Each term
// deletes the builder's documents below its limit, which is the number of
// documents published when the delete arrived.
type bufferedDeletes struct {
	terms map[deleteKey]int
	bytes atomic.Int64
}

func newBufferedDeletes() *bufferedDeletes {
	return &bufferedDeletes{terms: make(map[deleteKey]int)}
}

// add buffers t. A later delete of the same term always has a limit at
// least as high, so it replaces the earlier one.
func (d *bufferedDeletes) add(t Term, upto int) {
	k := keyOf(t)
	if _, ok := d.terms[k]; !ok {
		d.bytes.Add(int64(len(k.field)+len(k.term)) + bytesPerDeleteTerm)
	}
	d.terms[k] = upto
}

func (d *bufferedDeletes) len() int { return len(d.terms) }

func (d *bufferedDeletes) bytesUsed() int64 { return d.bytes.Load() }

// deleteTerms looks up every term in fields and calls mark for each
// document below the term's limit. It returns the number of documents for
// which mark reported a new deletion.
func deleteTerms(fields codec.Fields, terms map[deleteKey]int, mark func(doc int) bool) (int, error) {
	if fields == nil || len(terms) == 0 {
		return 0, nil
	}
	keys := make([]deleteKey, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	var (
		deleted int
		field   string
		te      codec.TermsEnum
	)
	for i, k := range keys {
		if i == 0 || k.field != field {
			field = k.field
			te = nil
			t, err := fields.Terms(field)
			if err != nil {
				return deleted, err
			}
			if t != nil {
				if te, err = t.Iterator(); err != nil {
					return deleted, err
				}
			}
		}
		if te == nil {
			continue
		}
		found, err := te.SeekExact([]byte(k.term))
		if err != nil {
			return deleted, err
		}
		if !found {
			continue
		}
		pe, err := te.Postings()
		if err != nil {
			return deleted, err
		}
		limit := terms[k]
		for {
			doc, err := pe.NextDoc()
			if err != nil {
				return deleted, err
			}
			if doc == codec.NoMoreDocs || doc >= limit {
				break
			}
			if mark(doc) {
				deleted++
			}
		}
	}
	return deleted, nil
}

// termLimits maps terms to a common limit.
func termLimits(terms []Term, limit int) map[deleteKey]int {
	m := make(map[deleteKey]int, len(terms))
	for _, t := range terms {
		m[keyOf(t)] = limit
	}
	return m
}
