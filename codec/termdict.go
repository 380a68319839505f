package codec

import (
	"context"
	"encoding/binary"
	"io"
)

// TermMeta locates a term's postings.
type TermMeta struct {
	DocFreq int
	// TotalTermFreq equals DocFreq when frequencies are not indexed.
	TotalTermFreq int64
	DocStart      int64
	PosStart      int64
}

// FieldStats are the per-field statistics stored in a term dictionary.
type FieldStats struct {
	NumTerms         int64
	DocCount         int
	SumDocFreq       int64
	SumTotalTermFreq int64
}

// TermDictFormat maps terms to TermMeta. It is the pluggable part of the
// postings format.
type TermDictFormat interface {
	Name() string
	NewWriter(ctx context.Context, state *SegmentWriteState) (TermDictWriter, error)
	NewReader(ctx context.Context, state *SegmentReadState) (TermDictReader, error)
}

// TermDictWriter receives fields in sorted order and, per field, terms in
// unsigned byte order.
type TermDictWriter interface {
	StartField(fi *FieldInfo) error
	AddTerm(term []byte, meta TermMeta) error
	FinishField(stats FieldStats) error
	Close() error
	Abort()
}

// TermDictReader gives access to the dictionaries of a segment's fields.
type TermDictReader interface {
	// Field returns the dictionary of a field, or nil.
	Field(name string) FieldTermDict
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// FieldTermDict is the dictionary of one field.
type FieldTermDict interface {
	Stats() FieldStats
	Iterator() (TermDictIterator, error)
}

// TermDictIterator walks a field dictionary.
type TermDictIterator interface {
	// Next returns the next term. ok is false once the dictionary is
	// exhausted; the empty term is a valid term.
	Next() (term []byte, ok bool, err error)
	SeekExact(term []byte) (bool, error)
	Term() []byte
	Meta() TermMeta
}

// AppendTermMeta encodes m as a delta against prev. Pass a zero prev for a
// self-contained encoding.
func AppendTermMeta(dst []byte, m, prev TermMeta, fi *FieldInfo) []byte {
	dst = binary.AppendUvarint(dst, uint64(m.DocFreq))
	if fi.IndexOptions.HasFreqs() {
		dst = binary.AppendUvarint(dst, uint64(m.TotalTermFreq-int64(m.DocFreq)))
	}
	dst = binary.AppendUvarint(dst, uint64(m.DocStart-prev.DocStart))
	if fi.IndexOptions.HasPositions() {
		dst = binary.AppendUvarint(dst, uint64(m.PosStart-prev.PosStart))
	}
	return dst
}

// ReadTermMeta decodes a TermMeta written by AppendTermMeta.
func ReadTermMeta(r io.ByteReader, prev TermMeta, fi *FieldInfo) (TermMeta, error) {
	var m TermMeta
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return m, err
	}
	m.DocFreq = int(v)
	m.TotalTermFreq = int64(v)
	if fi.IndexOptions.HasFreqs() {
		if v, err = binary.ReadUvarint(r); err != nil {
			return m, err
		}
		m.TotalTermFreq += int64(v)
	}
	if v, err = binary.ReadUvarint(r); err != nil {
		return m, err
	}
	m.DocStart = prev.DocStart + int64(v)
	m.PosStart = prev.PosStart
	if fi.IndexOptions.HasPositions() {
		if v, err = binary.ReadUvarint(r); err != nil {
			return m, err
		}
		m.PosStart += int64(v)
	}
	return m, nil
}

// AppendFieldStats encodes stats.
func AppendFieldStats(dst []byte, s FieldStats) []byte {
	dst = binary.AppendUvarint(dst, uint64(s.NumTerms))
	dst = binary.AppendUvarint(dst, uint64(s.DocCount))
	dst = binary.AppendUvarint(dst, uint64(s.SumDocFreq))
	return binary.AppendUvarint(dst, uint64(s.SumTotalTermFreq))
}

// ReadFieldStats decodes stats written by AppendFieldStats.
func ReadFieldStats(r io.ByteReader) (FieldStats, error) {
	var vals [4]uint64
	for i := range vals {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return FieldStats{}, err
		}
		vals[i] = v
	}
	return FieldStats{
		NumTerms:         int64(vals[0]),
		DocCount:         int(vals[1]),
		SumDocFreq:       int64(vals[2]),
		SumTotalTermFreq: int64(vals[3]),
	}, nil
}
