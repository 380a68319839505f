package document

import (
	"errors"
	"fmt"
)

// ErrInvalidFieldType is returned by FieldType.Validate.
var ErrInvalidFieldType = errors.New("document: invalid field type")

// IndexOptions controls what the inverted index records for a field.
// Options are ordered; each level includes everything below it.
type IndexOptions uint8

const (
	IndexOptionsNone IndexOptions = iota
	IndexOptionsDocs
	IndexOptionsDocsAndFreqs
	IndexOptionsDocsAndFreqsAndPositions
	IndexOptionsDocsAndFreqsAndPositionsAndOffsets
)

// HasFreqs reports whether term frequencies are recorded.
func (o IndexOptions) HasFreqs() bool { return o >= IndexOptionsDocsAndFreqs }

// HasPositions reports whether positions are recorded.
func (o IndexOptions) HasPositions() bool { return o >= IndexOptionsDocsAndFreqsAndPositions }

// HasOffsets reports whether character offsets are recorded.
func (o IndexOptions) HasOffsets() bool { return o >= IndexOptionsDocsAndFreqsAndPositionsAndOffsets }

func (o IndexOptions) String() string {
	switch o {
	case IndexOptionsNone:
		return "none"
	case IndexOptionsDocs:
		return "docs"
	case IndexOptionsDocsAndFreqs:
		return "docs_freqs"
	case IndexOptionsDocsAndFreqsAndPositions:
		return "docs_freqs_positions"
	case IndexOptionsDocsAndFreqsAndPositionsAndOffsets:
		return "docs_freqs_positions_offsets"
	default:
		return fmt.Sprintf("IndexOptions(%d)", uint8(o))
	}
}

// DocValuesType is the kind of per-document column a field carries.
type DocValuesType uint8

const (
	DocValuesNone DocValuesType = iota
	DocValuesNumeric
	DocValuesBinary
	DocValuesSorted
	DocValuesSortedSet
)

func (t DocValuesType) String() string {
	switch t {
	case DocValuesNone:
		return "none"
	case DocValuesNumeric:
		return "numeric"
	case DocValuesBinary:
		return "binary"
	case DocValuesSorted:
		return "sorted"
	case DocValuesSortedSet:
		return "sorted_set"
	default:
		return fmt.Sprintf("DocValuesType(%d)", uint8(t))
	}
}

// FieldType describes how a field is indexed, stored and columnized.
// A FieldType must not be modified after a field using it was added to a
// writer.
type FieldType struct {
	// Tokenized runs string values through the analyzer. Untokenized strings
	// are indexed as a single term.
	Tokenized bool
	// Stored keeps the original value for retrieval.
	Stored bool
	// IndexOptions selects what the postings record. None means the field is
	// not indexed.
	IndexOptions IndexOptions

	StoreTermVectors         bool
	StoreTermVectorPositions bool
	StoreTermVectorOffsets   bool
	StoreTermVectorPayloads  bool

	// OmitNorms skips the per-document field length.
	OmitNorms bool

	DocValuesType DocValuesType
}

// Indexed reports whether the field goes into the inverted index.
func (ft *FieldType) Indexed() bool { return ft.IndexOptions != IndexOptionsNone }

// Validate rejects inconsistent combinations of options.
func (ft *FieldType) Validate() error {
	if ft.IndexOptions > IndexOptionsDocsAndFreqsAndPositionsAndOffsets {
		return fmt.Errorf("%w: unknown index options %d", ErrInvalidFieldType, ft.IndexOptions)
	}
	if ft.DocValuesType > DocValuesSortedSet {
		return fmt.Errorf("%w: unknown doc values type %d", ErrInvalidFieldType, ft.DocValuesType)
	}
	if !ft.Indexed() {
		if ft.StoreTermVectors {
			return fmt.Errorf("%w: term vectors on a non-indexed field", ErrInvalidFieldType)
		}
		if ft.Tokenized {
			return fmt.Errorf("%w: tokenized but not indexed", ErrInvalidFieldType)
		}
	}
	if !ft.StoreTermVectors {
		if ft.StoreTermVectorPositions || ft.StoreTermVectorOffsets || ft.StoreTermVectorPayloads {
			return fmt.Errorf("%w: term vector positions, offsets or payloads without term vectors", ErrInvalidFieldType)
		}
	}
	if ft.StoreTermVectorPayloads && !ft.StoreTermVectorPositions {
		return fmt.Errorf("%w: term vector payloads without term vector positions", ErrInvalidFieldType)
	}
	if !ft.Indexed() && !ft.Stored && ft.DocValuesType == DocValuesNone {
		return fmt.Errorf("%w: field is neither indexed, stored nor has doc values", ErrInvalidFieldType)
	}
	return nil
}

// Predefined field types. Treat them as read-only.
var (
	// TextTypeStored is an analyzed field with positions and offsets that is
	// also stored.
	TextTypeStored = &FieldType{
		Tokenized:    true,
		Stored:       true,
		IndexOptions: IndexOptionsDocsAndFreqsAndPositionsAndOffsets,
	}
	// TextTypeNotStored is an analyzed field with positions.
	TextTypeNotStored = &FieldType{
		Tokenized:    true,
		IndexOptions: IndexOptionsDocsAndFreqsAndPositions,
	}
	// StringTypeStored indexes the whole value as one term, without norms.
	StringTypeStored = &FieldType{
		Stored:       true,
		IndexOptions: IndexOptionsDocs,
		OmitNorms:    true,
	}
	StringTypeNotStored = &FieldType{
		IndexOptions: IndexOptionsDocs,
		OmitNorms:    true,
	}
	// StoredType is stored only.
	StoredType = &FieldType{Stored: true}

	NumericDocValuesType   = &FieldType{DocValuesType: DocValuesNumeric}
	BinaryDocValuesType    = &FieldType{DocValuesType: DocValuesBinary}
	SortedDocValuesType    = &FieldType{DocValuesType: DocValuesSorted}
	SortedSetDocValuesType = &FieldType{DocValuesType: DocValuesSortedSet}
)
