// Package document defines the documents and fields handed to the index
// writer.
//
// A Document is ephemeral: the writer copies what it needs before
// AddDocument returns, so documents and their fields may be reused.
package document

import (
	"fmt"
	"math"

	"github.com/hupe1980/segdex/analysis"
)

// ValueKind identifies the kind of value a field holds.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindString
	KindBytes
	KindInt64
	KindFloat64
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	default:
		return "none"
	}
}

// Field is a named value with a type.
type Field struct {
	Name string
	Type *FieldType

	kind   ValueKind
	str    string
	bytes  []byte
	num    int64
	tokens analysis.TokenStream
}

// NewField creates a string-valued field of the given type.
func NewField(name, value string, ft *FieldType) *Field {
	return &Field{Name: name, Type: ft, kind: KindString, str: value}
}

// NewBytesField creates a binary-valued field of the given type.
func NewBytesField(name string, value []byte, ft *FieldType) *Field {
	return &Field{Name: name, Type: ft, kind: KindBytes, bytes: value}
}

// NewTokenStreamField creates a field whose tokens come from ts instead of the
// analyzer. ft must be indexed and tokenized.
func NewTokenStreamField(name string, ts analysis.TokenStream, ft *FieldType) *Field {
	return &Field{Name: name, Type: ft, tokens: ts}
}

// NewTextField creates an analyzed text field.
func NewTextField(name, value string, stored bool) *Field {
	if stored {
		return NewField(name, value, TextTypeStored)
	}
	return NewField(name, value, TextTypeNotStored)
}

// NewStringField creates a field indexed verbatim as a single term, the usual
// choice for identifiers.
func NewStringField(name, value string, stored bool) *Field {
	if stored {
		return NewField(name, value, StringTypeStored)
	}
	return NewField(name, value, StringTypeNotStored)
}

// NewStoredField creates a stored-only string field.
func NewStoredField(name, value string) *Field {
	return NewField(name, value, StoredType)
}

// NewStoredBytesField creates a stored-only binary field.
func NewStoredBytesField(name string, value []byte) *Field {
	return NewBytesField(name, value, StoredType)
}

// NewStoredInt64Field creates a stored-only integer field.
func NewStoredInt64Field(name string, value int64) *Field {
	return &Field{Name: name, Type: StoredType, kind: KindInt64, num: value}
}

// NewStoredFloat64Field creates a stored-only floating point field.
func NewStoredFloat64Field(name string, value float64) *Field {
	return &Field{Name: name, Type: StoredType, kind: KindFloat64, num: int64(math.Float64bits(value))}
}

// NewNumericDocValuesField creates a numeric doc values field.
func NewNumericDocValuesField(name string, value int64) *Field {
	return &Field{Name: name, Type: NumericDocValuesType, kind: KindInt64, num: value}
}

// NewBinaryDocValuesField creates a binary doc values field.
func NewBinaryDocValuesField(name string, value []byte) *Field {
	return NewBytesField(name, value, BinaryDocValuesType)
}

// NewSortedDocValuesField creates a sorted doc values field.
func NewSortedDocValuesField(name string, value []byte) *Field {
	return NewBytesField(name, value, SortedDocValuesType)
}

// NewSortedSetDocValuesField creates one value of a sorted-set doc values
// field. Add several to a document for multiple values.
func NewSortedSetDocValuesField(name string, value []byte) *Field {
	return NewBytesField(name, value, SortedSetDocValuesType)
}

// Kind returns the kind of the field's value.
func (f *Field) Kind() ValueKind { return f.kind }

// StringValue returns the value of a string field.
func (f *Field) StringValue() (string, bool) { return f.str, f.kind == KindString }

// BytesValue returns the value of a binary field, or the bytes of a string
// field.
func (f *Field) BytesValue() ([]byte, bool) {
	switch f.kind {
	case KindBytes:
		return f.bytes, true
	case KindString:
		return []byte(f.str), true
	default:
		return nil, false
	}
}

// Int64Value returns the value of an integer field.
func (f *Field) Int64Value() (int64, bool) { return f.num, f.kind == KindInt64 }

// Float64Value returns the value of a floating point field.
func (f *Field) Float64Value() (float64, bool) {
	return math.Float64frombits(uint64(f.num)), f.kind == KindFloat64
}

// TokenStream returns the caller-supplied token stream, if any.
func (f *Field) TokenStream() analysis.TokenStream { return f.tokens }

func (f *Field) String() string {
	switch f.kind {
	case KindString:
		return fmt.Sprintf("%s:%q", f.Name, f.str)
	case KindBytes:
		return fmt.Sprintf("%s:%x", f.Name, f.bytes)
	case KindInt64:
		return fmt.Sprintf("%s:%d", f.Name, f.num)
	case KindFloat64:
		v, _ := f.Float64Value()
		return fmt.Sprintf("%s:%g", f.Name, v)
	default:
		return f.Name + ":<tokens>"
	}
}

// Document is an ordered list of fields.
type Document struct {
	Fields []*Field
}

// New creates a document holding fields.
func New(fields ...*Field) *Document {
	return &Document{Fields: fields}
}

// Add appends a field.
func (d *Document) Add(f *Field) { d.Fields = append(d.Fields, f) }

// GetFields returns all fields with the given name, in order.
func (d *Document) GetFields(name string) []*Field {
	var out []*Field
	for _, f := range d.Fields {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// Get returns the string value of the first field with the given name.
func (d *Document) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			if s, ok := f.StringValue(); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.Fields) }
