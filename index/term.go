package index

import (
	"bytes"
	"cmp"
	"fmt"
)

// Term is a field name and indexed bytes. Deletions and statistics address
// documents by term.
type Term struct {
	Field string
	Bytes []byte
}

// NewTerm returns a term for a string value.
func NewTerm(field, text string) Term {
	return Term{Field: field, Bytes: []byte(text)}
}

// Compare orders by field, then by unsigned bytes.
func (t Term) Compare(o Term) int {
	if c := cmp.Compare(t.Field, o.Field); c != 0 {
		return c
	}
	return bytes.Compare(t.Bytes, o.Bytes)
}

// Equal reports whether both terms have the same field and bytes.
func (t Term) Equal(o Term) bool {
	return t.Field == o.Field && bytes.Equal(t.Bytes, o.Bytes)
}

func (t Term) String() string {
	return fmt.Sprintf("%s:%s", t.Field, t.Bytes)
}

func (t Term) clone() Term {
	return Term{Field: t.Field, Bytes: bytes.Clone(t.Bytes)}
}
