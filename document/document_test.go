package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/analysis"
)

func TestFieldTypeValidate(t *testing.T) {
	tests := []struct {
		name string
		ft   FieldType
		ok   bool
	}{
		{"text", *TextTypeStored, true},
		{"string", *StringTypeNotStored, true},
		{"stored", *StoredType, true},
		{"doc values", *SortedSetDocValuesType, true},
		{"empty", FieldType{}, false},
		{"vectors not indexed", FieldType{Stored: true, StoreTermVectors: true}, false},
		{"tokenized not indexed", FieldType{Stored: true, Tokenized: true}, false},
		{"positions without vectors", FieldType{IndexOptions: IndexOptionsDocs, StoreTermVectorPositions: true}, false},
		{"payloads without positions", FieldType{IndexOptions: IndexOptionsDocs, StoreTermVectors: true, StoreTermVectorPayloads: true}, false},
		{"full vectors", FieldType{
			IndexOptions: IndexOptionsDocsAndFreqsAndPositions, Tokenized: true,
			StoreTermVectors: true, StoreTermVectorPositions: true, StoreTermVectorOffsets: true, StoreTermVectorPayloads: true,
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ft.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFieldType)
			}
		})
	}
}

func TestIndexOptionsOrdering(t *testing.T) {
	assert.False(t, IndexOptionsDocs.HasFreqs())
	assert.True(t, IndexOptionsDocsAndFreqs.HasFreqs())
	assert.False(t, IndexOptionsDocsAndFreqs.HasPositions())
	assert.True(t, IndexOptionsDocsAndFreqsAndPositionsAndOffsets.HasOffsets())
	assert.Equal(t, "docs_freqs_positions", IndexOptionsDocsAndFreqsAndPositions.String())
}

func TestFieldValues(t *testing.T) {
	f := NewStoredFloat64Field("price", 9.5)
	v, ok := f.Float64Value()
	require.True(t, ok)
	assert.InDelta(t, 9.5, v, 0)
	_, ok = f.Int64Value()
	assert.False(t, ok)

	b, ok := NewStringField("id", "a1", true).BytesValue()
	require.True(t, ok)
	assert.Equal(t, []byte("a1"), b)

	ts := analysis.NewTokens(analysis.Token{Term: []byte("x"), PositionIncrement: 1})
	tf := NewTokenStreamField("body", ts, TextTypeNotStored)
	assert.Equal(t, KindNone, tf.Kind())
	assert.Same(t, ts, tf.TokenStream())
}

func TestDocumentAccessors(t *testing.T) {
	d := New(NewStringField("id", "1", true), NewTextField("body", "a b", false))
	d.Add(NewTextField("body", "c", false))
	assert.Equal(t, 3, d.Len())
	assert.Len(t, d.GetFields("body"), 2)
	id, ok := d.Get("id")
	require.True(t, ok)
	assert.Equal(t, "1", id)
	_, ok = d.Get("missing")
	assert.False(t, ok)
}
