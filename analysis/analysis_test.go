package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(t *testing.T, ts TokenStream) []string {
	t.Helper()
	toks, err := Collect(ts)
	require.NoError(t, err)
	out := make([]string, len(toks))
	for i, tok := range toks {
		out[i] = string(tok.Term)
	}
	return out
}

func TestStandardAnalyzer(t *testing.T) {
	a := NewStandardAnalyzer()
	toks, err := Collect(a.TokenStream("body", "Hello, World! ＦＵＬＬ width"))
	require.NoError(t, err)
	require.Len(t, toks, 4)
	assert.Equal(t, "hello", string(toks[0].Term))
	assert.Equal(t, 0, toks[0].StartOffset)
	assert.Equal(t, 5, toks[0].EndOffset)
	assert.Equal(t, "world", string(toks[1].Term))
	assert.Equal(t, 7, toks[1].StartOffset)
	assert.Equal(t, "full", string(toks[2].Term))
	for _, tok := range toks {
		assert.Equal(t, 1, tok.PositionIncrement)
	}
}

func TestStandardAnalyzerStopWords(t *testing.T) {
	a := NewStandardAnalyzer("the", "a")
	toks, err := Collect(a.TokenStream("body", "The quick a fox"))
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "quick", string(toks[0].Term))
	assert.Equal(t, 2, toks[0].PositionIncrement)
	assert.Equal(t, "fox", string(toks[1].Term))
	assert.Equal(t, 2, toks[1].PositionIncrement)
}

func TestStandardAnalyzerMaxTokenLength(t *testing.T) {
	a := &StandardAnalyzer{MaxTokenLength: 3}
	assert.Equal(t, []string{"abc", "de"}, terms(t, a.TokenStream("f", "abc abcdef de")))
}

func TestWhitespaceAnalyzer(t *testing.T) {
	toks, err := Collect(WhitespaceAnalyzer{}.TokenStream("f", "  Foo\tbar  baz "))
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, "Foo", string(toks[0].Term))
	assert.Equal(t, 2, toks[0].StartOffset)
	assert.Equal(t, 5, toks[0].EndOffset)
	assert.Equal(t, "baz", string(toks[2].Term))
	assert.Equal(t, 11, toks[2].StartOffset)
}

func TestKeywordAnalyzer(t *testing.T) {
	assert.Equal(t, []string{"New York"}, terms(t, KeywordAnalyzer{}.TokenStream("f", "New York")))
}

func TestPerFieldAnalyzer(t *testing.T) {
	a := &PerFieldAnalyzer{
		Default: NewStandardAnalyzer(),
		Fields:  map[string]Analyzer{"id": KeywordAnalyzer{}},
	}
	assert.Equal(t, []string{"A-1 B"}, terms(t, a.TokenStream("id", "A-1 B")))
	assert.Equal(t, []string{"a", "1", "b"}, terms(t, a.TokenStream("body", "A-1 B")))
}

func TestTokens(t *testing.T) {
	ts := NewTokens(Token{Term: []byte("x"), PositionIncrement: 1}, Token{Term: []byte("y")})
	assert.Equal(t, []string{"x", "y"}, terms(t, ts))
	assert.False(t, ts.Next())
	ts.Reset()
	assert.True(t, ts.Next())
	assert.Equal(t, "x", string(ts.Token().Term))
}
