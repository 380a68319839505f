// Package analysis defines the token contract between text analysis and
// the index, plus a few ready-made analyzers.
//
// The index consumes analysis as an opaque producer of tokens: term bytes, a
// position increment, character offsets and an optional payload.
package analysis

// Token is one analyzed unit of a field value.
type Token struct {
	// Term is the indexed byte sequence.
	Term []byte
	// PositionIncrement is the distance to the previous token's position.
	// Zero stacks the token on the previous position (synonyms).
	PositionIncrement int
	// StartOffset and EndOffset are byte offsets into the original value.
	StartOffset int
	EndOffset   int
	// Payload is optional per-position metadata.
	Payload []byte
}

// TokenStream iterates over tokens.
//
//	for ts.Next() {
//	    tok := ts.Token()
//	}
//	if err := ts.Err(); err != nil { ... }
type TokenStream interface {
	// Next advances to the next token and reports whether there is one.
	Next() bool
	// Token returns the current token. Its slices are valid until Next is
	// called again.
	Token() Token
	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Analyzer turns field text into tokens.
type Analyzer interface {
	// TokenStream analyzes text of the named field.
	TokenStream(field, text string) TokenStream
	// PositionIncrementGap is added between values of a multi-valued field.
	PositionIncrementGap(field string) int
	// OffsetGap is added to offsets between values of a multi-valued field.
	OffsetGap(field string) int
}

// Tokens is a pre-analyzed TokenStream backed by a slice.
type Tokens struct {
	toks []Token
	i    int
}

// NewTokens returns a stream over toks.
func NewTokens(toks ...Token) *Tokens {
	return &Tokens{toks: toks, i: -1}
}

func (t *Tokens) Next() bool {
	if t.i+1 >= len(t.toks) {
		t.i = len(t.toks)
		return false
	}
	t.i++
	return true
}

func (t *Tokens) Token() Token { return t.toks[t.i] }

func (t *Tokens) Err() error { return nil }

// Reset rewinds the stream.
func (t *Tokens) Reset() { t.i = -1 }

// Collect drains ts into a slice, copying term and payload bytes.
func Collect(ts TokenStream) ([]Token, error) {
	var out []Token
	for ts.Next() {
		tok := ts.Token()
		tok.Term = append([]byte(nil), tok.Term...)
		if tok.Payload != nil {
			tok.Payload = append([]byte(nil), tok.Payload...)
		}
		out = append(out, tok)
	}
	return out, ts.Err()
}
