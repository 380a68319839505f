package analysis

import (
	"unicode"
	"unicode/utf8"
)

// KeywordAnalyzer emits the whole value as a single token.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) TokenStream(_ string, text string) TokenStream {
	return NewTokens(Token{Term: []byte(text), PositionIncrement: 1, EndOffset: len(text)})
}

func (KeywordAnalyzer) PositionIncrementGap(string) int { return 0 }

func (KeywordAnalyzer) OffsetGap(string) int { return 1 }

// WhitespaceAnalyzer splits on Unicode white space without normalizing.
type WhitespaceAnalyzer struct{}

func (WhitespaceAnalyzer) TokenStream(_ string, text string) TokenStream {
	return &whitespaceStream{text: text}
}

func (WhitespaceAnalyzer) PositionIncrementGap(string) int { return 0 }

func (WhitespaceAnalyzer) OffsetGap(string) int { return 1 }

type whitespaceStream struct {
	text string
	pos  int
	tok  Token
}

func (s *whitespaceStream) Next() bool {
	start := -1
	for s.pos < len(s.text) {
		r, size := utf8.DecodeRuneInString(s.text[s.pos:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				break
			}
		} else if start < 0 {
			start = s.pos
		}
		s.pos += size
	}
	if start < 0 {
		return false
	}
	end := s.pos
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s.text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	s.tok = Token{Term: []byte(s.text[start:end]), PositionIncrement: 1, StartOffset: start, EndOffset: end}
	return true
}

func (s *whitespaceStream) Token() Token { return s.tok }

func (s *whitespaceStream) Err() error { return nil }

// PerFieldAnalyzer dispatches to a per-field analyzer, falling back to Default.
type PerFieldAnalyzer struct {
	Default Analyzer
	Fields  map[string]Analyzer
}

func (p *PerFieldAnalyzer) get(field string) Analyzer {
	if a, ok := p.Fields[field]; ok {
		return a
	}
	return p.Default
}

func (p *PerFieldAnalyzer) TokenStream(field, text string) TokenStream {
	return p.get(field).TokenStream(field, text)
}

func (p *PerFieldAnalyzer) PositionIncrementGap(field string) int {
	return p.get(field).PositionIncrementGap(field)
}

func (p *PerFieldAnalyzer) OffsetGap(field string) int {
	return p.get(field).OffsetGap(field)
}
