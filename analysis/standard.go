package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxTokenLength is the longest token StandardAnalyzer emits, in bytes.
// Longer words are skipped, leaving a position gap.
const DefaultMaxTokenLength = 255

// StandardAnalyzer splits text on Unicode word boundaries (UAX #29),
// applies NFKC normalization and lower-cases. Segments without letters or
// digits are dropped.
type StandardAnalyzer struct {
	// StopWords are removed after normalization; each removal leaves a
	// position gap.
	StopWords map[string]struct{}
	// MaxTokenLength defaults to DefaultMaxTokenLength.
	MaxTokenLength int
	// Gap is the position increment gap between values.
	Gap int
}

// NewStandardAnalyzer returns an analyzer without stop words.
func NewStandardAnalyzer(stopWords ...string) *StandardAnalyzer {
	a := &StandardAnalyzer{}
	if len(stopWords) > 0 {
		a.StopWords = make(map[string]struct{}, len(stopWords))
		for _, w := range stopWords {
			a.StopWords[normalize(w)] = struct{}{}
		}
	}
	return a
}

func (a *StandardAnalyzer) TokenStream(_ string, text string) TokenStream {
	maxLen := a.MaxTokenLength
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLength
	}
	return &standardStream{seg: words.FromString(text), stop: a.StopWords, maxLen: maxLen}
}

func (a *StandardAnalyzer) PositionIncrementGap(string) int { return a.Gap }

func (a *StandardAnalyzer) OffsetGap(string) int { return 1 }

type segmenter interface {
	Next() bool
	Value() string
}

type standardStream struct {
	seg    segmenter
	stop   map[string]struct{}
	maxLen int
	offset int
	skip   int
	tok    Token
}

func (s *standardStream) Next() bool {
	for s.seg.Next() {
		value := s.seg.Value()
		start := s.offset
		s.offset += len(value)
		if !isWord(value) {
			continue
		}
		term := normalize(value)
		if len(term) > s.maxLen {
			s.skip++
			continue
		}
		if _, ok := s.stop[term]; ok {
			s.skip++
			continue
		}
		s.tok = Token{
			Term:              []byte(term),
			PositionIncrement: 1 + s.skip,
			StartOffset:       start,
			EndOffset:         s.offset,
		}
		s.skip = 0
		return true
	}
	return false
}

func (s *standardStream) Token() Token { return s.tok }

func (s *standardStream) Err() error { return nil }

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func isWord(s string) bool {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
		s = s[size:]
	}
	return false
}
