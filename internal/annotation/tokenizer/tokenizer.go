// Package tokenizer turns document text into candidate word and n-gram tokens
// for dictionary lookup.
//
// Words are separated by single whitespace characters.  A run of several
// whitespace characters yields empty words, so an n-gram that spans the run
// keeps the original spacing ("e.   coli" is one candidate once enough words
// are allowed).  Every token is a contiguous, trimmed substring of the text.
package tokenizer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

// DefaultMaxWordLength is the n-gram cap used when none is given.
const DefaultMaxWordLength = 4

// ExtractTokens returns every distinct contiguous n-gram of text with 1 to
// maxWordLength words.  Tokens carry absolute rune offsets; PageNumber is
// left zero.  Output is ordered by offset.
func ExtractTokens(text string, maxWordLength int) []annotation.Token {
	runes := []rune(text)
	spans := extractSpans(runes, maxWordLength)
	out := make([]annotation.Token, 0, len(spans))
	for _, s := range spans {
		out = append(out, newToken(runes, s, 0))
	}
	return out
}

// Options configures a Tokenizer.
type Options struct {
	// MaxWordLength caps n-gram size.  Zero means DefaultMaxWordLength.
	MaxWordLength int
	// SkipTrivial drops tokens made only of digits and punctuation and
	// single letters or digits.
	SkipTrivial bool
}

// Tokenizer extracts page-aware tokens from a validated layout.
type Tokenizer struct {
	opts Options
}

// New creates a Tokenizer.
func New(opts Options) *Tokenizer {
	if opts.MaxWordLength <= 0 {
		opts.MaxWordLength = DefaultMaxWordLength
	}
	return &Tokenizer{opts: opts}
}

// MaxWordLength returns the effective n-gram cap.
func (t *Tokenizer) MaxWordLength() int { return t.opts.MaxWordLength }

// Tokenize extracts tokens from layout and stamps each with its page.  Tokens
// that would straddle a page break are not produced.
func (t *Tokenizer) Tokenize(layout *annotation.Layout) []annotation.Token {
	runes := layout.Runes()
	spans := extractSpans(runes, t.opts.MaxWordLength)
	out := make([]annotation.Token, 0, len(spans))
	for _, s := range spans {
		page := layout.PageAt(s.Lo)
		if layout.PageAt(s.Hi-1) != page {
			continue
		}
		if t.opts.SkipTrivial && trivial(runes[s.Lo:s.Hi]) {
			continue
		}
		out = append(out, newToken(runes, s, page))
	}
	return out
}

// extractSpans computes the trimmed, deduplicated n-gram spans.
func extractSpans(runes []rune, maxWords int) []annotation.Span {
	if maxWords <= 0 {
		maxWords = DefaultMaxWordLength
	}

	// Word i covers [starts[i], ends[i]); words may be empty.
	var starts, ends []int
	start := 0
	for i, r := range runes {
		if unicode.IsSpace(r) {
			starts = append(starts, start)
			ends = append(ends, i)
			start = i + 1
		}
	}
	starts = append(starts, start)
	ends = append(ends, len(runes))

	seen := make(map[annotation.Span]struct{}, len(starts)*maxWords)
	out := make([]annotation.Span, 0, len(starts)*maxWords)
	for i := range starts {
		for n := 1; n <= maxWords && i+n-1 < len(starts); n++ {
			s, ok := trim(runes, starts[i], ends[i+n-1])
			if !ok {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Lo != out[b].Lo {
			return out[a].Lo < out[b].Lo
		}
		return out[a].Hi < out[b].Hi
	})
	return out
}

func trim(runes []rune, lo, hi int) (annotation.Span, bool) {
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	return annotation.Span{Lo: lo, Hi: hi}, lo < hi
}

func newToken(runes []rune, s annotation.Span, page int) annotation.Token {
	positions := make([]annotation.CharPosition, 0, s.Len())
	for off := s.Lo; off < s.Hi; off++ {
		positions = append(positions, annotation.CharPosition{Char: runes[off], Offset: off})
	}
	return annotation.Token{
		Text:       string(runes[s.Lo:s.Hi]),
		PageNumber: page,
		Positions:  positions,
	}
}

// trivial reports tokens that can never name an entity: a lone ASCII letter or
// digit, or text made only of digits, punctuation and spaces.
func trivial(runes []rune) bool {
	if len(runes) == 1 && runes[0] < unicode.MaxASCII &&
		(unicode.IsLetter(runes[0]) || unicode.IsDigit(runes[0])) {
		return true
	}
	for _, r := range runes {
		if !unicode.IsDigit(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// IsTrivial reports whether text is too short or too symbolic to be looked up.
func IsTrivial(text string) bool {
	runes := []rune(strings.TrimSpace(text))
	return len(runes) == 0 || trivial(runes)
}
