package overlay

import (
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// occurrenceFinder locates every whole-word, case-insensitive occurrence of a
// set of phrases in one document with a single automaton pass.
type occurrenceFinder struct {
	runes    []rune
	haystack []byte
	// byteToRune maps a haystack byte offset to its rune index; the entry at
	// len(haystack) is len(runes).
	byteToRune []int
}

func newOccurrenceFinder(runes []rune) *occurrenceFinder {
	f := &occurrenceFinder{runes: runes}
	buf := make([]byte, 0, len(runes))
	f.byteToRune = make([]int, 0, len(runes)+1)
	for i, r := range runes {
		lr := unicode.ToLower(r)
		n := utf8.RuneLen(lr)
		if n < 0 {
			lr, n = utf8.RuneError, utf8.RuneLen(utf8.RuneError)
		}
		for j := 0; j < n; j++ {
			f.byteToRune = append(f.byteToRune, i)
		}
		buf = utf8.AppendRune(buf, lr)
	}
	f.byteToRune = append(f.byteToRune, len(runes))
	f.haystack = buf
	return f
}

func lowerRunes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// find returns, per phrase index, the spans where the phrase occurs.
// Phrases equal after lower-casing share one pattern.
func (f *occurrenceFinder) find(phrases []string) (map[int][]annotation.Span, error) {
	var patterns []string
	var owners [][]int
	byPattern := make(map[string]int)
	for i, p := range phrases {
		if p == "" {
			continue
		}
		lp := lowerRunes(p)
		id, ok := byPattern[lp]
		if !ok {
			id = len(patterns)
			byPattern[lp] = id
			patterns = append(patterns, lp)
			owners = append(owners, nil)
		}
		owners[id] = append(owners[id], i)
	}
	out := make(map[int][]annotation.Span)
	if len(patterns) == 0 || len(f.haystack) == 0 {
		return out, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "build inclusion automaton")
	}

	for _, m := range ac.FindAllOverlapping(f.haystack) {
		if m.Start < 0 || m.End > len(f.haystack) || m.Start >= m.End || m.PatternID >= len(owners) {
			continue
		}
		span := annotation.Span{Lo: f.byteToRune[m.Start], Hi: f.byteToRune[m.End]}
		if !f.wholeWord(span) {
			continue
		}
		for _, phrase := range owners[m.PatternID] {
			out[phrase] = append(out[phrase], span)
		}
	}
	return out, nil
}

func (f *occurrenceFinder) wholeWord(s annotation.Span) bool {
	if s.Lo > 0 && isWordRune(f.runes[s.Lo-1]) && isWordRune(f.runes[s.Lo]) {
		return false
	}
	if s.Hi < len(f.runes) && isWordRune(f.runes[s.Hi]) && isWordRune(f.runes[s.Hi-1]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
