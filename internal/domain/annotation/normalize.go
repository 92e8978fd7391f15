package annotation

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey produces the dictionary lookup key for text: NFKC folded,
// lower-cased, trimmed, with internal whitespace runs collapsed to one space.
// Case-sensitive identifiers live in the entry value, never in the key.
func NormalizeKey(text string) string {
	folded := norm.NFKC.String(text)
	var sb strings.Builder
	sb.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			space = sb.Len() > 0
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}
