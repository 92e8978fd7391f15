// Package stopwords builds the denylist of generic words that are never
// looked up in a dictionary.
package stopwords

import (
	"bufio"
	"os"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// common holds curated words that collide with synonym tables.  Short words
// match abbreviations; the rest are domain-generic nouns.
var common = []string{
	// two letters
	"of", "to", "in", "it", "is", "be", "as", "at",
	"so", "we", "he", "by", "or", "on", "do", "if",
	"me", "my", "up", "an", "go", "no", "us", "am",
	"et", "vs",
	// three letters
	"the", "and", "for", "are", "but", "not", "you", "all",
	"any", "can", "had", "her", "was", "one", "our", "out",
	"day", "get", "has", "him", "his", "how", "man", "new",
	"now", "old", "see", "two", "way", "who", "boy", "did",
	"its", "let", "put", "say", "she", "too", "use", "end",
	"min", "far", "set", "key", "tag", "pdf", "raw", "low",
	"med", "men", "led", "add",
	// four letters
	"that", "with", "have", "this", "will", "your", "from",
	"name", "they", "know", "want", "been", "good", "much",
	"some", "time", "none", "link", "bond", "acid", "role",
	"them", "even", "same",
	// generic
	"patch", "membrane", "walker", "group", "cluster",
	"protein", "transporter", "toxin", "molecule", "vitamin",
	"light", "mixture", "solution", "other", "unknown", "damage",
}

// Common returns a copy of the curated common-word list.
func Common() []string {
	out := make([]string, len(common))
	copy(out, common)
	return out
}

// Options selects the sources merged into a Set.
type Options struct {
	// Builtin includes the curated list and the English stop words.
	Builtin bool
	// Path is an optional newline separated file; '#' starts a comment.
	Path string
	// Words are added verbatim.
	Words []string
}

// Set is an immutable stop-word set keyed by normalized text.  The zero
// value and a nil *Set contain nothing.
type Set struct {
	words   map[string]struct{}
	english *stopwords.Stopwords
}

// New merges the configured sources.  A configured file that cannot be read
// is an error; the list is loaded once per pipeline.
func New(opts Options) (*Set, error) {
	s := &Set{words: make(map[string]struct{})}
	if opts.Builtin {
		s.english = stopwords.MustGet("en")
		s.add(common...)
	}
	s.add(opts.Words...)
	if opts.Path != "" {
		words, err := LoadFile(opts.Path)
		if err != nil {
			return nil, err
		}
		s.add(words...)
	}
	return s, nil
}

// Of returns a set holding exactly words.
func Of(words ...string) *Set {
	s := &Set{words: make(map[string]struct{}, len(words))}
	s.add(words...)
	return s
}

func (s *Set) add(words ...string) {
	for _, w := range words {
		if k := annotation.NormalizeKey(w); k != "" {
			s.words[k] = struct{}{}
		}
	}
}

// Contains reports whether text, after normalization, is a stop word.
func (s *Set) Contains(text string) bool {
	if s == nil {
		return false
	}
	key := annotation.NormalizeKey(text)
	if _, ok := s.words[key]; ok {
		return true
	}
	return s.english != nil && s.english.Contains(key)
}

// Len returns the number of explicitly listed words, excluding the English
// list.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// LoadFile reads one word per line.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "open stop-word file %s", path)
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			words = append(words, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "read stop-word file %s", path)
	}
	return words, nil
}
