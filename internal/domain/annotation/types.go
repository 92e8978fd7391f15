package annotation

import (
	"strings"
	"time"
)

// Span is a half-open rune offset range [Lo, Hi).
type Span struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Len returns the number of characters covered.
func (s Span) Len() int { return s.Hi - s.Lo }

// Overlaps reports whether s and o share at least one character.
func (s Span) Overlaps(o Span) bool { return s.Lo < o.Hi && o.Lo < s.Hi }

// Contains reports whether o lies within s.
func (s Span) Contains(o Span) bool { return s.Lo <= o.Lo && o.Hi <= s.Hi }

// CharPosition pairs a character with its absolute offset.
type CharPosition struct {
	Char   rune `json:"char"`
	Offset int  `json:"offset"`
}

// Token is a candidate word or n-gram with positional metadata.
type Token struct {
	Text       string         `json:"text"`
	PageNumber int            `json:"page_number"`
	Positions  []CharPosition `json:"char_positions"`
}

// Span returns the offsets covered by the token.
func (t Token) Span() Span {
	if len(t.Positions) == 0 {
		return Span{}
	}
	return Span{Lo: t.Positions[0].Offset, Hi: t.Positions[len(t.Positions)-1].Offset + 1}
}

// WordCount returns the number of whitespace-separated words in the token.
// Runs of spaces count once here, unlike the tokenizer's window length.
func (t Token) WordCount() int { return len(strings.Fields(t.Text)) }

// DictionaryEntry is one candidate entity behind a dictionary key.
type DictionaryEntry struct {
	EntityID string   `json:"entity_id"`
	IDType   string   `json:"id_type"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

// RawMatch is a dictionary hit for a token in one category.
type RawMatch struct {
	Token      Token             `json:"token"`
	Category   Category          `json:"category"`
	Entries    []DictionaryEntry `json:"entries"`
	Span       Span              `json:"span"`
	PageNumber int               `json:"page_number"`
}

// Primary returns the first entry, which decides the annotation identity.
func (m RawMatch) Primary() DictionaryEntry {
	if len(m.Entries) == 0 {
		return DictionaryEntry{Category: m.Category}
	}
	return m.Entries[0]
}

// ResolvedMatch is a RawMatch after organism disambiguation.  Only Gene
// matches carry an organism; an unresolved gene keeps OrganismID empty.
type ResolvedMatch struct {
	RawMatch
	OrganismID string `json:"organism_id,omitempty"`
	GeneID     string `json:"gene_id,omitempty"`
}

// Unresolved reports whether a gene match found no organism binding.
func (m ResolvedMatch) Unresolved() bool {
	return m.Category == CategoryGene && m.OrganismID == ""
}

// EntityID returns the resolved gene id when bound, else the primary entry id.
func (m ResolvedMatch) EntityID() string {
	if m.GeneID != "" {
		return m.GeneID
	}
	return m.Primary().EntityID
}

// Source tells automatic recognitions and manual inclusions apart.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceManual    Source = "manual"
)

// MergedMatch is the overlay merger's unit: a positioned entity ready for
// assembly.  The merger consumes and produces MergedMatch, which keeps it a
// fixed point over its own output.
type MergedMatch struct {
	Span               Span     `json:"span"`
	PageNumber         int      `json:"page_number"`
	Text               string   `json:"text"`
	Category           Category `json:"category"`
	EntityID           string   `json:"entity_id"`
	IDType             string   `json:"id_type"`
	Name               string   `json:"name,omitempty"`
	OrganismID         string   `json:"organism_id,omitempty"`
	UnresolvedOrganism bool     `json:"unresolved_organism,omitempty"`
	Source             Source   `json:"source"`
}

// FromResolved converts pipeline matches into merger input.
func FromResolved(matches []ResolvedMatch) []MergedMatch {
	out := make([]MergedMatch, 0, len(matches))
	for _, m := range matches {
		primary := m.Primary()
		out = append(out, MergedMatch{
			Span:               m.Span,
			PageNumber:         m.PageNumber,
			Text:               m.Token.Text,
			Category:           m.Category,
			EntityID:           m.EntityID(),
			IDType:             primary.IDType,
			Name:               primary.Name,
			OrganismID:         m.OrganismID,
			UnresolvedOrganism: m.Unresolved(),
			Source:             SourceAutomatic,
		})
	}
	return out
}

// Scope of a manual annotation.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// ManualKind distinguishes inclusions from exclusions.
type ManualKind string

const (
	KindInclusion ManualKind = "inclusion"
	KindExclusion ManualKind = "exclusion"
)

// ManualAnnotation is a user-authored override.  Inclusions carry the entity
// identity; exclusions carry Reason and Comment.
type ManualAnnotation struct {
	ID            string     `json:"id,omitempty"`
	Kind          ManualKind `json:"kind"`
	Scope         Scope      `json:"scope"`
	DocumentID    string     `json:"document_id,omitempty"`
	EntityID      string     `json:"entity_id,omitempty"`
	IDType        string     `json:"id_type,omitempty"`
	Category      Category   `json:"category,omitempty"`
	TextValue     string     `json:"text"`
	Rects         []Rect     `json:"rects,omitempty"`
	PageNumber    int        `json:"page_number,omitempty"`
	ApplyToAll    bool       `json:"apply_to_all_occurrences"`
	CaseSensitive bool       `json:"case_sensitive,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
}

// Overlays groups the manual annotation lists consumed by one merge.
type Overlays struct {
	GlobalExclusions []ManualAnnotation `json:"global_exclusions,omitempty"`
	LocalExclusions  []ManualAnnotation `json:"local_exclusions,omitempty"`
	LocalInclusions  []ManualAnnotation `json:"local_inclusions,omitempty"`
}

// TextPosition is one visual line of an annotated span.
type TextPosition struct {
	Value      string `json:"value"`
	LowerLeft  Point  `json:"lower_left"`
	UpperRight Point  `json:"upper_right"`
}

// Rect converts the position back to a bounding box.
func (p TextPosition) Rect() Rect {
	return Rect{X0: p.LowerLeft.X, Y0: p.LowerLeft.Y, X1: p.UpperRight.X, Y1: p.UpperRight.Y}
}

// Annotation is the final positioned record handed to presentation and
// indexing.  HiLocationOffset is exclusive.
type Annotation struct {
	UUID               string         `json:"uuid"`
	PageNumber         int            `json:"page_number"`
	Keywords           []TextPosition `json:"keywords"`
	KeywordLength      int            `json:"keyword_length"`
	LoLocationOffset   int            `json:"lo_location_offset"`
	HiLocationOffset   int            `json:"hi_location_offset"`
	KeywordType        Category       `json:"keyword_type"`
	Color              string         `json:"color"`
	ID                 string         `json:"id"`
	IDType             string         `json:"id_type"`
	Text               string         `json:"text"`
	Name               string         `json:"name,omitempty"`
	OrganismID         string         `json:"organism_id,omitempty"`
	UnresolvedOrganism bool           `json:"unresolved_organism,omitempty"`
	Source             Source         `json:"source"`
	Hyperlink          string         `json:"hyperlink,omitempty"`
}
