package annotation

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Point is a coordinate in page space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box with (X0,Y0) lower-left and (X1,Y1)
// upper-right.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Center returns the midpoint of r.
func (r Rect) Center() Point { return Point{X: (r.X0 + r.X1) / 2, Y: (r.Y0 + r.Y1) / 2} }

// Contains reports whether p lies inside r, borders included.
func (r Rect) Contains(p Point) bool {
	return r.X0 <= p.X && p.X <= r.X1 && r.Y0 <= p.Y && p.Y <= r.Y1
}

// Union returns the smallest Rect covering r and o.  An empty side is ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// VerticalOverlap reports whether r and o share any vertical extent.
func (r Rect) VerticalOverlap(o Rect) bool {
	return r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// RectsMatch reports whether every occurrence rect has its center inside the
// recorded rect at the same index.  Counts must agree.
func RectsMatch(recorded, occurrence []Rect) bool {
	if len(recorded) == 0 || len(recorded) != len(occurrence) {
		return false
	}
	for i := range recorded {
		if !recorded[i].Contains(occurrence[i].Center()) {
			return false
		}
	}
	return true
}

// LayoutChar is one extracted character with its bounding box.
type LayoutChar struct {
	Value string  `json:"c"`
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
}

// Rect returns the bounding box of the character.
func (c LayoutChar) Rect() Rect { return Rect{X0: c.X0, Y0: c.Y0, X1: c.X1, Y1: c.Y1} }

// Document is the unit of work: text plus per-page character layout.  The
// characters of all pages, concatenated in ascending page order, spell Text.
type Document struct {
	ID    string               `json:"id"`
	Text  string               `json:"text"`
	Pages map[int][]LayoutChar `json:"pages"`
}

// Layout is the validated, offset-indexed view of a Document.  Offsets are
// rune offsets into the document text.
type Layout struct {
	runes []rune
	pages []int
	rects []Rect
}

// NewLayout validates doc and indexes every character by offset.
func NewLayout(doc *Document) (*Layout, error) {
	if doc == nil {
		return nil, errors.New(errors.CodeMalformedLayout, "document is nil")
	}
	if !utf8.ValidString(doc.Text) {
		return nil, errors.New(errors.CodeMalformedLayout, "document text is not valid UTF-8")
	}

	runes := []rune(doc.Text)
	pageNumbers := make([]int, 0, len(doc.Pages))
	for p := range doc.Pages {
		if p < 1 {
			return nil, errors.New(errors.CodeMalformedLayout, "page numbers start at 1").WithDetailf("page=%d", p)
		}
		pageNumbers = append(pageNumbers, p)
	}
	sort.Ints(pageNumbers)

	l := &Layout{
		runes: runes,
		pages: make([]int, 0, len(runes)),
		rects: make([]Rect, 0, len(runes)),
	}
	for _, p := range pageNumbers {
		for i, ch := range doc.Pages[p] {
			r, size := utf8.DecodeRuneInString(ch.Value)
			if size == 0 || size != len(ch.Value) || r == utf8.RuneError {
				return nil, errors.New(errors.CodeMalformedLayout, "layout character must hold exactly one rune").
					WithDetailf("page=%d index=%d value=%q", p, i, ch.Value)
			}
			off := len(l.pages)
			if off >= len(runes) {
				return nil, errors.New(errors.CodeMalformedLayout, "layout has more characters than text").
					WithDetailf("page=%d index=%d", p, i)
			}
			if runes[off] != r {
				return nil, errors.New(errors.CodeMalformedLayout, "layout character does not match text").
					WithDetailf("offset=%d text=%q layout=%q", off, runes[off], r)
			}
			l.pages = append(l.pages, p)
			l.rects = append(l.rects, ch.Rect())
		}
	}
	if len(l.pages) != len(runes) {
		return nil, errors.New(errors.CodeMalformedLayout, "layout has fewer characters than text").
			WithDetailf("text=%d layout=%d", len(runes), len(l.pages))
	}
	return l, nil
}

// Len returns the number of characters.
func (l *Layout) Len() int { return len(l.runes) }

// Text returns the document text.
func (l *Layout) Text() string { return string(l.runes) }

// Runes exposes the document text as runes.  Callers must not modify it.
func (l *Layout) Runes() []rune { return l.runes }

// Slice returns the text in [lo, hi).
func (l *Layout) Slice(lo, hi int) string {
	if lo < 0 {
		lo = 0
	}
	if hi > len(l.runes) {
		hi = len(l.runes)
	}
	if lo >= hi {
		return ""
	}
	return string(l.runes[lo:hi])
}

// PageAt returns the page number of the character at off, or 0.
func (l *Layout) PageAt(off int) int {
	if off < 0 || off >= len(l.pages) {
		return 0
	}
	return l.pages[off]
}

// RectAt returns the bounding box of the character at off.
func (l *Layout) RectAt(off int) Rect {
	if off < 0 || off >= len(l.rects) {
		return Rect{}
	}
	return l.rects[off]
}

// Positions splits [lo, hi) into one TextPosition per visual line.  A new line
// starts when a character's box does not vertically overlap the current line.
// Characters without a box (spaces, line breaks) extend the value only.
func (l *Layout) Positions(lo, hi int) []TextPosition {
	if lo < 0 {
		lo = 0
	}
	if hi > len(l.runes) {
		hi = len(l.runes)
	}
	var (
		out     []TextPosition
		line    Rect
		lineLo  = -1
		lineEnd int
	)
	flush := func() {
		if lineLo < 0 || line.Empty() {
			return
		}
		out = append(out, TextPosition{
			Value:      string(l.runes[lineLo:lineEnd]),
			LowerLeft:  Point{X: line.X0, Y: line.Y0},
			UpperRight: Point{X: line.X1, Y: line.Y1},
		})
	}
	for off := lo; off < hi; off++ {
		r := l.rects[off]
		if r.Empty() {
			continue
		}
		if lineLo >= 0 && (!line.VerticalOverlap(r) || l.pages[off] != l.pages[lineLo]) {
			flush()
			lineLo = -1
		}
		if lineLo < 0 {
			lineLo = off
			line = r
		} else {
			line = line.Union(r)
		}
		lineEnd = off + 1
	}
	flush()
	return out
}

// Rects returns the line boxes of [lo, hi).
func (l *Layout) Rects(lo, hi int) []Rect {
	positions := l.Positions(lo, hi)
	out := make([]Rect, len(positions))
	for i, p := range positions {
		out[i] = p.Rect()
	}
	return out
}
