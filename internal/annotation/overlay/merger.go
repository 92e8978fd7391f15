// Package overlay reconciles automatic matches with user-authored inclusions
// and exclusions.
//
// Precedence, in order: global exclusions, local exclusions, local
// inclusions.  Exclusions only ever remove automatic matches; inclusions are
// authoritative and replace an automatic match on the same span.  Merging is
// a fixed point: feeding the output back with the same overlays yields the
// same output.
package overlay

import (
	"sort"
	"strings"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Overlay kinds reported to Metrics.
const (
	KindGlobalExclusion = "global_exclusion"
	KindLocalExclusion  = "local_exclusion"
	KindInclusion       = "inclusion"
)

// Metrics counts applied overrides.
type Metrics interface {
	RecordOverlay(kind string, count int)
}

// Merger is stateless and safe for concurrent use.
type Merger struct {
	logger  logging.Logger
	metrics Metrics
}

// NewMerger constructs a Merger.
func NewMerger(logger logging.Logger, metrics Metrics) *Merger {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Merger{logger: logger.Named("overlay"), metrics: metrics}
}

type spanKey struct {
	page int
	span annotation.Span
}

// Merge applies ov to matches over layout.  Non-fatal problems (conflicting
// or unlocatable inclusions) are returned as warnings.
func (m *Merger) Merge(layout *annotation.Layout, matches []annotation.MergedMatch, ov annotation.Overlays) ([]annotation.MergedMatch, []*errors.AppError, error) {
	var warnings []*errors.AppError

	kept := make([]annotation.MergedMatch, 0, len(matches))
	removedGlobal, removedLocal := 0, 0
	for _, mm := range matches {
		if mm.Source == annotation.SourceAutomatic {
			if excludedByAny(ov.GlobalExclusions, mm, nil) {
				removedGlobal++
				continue
			}
			if excludedByAny(ov.LocalExclusions, mm, layout) {
				removedLocal++
				continue
			}
		}
		kept = append(kept, mm)
	}

	included, incWarnings, err := m.placeInclusions(layout, ov.LocalInclusions)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, incWarnings...)

	// Inclusions replace whatever sits on the same span.
	claimed := make(map[spanKey]struct{}, len(included))
	for _, inc := range included {
		claimed[spanKey{inc.PageNumber, inc.Span}] = struct{}{}
	}
	out := make([]annotation.MergedMatch, 0, len(kept)+len(included))
	for _, mm := range kept {
		if _, ok := claimed[spanKey{mm.PageNumber, mm.Span}]; ok {
			continue
		}
		out = append(out, mm)
	}
	out = append(out, included...)
	sortMatches(out)

	m.metrics.RecordOverlay(KindGlobalExclusion, removedGlobal)
	m.metrics.RecordOverlay(KindLocalExclusion, removedLocal)
	m.metrics.RecordOverlay(KindInclusion, len(included))
	if removedGlobal+removedLocal+len(included) > 0 {
		m.logger.Debug("manual overlays applied",
			logging.Int("global_exclusions", removedGlobal),
			logging.Int("local_exclusions", removedLocal),
			logging.Int("inclusions", len(included)))
	}
	return out, warnings, nil
}

// excludedByAny reports whether any exclusion removes mm.  A nil layout
// disables rectangle matching, which is how global exclusions behave.
func excludedByAny(exclusions []annotation.ManualAnnotation, mm annotation.MergedMatch, layout *annotation.Layout) bool {
	for i := range exclusions {
		ex := &exclusions[i]
		if ex.Category != "" && ex.Category != mm.Category {
			continue
		}
		if !sameText(ex, mm.Text) {
			continue
		}
		if layout == nil || ex.ApplyToAll {
			return true
		}
		if ex.PageNumber != 0 && ex.PageNumber != mm.PageNumber {
			continue
		}
		if annotation.RectsMatch(ex.Rects, layout.Rects(mm.Span.Lo, mm.Span.Hi)) {
			return true
		}
	}
	return false
}

func sameText(ex *annotation.ManualAnnotation, text string) bool {
	if ex.CaseSensitive {
		return strings.TrimSpace(ex.TextValue) == strings.TrimSpace(text)
	}
	return annotation.NormalizeKey(ex.TextValue) == annotation.NormalizeKey(text)
}

// placeInclusions turns each inclusion into one match per located
// occurrence.  When two inclusions claim the same span with different
// entities the later one wins and a warning is raised.
func (m *Merger) placeInclusions(layout *annotation.Layout, inclusions []annotation.ManualAnnotation) ([]annotation.MergedMatch, []*errors.AppError, error) {
	if len(inclusions) == 0 {
		return nil, nil, nil
	}

	phrases := make([]string, len(inclusions))
	for i, inc := range inclusions {
		phrases[i] = strings.TrimSpace(inc.TextValue)
	}
	found, err := newOccurrenceFinder(layout.Runes()).find(phrases)
	if err != nil {
		return nil, nil, err
	}

	var warnings []*errors.AppError
	placed := make(map[spanKey]int)
	var out []annotation.MergedMatch

	for i := range inclusions {
		inc := &inclusions[i]
		located := 0
		for _, span := range found[i] {
			page := layout.PageAt(span.Lo)
			if page == 0 || layout.PageAt(span.Hi-1) != page {
				continue
			}
			if inc.CaseSensitive && layout.Slice(span.Lo, span.Hi) != phrases[i] {
				continue
			}
			if !inc.ApplyToAll {
				if inc.PageNumber != 0 && inc.PageNumber != page {
					continue
				}
				if !annotation.RectsMatch(inc.Rects, layout.Rects(span.Lo, span.Hi)) {
					continue
				}
			}
			located++

			mm := fromInclusion(inc, layout, span, page)
			key := spanKey{page, span}
			if prev, ok := placed[key]; ok {
				if out[prev].EntityID != mm.EntityID || out[prev].Category != mm.Category {
					warnings = append(warnings, errors.New(errors.CodeConflictingManualAnnotation,
						"manual inclusions claim the same span").
						WithDetailf("page=%d lo=%d hi=%d previous=%s current=%s",
							page, span.Lo, span.Hi, out[prev].EntityID, mm.EntityID))
				}
				out[prev] = mm
				continue
			}
			placed[key] = len(out)
			out = append(out, mm)
		}
		if located == 0 {
			warnings = append(warnings, errors.New(errors.CodeUnlocatedManualAnnotation,
				"manual inclusion not found in document").
				WithDetailf("id=%s text=%q page=%d", inc.ID, inc.TextValue, inc.PageNumber))
			m.logger.Warn("manual inclusion not located",
				logging.String("id", inc.ID),
				logging.String("text", inc.TextValue))
		}
	}
	return out, warnings, nil
}

func fromInclusion(inc *annotation.ManualAnnotation, layout *annotation.Layout, span annotation.Span, page int) annotation.MergedMatch {
	return annotation.MergedMatch{
		Span:       span,
		PageNumber: page,
		Text:       layout.Slice(span.Lo, span.Hi),
		Category:   inc.Category,
		EntityID:   inc.EntityID,
		IDType:     inc.IDType,
		Name:       inc.TextValue,
		Source:     annotation.SourceManual,
	}
}

// sortMatches orders by position, then puts manual entries after automatic
// ones sharing the same start, then by category for determinism.
func sortMatches(ms []annotation.MergedMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Span.Lo != b.Span.Lo {
			return a.Span.Lo < b.Span.Lo
		}
		if a.Span.Hi != b.Span.Hi {
			return a.Span.Hi < b.Span.Hi
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		if a.Source != b.Source {
			return a.Source == annotation.SourceAutomatic
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.EntityID < b.EntityID
	})
}

type noopMetrics struct{}

func (noopMetrics) RecordOverlay(string, int) {}
