// Package assembler turns merged matches into positioned Annotation records.
package assembler

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// DefaultColor is used for categories without a style.
const DefaultColor = "#000000"

// DefaultPalette is the built-in category palette.
var DefaultPalette = map[annotation.Category]string{
	annotation.CategoryGene:      "#673ab7",
	annotation.CategoryProtein:   "#bcbd22",
	annotation.CategoryChemical:  "#4caf50",
	annotation.CategoryCompound:  "#809f00",
	annotation.CategoryDisease:   "#ff9800",
	annotation.CategorySpecies:   "#3177b8",
	annotation.CategoryPhenotype: "#edc949",
	annotation.CategoryAnatomy:   "#0277bd",
	annotation.CategoryFood:      "#8eff69",
}

// DefaultHyperlinks maps an id type to the URL prefix of its entity page.
var DefaultHyperlinks = map[string]string{
	annotation.IDTypeCHEBI:        "https://www.ebi.ac.uk/chebi/searchId.do?chebiId=",
	annotation.IDTypeMESH:         "https://www.ncbi.nlm.nih.gov/mesh/",
	annotation.IDTypeUniProt:      "https://www.uniprot.org/uniprot/?sort=score&query=",
	annotation.IDTypeNCBIGene:     "https://www.ncbi.nlm.nih.gov/gene/",
	annotation.IDTypeNCBITaxonomy: "https://www.ncbi.nlm.nih.gov/Taxonomy/Browser/wwwtax.cgi?id=",
	annotation.IDTypeBioCyc:       "https://biocyc.org/compound?orgid=META&id=",
	annotation.IDTypePubChem:      "https://pubchem.ncbi.nlm.nih.gov/compound/",
	annotation.IDTypeCustom:       "https://www.google.com/search?q=",
}

// Palette is a StyleLookup backed by a static map.
type Palette map[annotation.Category]string

// Style implements annotation.StyleLookup.
func (p Palette) Style(c annotation.Category) (annotation.Style, bool) {
	color, ok := p[c]
	if !ok || color == "" {
		return annotation.Style{}, false
	}
	return annotation.Style{Color: color}, true
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithHyperlinks replaces the hyperlink table.
func WithHyperlinks(links map[string]string) Option {
	return func(a *Assembler) { a.links = links }
}

// WithIDGenerator replaces the UUID source.
func WithIDGenerator(gen func() string) Option {
	return func(a *Assembler) { a.newID = gen }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Assembler) { a.logger = l.Named("assembler") }
}

// Assembler performs no I/O beyond the style lookup.
type Assembler struct {
	styles annotation.StyleLookup
	links  map[string]string
	newID  func() string
	logger logging.Logger
}

// New builds an Assembler.  A nil styles lookup means every annotation gets
// DefaultColor and a StyleUnavailable warning per category.
func New(styles annotation.StyleLookup, opts ...Option) *Assembler {
	a := &Assembler{
		styles: styles,
		links:  DefaultHyperlinks,
		newID:  func() string { return uuid.New().String() },
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble converts matches to annotations ordered by page then offset and
// draws their ids in that order.
// A missing style degrades the annotation to DefaultColor and is reported once
// per category.
func (a *Assembler) Assemble(layout *annotation.Layout, matches []annotation.MergedMatch) ([]annotation.Annotation, []*errors.AppError) {
	var warnings []*errors.AppError
	colors := make(map[annotation.Category]string)
	out := make([]annotation.Annotation, 0, len(matches))

	for _, m := range matches {
		color, ok := colors[m.Category]
		if !ok {
			color = DefaultColor
			if a.styles != nil {
				if st, found := a.styles.Style(m.Category); found {
					color = st.Color
				} else {
					warnings = append(warnings, styleWarning(m.Category))
				}
			} else {
				warnings = append(warnings, styleWarning(m.Category))
			}
			colors[m.Category] = color
		}

		out = append(out, annotation.Annotation{
			PageNumber:         m.PageNumber,
			Keywords:           layout.Positions(m.Span.Lo, m.Span.Hi),
			KeywordLength:      m.Span.Len(),
			LoLocationOffset:   m.Span.Lo,
			HiLocationOffset:   m.Span.Hi,
			KeywordType:        m.Category,
			Color:              color,
			ID:                 m.EntityID,
			IDType:             m.IDType,
			Text:               m.Text,
			Name:               m.Name,
			OrganismID:         m.OrganismID,
			UnresolvedOrganism: m.UnresolvedOrganism,
			Source:             m.Source,
			Hyperlink:          a.hyperlink(m),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PageNumber != out[j].PageNumber {
			return out[i].PageNumber < out[j].PageNumber
		}
		if out[i].LoLocationOffset != out[j].LoLocationOffset {
			return out[i].LoLocationOffset < out[j].LoLocationOffset
		}
		return out[i].HiLocationOffset < out[j].HiLocationOffset
	})
	// ids follow output order
	for i := range out {
		out[i].UUID = a.newID()
	}

	if len(warnings) > 0 {
		a.logger.Warn("annotations fell back to the default style", logging.Int("categories", len(warnings)))
	}
	return out, warnings
}

func styleWarning(c annotation.Category) *errors.AppError {
	return errors.New(errors.CodeStyleUnavailable, "no style for category").WithDetailf("category=%s", c)
}

// hyperlink builds the entity page URL.  Custom entries have no page of their
// own, so the text is searched instead.
func (a *Assembler) hyperlink(m annotation.MergedMatch) string {
	prefix, ok := a.links[m.IDType]
	if !ok {
		return ""
	}
	if m.IDType == annotation.IDTypeCustom || m.EntityID == "" {
		return prefix + url.QueryEscape(m.Text)
	}
	id := m.EntityID
	if m.IDType == annotation.IDTypeMESH {
		id = strings.TrimPrefix(id, "MESH:")
	}
	return prefix + url.QueryEscape(id)
}
