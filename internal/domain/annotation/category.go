// Package annotation holds the data model of the entity-annotation pipeline:
// categories, tokens, layout, matches, manual overlays and final annotations,
// together with the ports the pipeline stages depend on.
package annotation

import (
	"fmt"
	"strings"

	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Category is the closed set of entity kinds, one dictionary partition each.
type Category string

const (
	CategoryGene      Category = "Gene"
	CategoryProtein   Category = "Protein"
	CategoryChemical  Category = "Chemical"
	CategoryCompound  Category = "Compound"
	CategoryDisease   Category = "Disease"
	CategorySpecies   Category = "Species"
	CategoryPhenotype Category = "Phenotype"
	CategoryAnatomy   Category = "Anatomy"
	CategoryFood      Category = "Food"
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryGene,
	CategoryProtein,
	CategoryChemical,
	CategoryCompound,
	CategoryDisease,
	CategorySpecies,
	CategoryPhenotype,
	CategoryAnatomy,
	CategoryFood,
}

// DefaultPriority is the overlap tie-break order; earlier wins.
var DefaultPriority = []Category{
	CategoryDisease,
	CategoryGene,
	CategoryProtein,
	CategoryChemical,
	CategoryCompound,
	CategorySpecies,
	CategoryPhenotype,
	CategoryAnatomy,
	CategoryFood,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range AllCategories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", errors.Newf(errors.ErrCodeValidation, "unknown entity category %q", s)
}

// ParseCategories parses a list of names, rejecting duplicates.
func ParseCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	seen := make(map[Category]bool, len(names))
	for _, n := range names {
		c, err := ParseCategory(n)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, errors.Newf(errors.ErrCodeValidation, "category %s listed twice", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// Priority ranks categories for overlap tie-breaking.
type Priority struct {
	rank map[Category]int
}

// NewPriority builds a Priority from an explicit order.  Categories absent
// from order rank after the listed ones, following DefaultPriority.
func NewPriority(order []Category) (Priority, error) {
	rank := make(map[Category]int, len(AllCategories))
	for _, c := range order {
		if !c.Valid() {
			return Priority{}, errors.Newf(errors.ErrCodeValidation, "unknown category %q in priority", c)
		}
		if _, dup := rank[c]; dup {
			return Priority{}, errors.Newf(errors.ErrCodeValidation, "category %s listed twice in priority", c)
		}
		rank[c] = len(rank)
	}
	for _, c := range DefaultPriority {
		if _, ok := rank[c]; !ok {
			rank[c] = len(rank)
		}
	}
	return Priority{rank: rank}, nil
}

// MustPriority is NewPriority that panics on error.
func MustPriority(order []Category) Priority {
	p, err := NewPriority(order)
	if err != nil {
		panic(err)
	}
	return p
}

// Rank returns the position of c; lower wins ties.
func (p Priority) Rank(c Category) int {
	if p.rank == nil {
		for i, d := range DefaultPriority {
			if d == c {
				return i
			}
		}
		return len(DefaultPriority)
	}
	if r, ok := p.rank[c]; ok {
		return r
	}
	return len(p.rank)
}

// Order returns the categories sorted by rank.
func (p Priority) Order() []Category {
	out := make([]Category, len(AllCategories))
	copy(out, AllCategories)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && p.Rank(out[j]) < p.Rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (p Priority) String() string {
	order := p.Order()
	parts := make([]string, len(order))
	for i, c := range order {
		parts[i] = string(c)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " > "))
}

// Identifier namespaces carried in DictionaryEntry.IDType.
const (
	IDTypeCHEBI        = "CHEBI"
	IDTypeCustom       = "CUSTOM"
	IDTypeMESH         = "MESH"
	IDTypeUniProt      = "UNIPROT"
	IDTypeNCBIGene     = "NCBI Gene"
	IDTypeNCBITaxonomy = "NCBI Taxonomy"
	IDTypeBioCyc       = "BIOCYC"
	IDTypePubChem      = "PUBCHEM"
)

// HomoSapiensTaxID is the fallback organism for gene disambiguation.
const HomoSapiensTaxID = "9606"
