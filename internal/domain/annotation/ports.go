package annotation

import "context"

// DictionaryStore is a read-only handle onto one category's dictionary.
// Keys passed in must already be normalized with NormalizeKey.
type DictionaryStore interface {
	Category() Category
	Lookup(key string) ([]DictionaryEntry, error)
	Contains(key string) (bool, error)
}

// StoreSet resolves the dictionary handle for a category.  An unavailable
// category returns a DictionaryUnavailable error.
type StoreSet interface {
	Store(c Category) (DictionaryStore, error)
}

// GeneOrganismMap maps gene text -> organism id -> gene id.
type GeneOrganismMap map[string]map[string]string

// Set records a binding, creating the inner map on demand.
func (m GeneOrganismMap) Set(gene, organism, geneID string) {
	inner, ok := m[gene]
	if !ok {
		inner = make(map[string]string)
		m[gene] = inner
	}
	inner[organism] = geneID
}

// Get returns the gene id bound to gene for organism.
func (m GeneOrganismMap) Get(gene, organism string) (string, bool) {
	id, ok := m[gene][organism]
	return id, ok
}

// OrganismTier is one source of gene/organism bindings.  Resolve returns the
// bindings it knows for the requested genes restricted to organisms.
type OrganismTier interface {
	Name() string
	Resolve(ctx context.Context, genes []string, organisms []string) (GeneOrganismMap, error)
}

// ManualAnnotationRepository stores user-authored overlays.
type ManualAnnotationRepository interface {
	ListGlobalExclusions(ctx context.Context) ([]ManualAnnotation, error)
	ListLocal(ctx context.Context, documentID string) (exclusions, inclusions []ManualAnnotation, err error)
	Save(ctx context.Context, m *ManualAnnotation) error
	Delete(ctx context.Context, id string) error
}

// Style is the presentation metadata of a category.
type Style struct {
	Color string `json:"color" mapstructure:"color"`
}

// StyleLookup returns the style for a category, false when none is defined.
type StyleLookup interface {
	Style(c Category) (Style, bool)
}

// AnnotationSink receives the final annotation set of a document.
type AnnotationSink interface {
	Publish(ctx context.Context, documentID string, annotations []Annotation) error
}
