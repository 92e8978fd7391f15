// Package organism binds gene matches to an organism.  Bindings come from a
// curated exact-match table (tier one) and, for genes the table cannot bind,
// from a graph traversal (tier two).  Tier one wins whenever both tiers know
// the same gene/organism pair.
package organism

import (
	"context"
	"sort"
	"time"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Tier names reported to metrics.
const (
	TierOne = "tier_one"
	TierTwo = "tier_two"
)

// Resolution outcomes reported to metrics.
const (
	ResultResolved   = "resolved"
	ResultUnresolved = "unresolved"
	ResultTimeout    = "timeout"
	ResultError      = "error"
)

// Config tunes the resolver.
type Config struct {
	// DefaultOrganism is the last candidate tried for every gene.
	DefaultOrganism string
	// Timeout bounds each tier call.
	Timeout time.Duration
}

// DefaultConfig binds unqualified genes to Homo sapiens.
func DefaultConfig() Config {
	return Config{DefaultOrganism: annotation.HomoSapiensTaxID, Timeout: 5 * time.Second}
}

// Metrics records resolution telemetry.
type Metrics interface {
	RecordResolution(tier, result string, count int)
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cfg     Config
	tierOne annotation.OrganismTier
	tierTwo annotation.OrganismTier
	logger  logging.Logger
	metrics Metrics
}

// NewResolver wires the two tiers.  Either tier may be nil.
func NewResolver(cfg Config, tierOne, tierTwo annotation.OrganismTier, logger logging.Logger, metrics Metrics) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Resolver{
		cfg:     cfg,
		tierOne: tierOne,
		tierTwo: tierTwo,
		logger:  logger.Named("organism"),
		metrics: metrics,
	}
}

// CandidateOrganisms orders the organisms a gene may belong to: the explicit
// organism, the taxonomy ids of species recognized in the document in order
// of appearance, then fallback.  Duplicates and empty ids are removed.
func CandidateOrganisms(explicit string, matches []annotation.RawMatch, fallback string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(explicit)
	species := make([]annotation.RawMatch, 0)
	for _, m := range matches {
		if m.Category == annotation.CategorySpecies {
			species = append(species, m)
		}
	}
	sort.SliceStable(species, func(i, j int) bool { return species[i].Span.Lo < species[j].Span.Lo })
	for _, m := range species {
		add(m.Primary().EntityID)
	}
	add(fallback)
	return out
}

// Lookup resolves genes against organisms using both tiers.  Tier failures
// are returned as warnings and never as the error; the error is reserved for
// cancellation of ctx.
func (r *Resolver) Lookup(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, []*errors.AppError, error) {
	result := annotation.GeneOrganismMap{}
	if len(genes) == 0 || len(organisms) == 0 {
		return result, nil, nil
	}

	var warnings []*errors.AppError
	pending := genes

	if r.tierOne != nil {
		found, warn, err := r.call(ctx, TierOne, r.tierOne, genes, organisms)
		if err != nil {
			return nil, nil, err
		}
		if warn != nil {
			warnings = append(warnings, warn)
		}
		merge(result, found, organisms)
		pending = incomplete(genes, organisms, result)
	}

	if r.tierTwo != nil && len(pending) > 0 {
		found, warn, err := r.call(ctx, TierTwo, r.tierTwo, pending, organisms)
		if err != nil {
			return nil, nil, err
		}
		if warn != nil {
			warnings = append(warnings, warn)
		}
		// Tier one is authoritative: only fill pairs it left empty.
		merge(result, found, organisms)
	}
	return result, warnings, nil
}

func (r *Resolver) call(
	ctx context.Context,
	tier string,
	t annotation.OrganismTier,
	genes, organisms []string,
) (annotation.GeneOrganismMap, *errors.AppError, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	found, err := t.Resolve(cctx, genes, organisms)
	if err == nil {
		hits := 0
		for _, g := range genes {
			if len(found[g]) > 0 {
				hits++
			}
		}
		r.metrics.RecordResolution(tier, ResultResolved, hits)
		r.metrics.RecordResolution(tier, ResultUnresolved, len(genes)-hits)
		return found, nil, nil
	}
	if ctx.Err() != nil {
		return nil, nil, errors.Wrap(ctx.Err(), errors.CodeInternal, "organism resolution cancelled")
	}

	var warn *errors.AppError
	if cctx.Err() == context.DeadlineExceeded || errors.IsCode(err, errors.CodeOrganismResolutionTimeout) {
		r.metrics.RecordResolution(tier, ResultTimeout, len(genes))
		warn = errors.Wrap(err, errors.CodeOrganismResolutionTimeout, "organism resolution timed out").
			WithDetailf("tier=%s genes=%d timeout=%s", t.Name(), len(genes), r.cfg.Timeout)
	} else {
		r.metrics.RecordResolution(tier, ResultError, len(genes))
		warn = errors.Wrap(err, errors.CodeOrganismResolutionFailed, "organism resolution failed").
			WithDetailf("tier=%s genes=%d", t.Name(), len(genes))
	}
	r.logger.Warn("organism tier degraded",
		logging.String("tier", t.Name()),
		logging.Int("genes", len(genes)),
		logging.Err(err))
	return nil, warn, nil
}

// merge copies bindings restricted to organisms into dst without overwriting.
func merge(dst, src annotation.GeneOrganismMap, organisms []string) {
	for gene, byOrg := range src {
		for _, org := range organisms {
			id, ok := byOrg[org]
			if !ok || id == "" {
				continue
			}
			if _, exists := dst.Get(gene, org); exists {
				continue
			}
			dst.Set(gene, org, id)
		}
	}
}

// incomplete returns genes lacking a binding for any candidate organism.
func incomplete(genes, organisms []string, m annotation.GeneOrganismMap) []string {
	var out []string
	for _, g := range genes {
		for _, org := range organisms {
			if _, ok := m.Get(g, org); !ok {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// Resolve binds every Gene match to the first candidate organism with a
// known gene id.  Non-gene matches pass through untouched; genes without a
// binding survive with an empty organism.
func (r *Resolver) Resolve(ctx context.Context, matches []annotation.RawMatch, explicit string) ([]annotation.ResolvedMatch, []*errors.AppError, error) {
	out := make([]annotation.ResolvedMatch, len(matches))
	var genes []string
	seen := make(map[string]struct{})
	for i, m := range matches {
		out[i] = annotation.ResolvedMatch{RawMatch: m}
		if m.Category != annotation.CategoryGene {
			continue
		}
		if _, dup := seen[m.Token.Text]; !dup {
			seen[m.Token.Text] = struct{}{}
			genes = append(genes, m.Token.Text)
		}
	}
	if len(genes) == 0 {
		return out, nil, nil
	}

	organisms := CandidateOrganisms(explicit, matches, r.cfg.DefaultOrganism)
	bindings, warnings, err := r.Lookup(ctx, genes, organisms)
	if err != nil {
		return nil, nil, err
	}

	unresolved := 0
	for i := range out {
		if out[i].Category != annotation.CategoryGene {
			continue
		}
		for _, org := range organisms {
			if id, ok := bindings.Get(out[i].Token.Text, org); ok {
				out[i].OrganismID = org
				out[i].GeneID = id
				break
			}
		}
		if out[i].OrganismID == "" {
			unresolved++
		}
	}
	if unresolved > 0 {
		r.logger.Debug("genes without organism binding", logging.Int("count", unresolved))
	}
	return out, warnings, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordResolution(string, string, int) {}
