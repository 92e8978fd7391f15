package organism_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/organism"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTier struct {
	name  string
	data  annotation.GeneOrganismMap
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), genes...))
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := annotation.GeneOrganismMap{}
	for _, g := range genes {
		for _, o := range organisms {
			if id, ok := f.data.Get(g, o); ok {
				out.Set(g, o, id)
			}
		}
	}
	return out, nil
}

func (f *fakeTier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func gene(text string, lo int) annotation.RawMatch {
	return annotation.RawMatch{
		Token:    annotation.Token{Text: text},
		Category: annotation.CategoryGene,
		Entries:  []annotation.DictionaryEntry{{EntityID: "HGNC:" + text, IDType: annotation.IDTypeNCBIGene}},
		Span:     annotation.Span{Lo: lo, Hi: lo + len(text)},
	}
}

func species(taxID string, lo int) annotation.RawMatch {
	return annotation.RawMatch{
		Token:    annotation.Token{Text: "sp"},
		Category: annotation.CategorySpecies,
		Entries:  []annotation.DictionaryEntry{{EntityID: taxID, IDType: annotation.IDTypeNCBITaxonomy}},
		Span:     annotation.Span{Lo: lo, Hi: lo + 2},
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestResolve_TierTwoFallback(t *testing.T) {
	one := &fakeTier{name: "table", data: annotation.GeneOrganismMap{}}
	two := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{"ACE2": {"9606": "59272"}}}

	r := organism.NewResolver(organism.DefaultConfig(), one, two, nil, nil)
	out, warnings, err := r.Resolve(context.Background(), []annotation.RawMatch{gene("ACE2", 0)}, "9606")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Len(t, out, 1)
	assert.Equal(t, "9606", out[0].OrganismID)
	assert.Equal(t, "59272", out[0].GeneID)
	assert.Equal(t, "59272", out[0].EntityID())
	assert.False(t, out[0].Unresolved())
}

func TestResolve_TierOneTakesPrecedence(t *testing.T) {
	one := &fakeTier{name: "table", data: annotation.GeneOrganismMap{"TP53": {"9606": "7157"}}}
	two := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{
		"TP53": {"9606": "999", "10090": "22059"},
	}}

	r := organism.NewResolver(organism.DefaultConfig(), one, two, nil, nil)
	bindings, warnings, err := r.Lookup(context.Background(), []string{"TP53"}, []string{"9606", "10090"})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	id, _ := bindings.Get("TP53", "9606")
	assert.Equal(t, "7157", id, "curated table wins")
	id, _ = bindings.Get("TP53", "10090")
	assert.Equal(t, "22059", id, "graph fills the gap")
}

func TestResolve_TierTwoSkippedWhenTierOneComplete(t *testing.T) {
	one := &fakeTier{name: "table", data: annotation.GeneOrganismMap{"TP53": {"9606": "7157"}}}
	two := &fakeTier{name: "graph"}

	r := organism.NewResolver(organism.DefaultConfig(), one, two, nil, nil)
	_, _, err := r.Resolve(context.Background(), []annotation.RawMatch{gene("TP53", 0)}, "")
	require.NoError(t, err)
	assert.Zero(t, two.callCount())
}

func TestResolve_SpeciesInDocumentOrderBeforeDefault(t *testing.T) {
	two := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{
		"Ace2": {"10090": "70008", "9606": "59272"},
	}}
	matches := []annotation.RawMatch{
		species("10116", 40),
		gene("Ace2", 10),
		species("10090", 0),
	}

	r := organism.NewResolver(organism.DefaultConfig(), nil, two, nil, nil)
	out, _, err := r.Resolve(context.Background(), matches, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"10090", "10116", "9606"},
		organism.CandidateOrganisms("", matches, annotation.HomoSapiensTaxID))
	assert.Equal(t, "10090", out[1].OrganismID)
	assert.Equal(t, "70008", out[1].GeneID)
	assert.Empty(t, out[0].OrganismID, "species matches pass through")
}

func TestResolve_UnresolvedGeneSurvives(t *testing.T) {
	r := organism.NewResolver(organism.DefaultConfig(),
		&fakeTier{name: "table"}, &fakeTier{name: "graph"}, nil, nil)

	out, _, err := r.Resolve(context.Background(), []annotation.RawMatch{gene("XYZ1", 0)}, "9606")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Unresolved())
	assert.Equal(t, "HGNC:XYZ1", out[0].EntityID())
}

func TestResolve_TimeoutIsAWarning(t *testing.T) {
	two := &fakeTier{name: "graph", delay: time.Second}
	cfg := organism.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond

	r := organism.NewResolver(cfg, nil, two, nil, nil)
	out, warnings, err := r.Resolve(context.Background(), []annotation.RawMatch{gene("ACE2", 0)}, "9606")
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, errors.CodeOrganismResolutionTimeout, warnings[0].Code)
	assert.True(t, out[0].Unresolved())
}

func TestResolve_TierErrorIsAWarning(t *testing.T) {
	one := &fakeTier{name: "table", err: stderrors.New("connection refused")}
	two := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{"ACE2": {"9606": "59272"}}}

	r := organism.NewResolver(organism.DefaultConfig(), one, two, nil, nil)
	out, warnings, err := r.Resolve(context.Background(), []annotation.RawMatch{gene("ACE2", 0)}, "")
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, errors.CodeOrganismResolutionFailed, warnings[0].Code)
	assert.Equal(t, "59272", out[0].GeneID, "tier two still runs")
}

func TestResolve_NoGenesSkipsTiers(t *testing.T) {
	one := &fakeTier{name: "table"}
	r := organism.NewResolver(organism.DefaultConfig(), one, nil, nil, nil)

	out, warnings, err := r.Resolve(context.Background(), []annotation.RawMatch{species("9606", 0)}, "")
	require.NoError(t, err)
	assert.Nil(t, warnings)
	assert.Len(t, out, 1)
	assert.Zero(t, one.callCount())
}

// ---------------------------------------------------------------------------
// Decorators
// ---------------------------------------------------------------------------

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return errors.New(errors.CodeNotFound, "cache miss")
	}
	return json.Unmarshal(b, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = b
	c.ttls[key] = ttl
	return nil
}

type cacheCounter struct{ hits, misses int }

func (c *cacheCounter) RecordCache(_ string, hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func TestCachedTier_ServesRepeatsFromCache(t *testing.T) {
	inner := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{"ACE2": {"9606": "59272"}}}
	cache := newMemCache()
	counter := &cacheCounter{}
	tier := organism.NewCachedTier(inner, cache, time.Hour, nil,
		organism.WithNegativeTTL(time.Second), organism.WithCacheMetrics(counter))

	orgs := []string{"9606"}
	first, err := tier.Resolve(context.Background(), []string{"ACE2", "NOPE"}, orgs)
	require.NoError(t, err)
	second, err := tier.Resolve(context.Background(), []string{"ACE2", "NOPE"}, orgs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.callCount())
	assert.Equal(t, "graph", tier.Name())
	assert.Equal(t, 2, counter.hits)
	assert.Equal(t, 2, counter.misses)

	var negative []time.Duration
	for _, ttl := range cache.ttls {
		negative = append(negative, ttl)
	}
	assert.ElementsMatch(t, []time.Duration{time.Hour, time.Second}, negative)
}

func TestCachedTier_DifferentOrganismSetsDoNotCollide(t *testing.T) {
	inner := &fakeTier{name: "graph", data: annotation.GeneOrganismMap{"Ace2": {"10090": "70008"}}}
	tier := organism.NewCachedTier(inner, newMemCache(), time.Hour, nil)

	_, err := tier.Resolve(context.Background(), []string{"Ace2"}, []string{"9606"})
	require.NoError(t, err)
	got, err := tier.Resolve(context.Background(), []string{"Ace2"}, []string{"10090", "9606"})
	require.NoError(t, err)

	id, ok := got.Get("Ace2", "10090")
	assert.True(t, ok)
	assert.Equal(t, "70008", id)
	assert.Equal(t, 2, inner.callCount())
}

func TestRateLimitedTier_WaitTimeoutIsTimeout(t *testing.T) {
	inner := &fakeTier{name: "graph"}
	tier := organism.NewRateLimitedTier(inner, time.Hour, 1)

	_, err := tier.Resolve(context.Background(), []string{"A"}, []string{"9606"})
	require.NoError(t, err, "burst allows the first call")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tier.Resolve(ctx, []string{"A"}, []string{"9606"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOrganismResolutionTimeout))
	assert.Equal(t, 1, inner.callCount())
}
