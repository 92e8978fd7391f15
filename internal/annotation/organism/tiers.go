package organism

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

// RateLimitedTier throttles calls to a remote tier.
type RateLimitedTier struct {
	inner   annotation.OrganismTier
	limiter *rate.Limiter
}

// NewRateLimitedTier allows one call per interval with the given burst.
func NewRateLimitedTier(inner annotation.OrganismTier, interval time.Duration, burst int) *RateLimitedTier {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimitedTier{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Name implements annotation.OrganismTier.
func (t *RateLimitedTier) Name() string { return t.inner.Name() }

// Resolve waits for a token and delegates.  Running out of time while
// waiting is reported as a timeout.
func (t *RateLimitedTier) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeOrganismResolutionTimeout, "rate limit wait").
			WithDetailf("tier=%s", t.inner.Name())
	}
	return t.inner.Resolve(ctx, genes, organisms)
}

// ---------------------------------------------------------------------------
// Caching
// ---------------------------------------------------------------------------

// Cache is the subset of the Redis cache used to memoize tier results.
// Get returns an error for a miss.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CacheMetrics records hit ratios.
type CacheMetrics interface {
	RecordCache(name string, hit bool)
}

// CachedTier memoizes per-gene bindings for a given organism set.  Genes the
// inner tier cannot bind are cached too, with NegativeTTL.
type CachedTier struct {
	inner       annotation.OrganismTier
	cache       Cache
	ttl         time.Duration
	negativeTTL time.Duration
	logger      logging.Logger
	metrics     CacheMetrics
}

// CachedTierOption configures a CachedTier.
type CachedTierOption func(*CachedTier)

// WithNegativeTTL sets how long an empty result is remembered.
func WithNegativeTTL(ttl time.Duration) CachedTierOption {
	return func(t *CachedTier) { t.negativeTTL = ttl }
}

// WithCacheMetrics attaches a hit/miss recorder.
func WithCacheMetrics(m CacheMetrics) CachedTierOption {
	return func(t *CachedTier) { t.metrics = m }
}

// NewCachedTier wraps inner with cache.
func NewCachedTier(inner annotation.OrganismTier, cache Cache, ttl time.Duration, logger logging.Logger, opts ...CachedTierOption) *CachedTier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	t := &CachedTier{
		inner:       inner,
		cache:       cache,
		ttl:         ttl,
		negativeTTL: time.Minute,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements annotation.OrganismTier.
func (t *CachedTier) Name() string { return t.inner.Name() }

// Resolve serves cached genes and forwards the rest in one batch.  Cache
// failures degrade to a pass-through.
func (t *CachedTier) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	scope := organismScope(organisms)
	out := annotation.GeneOrganismMap{}

	var misses []string
	for _, g := range genes {
		var cached map[string]string
		if err := t.cache.Get(ctx, cacheKey(t.inner.Name(), scope, g), &cached); err != nil {
			misses = append(misses, g)
			t.record(false)
			continue
		}
		t.record(true)
		for org, id := range cached {
			out.Set(g, org, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	found, err := t.inner.Resolve(ctx, misses, organisms)
	if err != nil {
		return nil, err
	}
	for _, g := range misses {
		byOrg := found[g]
		ttl := t.ttl
		if len(byOrg) == 0 {
			byOrg = map[string]string{}
			ttl = t.negativeTTL
		}
		for org, id := range byOrg {
			out.Set(g, org, id)
		}
		if err := t.cache.Set(ctx, cacheKey(t.inner.Name(), scope, g), byOrg, ttl); err != nil {
			t.logger.Warn("organism cache write failed", logging.String("gene", g), logging.Err(err))
		}
	}
	return out, nil
}

func (t *CachedTier) record(hit bool) {
	if t.metrics != nil {
		t.metrics.RecordCache("organism", hit)
	}
}

func organismScope(organisms []string) string {
	sorted := append([]string(nil), organisms...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:8])
}

func cacheKey(tier, scope, gene string) string {
	return "organism:" + tier + ":" + scope + ":" + gene
}
