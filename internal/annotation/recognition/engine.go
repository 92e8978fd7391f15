// Package recognition looks candidate tokens up in the per-category
// dictionaries and resolves overlapping hits into a non-overlapping set of
// raw matches.
package recognition

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

const (
	// DefaultWordLimit caps tokens for categories without an explicit limit.
	DefaultWordLimit = 6
	// DefaultLookupTimeout bounds a single dictionary lookup.
	DefaultLookupTimeout = 2 * time.Second
)

// DefaultWordLimits are the per-category n-gram caps.  Gene symbols are single
// words; food names rarely exceed four.
func DefaultWordLimits() map[annotation.Category]int {
	return map[annotation.Category]int{
		annotation.CategoryGene: 1,
		annotation.CategoryFood: 4,
	}
}

// Config tunes the engine.
type Config struct {
	Priority         annotation.Priority
	WordLimits       map[annotation.Category]int
	DefaultWordLimit int
	LookupTimeout    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Priority:         annotation.MustPriority(nil),
		WordLimits:       DefaultWordLimits(),
		DefaultWordLimit: DefaultWordLimit,
		LookupTimeout:    DefaultLookupTimeout,
	}
}

// WordLimit returns the n-gram cap for c.
func (c Config) WordLimit(cat annotation.Category) int {
	if n, ok := c.WordLimits[cat]; ok && n > 0 {
		return n
	}
	if c.DefaultWordLimit > 0 {
		return c.DefaultWordLimit
	}
	return DefaultWordLimit
}

// StopWords is the denylist consulted before any lookup.
type StopWords interface {
	Contains(text string) bool
}

// Metrics records lookup telemetry.
type Metrics interface {
	RecordLookup(category annotation.Category, result string)
	RecordDegraded(category annotation.Category)
}

// Lookup results reported to Metrics.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupError   = "error"
	LookupTimeout = "timeout"
)

// Result is the outcome of one recognition pass.
type Result struct {
	Matches []annotation.RawMatch
	// Degraded lists categories skipped after a store failure, with one
	// warning each in Warnings.
	Degraded []annotation.Category
	Warnings []*errors.AppError
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine is stateless between passes and safe for concurrent use.
type Engine struct {
	cfg     Config
	logger  logging.Logger
	metrics Metrics
}

// NewEngine constructs an engine.  A nil logger or metrics sink is replaced by
// a no-op.
func NewEngine(cfg Config, logger logging.Logger, metrics Metrics) *Engine {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.DefaultWordLimit <= 0 {
		cfg.DefaultWordLimit = DefaultWordLimit
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{cfg: cfg, logger: logger.Named("recognition"), metrics: metrics}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Recognize looks every non-stop-word token up in each requested category
// and returns the surviving matches ordered by offset.  A category whose
// store is missing, fails or times out is degraded: its matches are
// discarded and a warning recorded, the other categories proceed.  Only
// context cancellation aborts the pass.
func (e *Engine) Recognize(
	ctx context.Context,
	stores annotation.StoreSet,
	tokens []annotation.Token,
	categories []annotation.Category,
	stop StopWords,
) (*Result, error) {
	candidates := make([]annotation.Token, 0, len(tokens))
	keys := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if stop != nil && stop.Contains(tok.Text) {
			continue
		}
		key := annotation.NormalizeKey(tok.Text)
		if key == "" {
			continue
		}
		candidates = append(candidates, tok)
		keys = append(keys, key)
	}

	var (
		mu       sync.Mutex
		all      []annotation.RawMatch
		degraded = make(map[annotation.Category]*errors.AppError)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range categories {
		cat := cat
		g.Go(func() error {
			matches, err := e.scanCategory(gctx, stores, cat, candidates, keys)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil && !errors.IsCode(err, errors.CodeDictionaryUnavailable) {
					return ctxErr
				}
				ae := toDegradedWarning(cat, err)
				e.metrics.RecordDegraded(cat)
				e.logger.Warn("category degraded",
					logging.String("category", string(cat)),
					logging.Err(err))
				mu.Lock()
				degraded[cat] = ae
				mu.Unlock()
				// A degraded category never fails the pass.
				return nil
			}
			mu.Lock()
			all = append(all, matches...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "recognition cancelled")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "recognition cancelled")
	}

	res := &Result{Matches: ResolveOverlaps(all, e.cfg.Priority)}
	for _, cat := range categories {
		if w, ok := degraded[cat]; ok {
			res.Degraded = append(res.Degraded, cat)
			res.Warnings = append(res.Warnings, w)
		}
	}
	return res, nil
}

func toDegradedWarning(cat annotation.Category, err error) *errors.AppError {
	var ae *errors.AppError
	if errors.As(err, &ae) && ae.Code == errors.CodeDictionaryUnavailable {
		return ae
	}
	return errors.Wrap(err, errors.CodeDictionaryUnavailable, "dictionary unavailable").
		WithDetailf("category=%s", cat)
}

type lookupReply struct {
	entries []annotation.DictionaryEntry
	err     error
}

// scanCategory runs every lookup for cat on a dedicated worker goroutine so
// each lookup can be abandoned once it exceeds the configured timeout.
func (e *Engine) scanCategory(
	ctx context.Context,
	stores annotation.StoreSet,
	cat annotation.Category,
	tokens []annotation.Token,
	keys []string,
) ([]annotation.RawMatch, error) {
	store, err := stores.Store(cat)
	if err != nil {
		return nil, err
	}

	limit := e.cfg.WordLimit(cat)
	requests := make(chan string)
	replies := make(chan lookupReply, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case key := <-requests:
				entries, err := store.Lookup(key)
				select {
				case replies <- lookupReply{entries: entries, err: err}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	timer := time.NewTimer(e.cfg.LookupTimeout)
	defer timer.Stop()

	var out []annotation.RawMatch
	for i, tok := range tokens {
		if tok.WordCount() > limit {
			continue
		}

		select {
		case requests <- keys[i]:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.cfg.LookupTimeout)

		var reply lookupReply
		select {
		case reply = <-replies:
		case <-timer.C:
			e.metrics.RecordLookup(cat, LookupTimeout)
			return nil, errors.New(errors.CodeDictionaryUnavailable, "dictionary lookup timed out").
				WithDetailf("category=%s timeout=%s", cat, e.cfg.LookupTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if reply.err != nil {
			e.metrics.RecordLookup(cat, LookupError)
			return nil, reply.err
		}
		if len(reply.entries) == 0 {
			e.metrics.RecordLookup(cat, LookupMiss)
			continue
		}
		e.metrics.RecordLookup(cat, LookupHit)
		out = append(out, annotation.RawMatch{
			Token:      tok,
			Category:   cat,
			Entries:    reply.entries,
			Span:       tok.Span(),
			PageNumber: tok.PageNumber,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Overlap resolution
// ---------------------------------------------------------------------------

// ResolveOverlaps keeps a maximal set of non-overlapping matches per page.
// Longer spans are placed first; equal lengths fall back to category
// priority, then to the earlier offset.  Losing matches are dropped.  The
// result is ordered by offset.
func ResolveOverlaps(matches []annotation.RawMatch, priority annotation.Priority) []annotation.RawMatch {
	if len(matches) == 0 {
		return nil
	}

	ranked := make([]annotation.RawMatch, len(matches))
	copy(ranked, matches)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Span.Len() != b.Span.Len() {
			return a.Span.Len() > b.Span.Len()
		}
		if ra, rb := priority.Rank(a.Category), priority.Rank(b.Category); ra != rb {
			return ra < rb
		}
		if a.Span.Lo != b.Span.Lo {
			return a.Span.Lo < b.Span.Lo
		}
		return a.PageNumber < b.PageNumber
	})

	taken := make(map[int][]annotation.Span)
	out := make([]annotation.RawMatch, 0, len(ranked))
	for _, m := range ranked {
		if overlapsAny(taken[m.PageNumber], m.Span) {
			continue
		}
		taken[m.PageNumber] = insertSpan(taken[m.PageNumber], m.Span)
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Span.Lo != out[j].Span.Lo {
			return out[i].Span.Lo < out[j].Span.Lo
		}
		return out[i].PageNumber < out[j].PageNumber
	})
	return out
}

// overlapsAny checks s against disjoint spans sorted by Lo.
func overlapsAny(sorted []annotation.Span, s annotation.Span) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Hi > s.Lo })
	return i < len(sorted) && sorted[i].Lo < s.Hi
}

func insertSpan(sorted []annotation.Span, s annotation.Span) []annotation.Span {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Lo >= s.Lo })
	sorted = append(sorted, annotation.Span{})
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = s
	return sorted
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(annotation.Category, string) {}
func (noopMetrics) RecordDegraded(annotation.Category)       {}
