// Package pipeline runs one document through tokenization, recognition,
// organism resolution, manual overlays and assembly.
//
// A pass is all-or-nothing: a fatal error returns no annotations, while
// degradations (a missing dictionary, a slow resolver tier, an unlocatable
// manual inclusion) are collected in Result.Warnings.
package pipeline

import (
	"context"
	"time"

	"github.com/turtacn/BioAnnotator/internal/annotation/assembler"
	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/annotation/organism"
	"github.com/turtacn/BioAnnotator/internal/annotation/overlay"
	"github.com/turtacn/BioAnnotator/internal/annotation/recognition"
	"github.com/turtacn/BioAnnotator/internal/annotation/tokenizer"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Document statuses reported to Metrics.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// Config tunes a Pipeline.
type Config struct {
	// MaxWordLength caps n-gram size at tokenization.  Zero derives it from
	// the largest recognition word limit.
	MaxWordLength int
	// KeepTrivialTokens disables the digit/punctuation/single-letter filter.
	KeepTrivialTokens bool
	// Categories searched when the input names none.  Empty means all.
	Categories  []annotation.Category
	Recognition recognition.Config
	Organism    organism.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Recognition: recognition.DefaultConfig(),
		Organism:    organism.DefaultConfig(),
	}
}

// Dictionaries hands out store snapshots.  *dictionary.Registry implements it.
type Dictionaries interface {
	Acquire() *dictionary.Snapshot
}

// Metrics records per-document telemetry.
type Metrics interface {
	RecordDocument(status string, duration time.Duration, annotations int)
}

// Deps groups the collaborators of a Pipeline.  Only Dictionaries is
// required.
type Deps struct {
	Dictionaries Dictionaries
	StopWords    recognition.StopWords
	TierOne      annotation.OrganismTier
	TierTwo      annotation.OrganismTier
	Styles       annotation.StyleLookup
	Logger       logging.Logger

	RecognitionMetrics recognition.Metrics
	OrganismMetrics    organism.Metrics
	OverlayMetrics     overlay.Metrics
	Metrics            Metrics

	// NewID overrides annotation UUID generation.
	NewID func() string
}

// Input is one unit of work.
type Input struct {
	Document *annotation.Document
	// Organism is the explicit taxonomy id, tried first for every gene.
	Organism   string
	Categories []annotation.Category
	Overlays   annotation.Overlays
}

// Stats summarises a pass.
type Stats struct {
	Tokens      int
	Matches     int
	Annotations int
	Degraded    []annotation.Category
	Duration    time.Duration
}

// Result is the outcome of a successful pass.
type Result struct {
	Annotations []annotation.Annotation
	Warnings    []*errors.AppError
	Stats       Stats
}

// Pipeline is safe for concurrent use; passes share nothing but the
// read-only dictionary snapshot.
type Pipeline struct {
	cfg       Config
	dicts     Dictionaries
	stop      recognition.StopWords
	tokenizer *tokenizer.Tokenizer
	engine    *recognition.Engine
	resolver  *organism.Resolver
	merger    *overlay.Merger
	assembler *assembler.Assembler
	logger    logging.Logger
	metrics   Metrics
}

// New wires a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Dictionaries == nil {
		return nil, errors.New(errors.CodeInvalidParam, "pipeline: dictionaries are required")
	}
	for _, c := range cfg.Categories {
		if !c.Valid() {
			return nil, errors.New(errors.CodeInvalidParam, "pipeline: unknown category").WithDetailf("category=%s", c)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	engine := recognition.NewEngine(cfg.Recognition, logger, deps.RecognitionMetrics)
	maxWords := cfg.MaxWordLength
	if maxWords <= 0 {
		maxWords = maxWordLimit(engine.Config())
	}

	asmOpts := []assembler.Option{assembler.WithLogger(logger)}
	if deps.NewID != nil {
		asmOpts = append(asmOpts, assembler.WithIDGenerator(deps.NewID))
	}
	styles := deps.Styles
	if styles == nil {
		styles = assembler.Palette(assembler.DefaultPalette)
	}

	return &Pipeline{
		cfg:       cfg,
		dicts:     deps.Dictionaries,
		stop:      deps.StopWords,
		tokenizer: tokenizer.New(tokenizer.Options{MaxWordLength: maxWords, SkipTrivial: !cfg.KeepTrivialTokens}),
		engine:    engine,
		resolver:  organism.NewResolver(cfg.Organism, deps.TierOne, deps.TierTwo, logger, deps.OrganismMetrics),
		merger:    overlay.NewMerger(logger, deps.OverlayMetrics),
		assembler: assembler.New(styles, asmOpts...),
		logger:    logger.Named("pipeline"),
		metrics:   metrics,
	}, nil
}

func maxWordLimit(cfg recognition.Config) int {
	n := cfg.WordLimit("")
	for c := range cfg.WordLimits {
		if l := cfg.WordLimit(c); l > n {
			n = l
		}
	}
	return n
}

// Run processes one document.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx, in)
	elapsed := time.Since(start)

	docID := ""
	if in.Document != nil {
		docID = in.Document.ID
	}
	if err != nil {
		p.metrics.RecordDocument(StatusFailed, elapsed, 0)
		p.logger.Error("document annotation failed",
			logging.String("document_id", docID),
			logging.Duration("duration", elapsed),
			logging.Code(err),
			logging.Err(err))
		return nil, err
	}

	res.Stats.Duration = elapsed
	status := StatusOK
	if len(res.Warnings) > 0 {
		status = StatusDegraded
	}
	p.metrics.RecordDocument(status, elapsed, len(res.Annotations))
	p.logger.Info("document annotated",
		logging.String("document_id", docID),
		logging.Int("tokens", res.Stats.Tokens),
		logging.Int("matches", res.Stats.Matches),
		logging.Int("annotations", res.Stats.Annotations),
		logging.Int("warnings", len(res.Warnings)),
		logging.Duration("duration", elapsed))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, in Input) (*Result, error) {
	layout, err := annotation.NewLayout(in.Document)
	if err != nil {
		return nil, err
	}
	categories, err := p.categories(in.Categories)
	if err != nil {
		return nil, err
	}

	snap := p.dicts.Acquire()
	defer snap.Release()

	tokens := p.tokenizer.Tokenize(layout)
	rec, err := p.engine.Recognize(ctx, snap, tokens, categories, p.stop)
	if err != nil {
		return nil, err
	}
	warnings := append([]*errors.AppError(nil), rec.Warnings...)

	resolved, orgWarnings, err := p.resolver.Resolve(ctx, rec.Matches, in.Organism)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, orgWarnings...)

	merged, overlayWarnings, err := p.merger.Merge(layout, annotation.FromResolved(resolved), in.Overlays)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, overlayWarnings...)

	annotations, styleWarnings := p.assembler.Assemble(layout, merged)
	warnings = append(warnings, styleWarnings...)

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "annotation cancelled")
	}
	return &Result{
		Annotations: annotations,
		Warnings:    warnings,
		Stats: Stats{
			Tokens:      len(tokens),
			Matches:     len(rec.Matches),
			Annotations: len(annotations),
			Degraded:    rec.Degraded,
		},
	}, nil
}

func (p *Pipeline) categories(requested []annotation.Category) ([]annotation.Category, error) {
	if len(requested) == 0 {
		requested = p.cfg.Categories
	}
	if len(requested) == 0 {
		return annotation.AllCategories, nil
	}
	seen := make(map[annotation.Category]struct{}, len(requested))
	out := make([]annotation.Category, 0, len(requested))
	for _, c := range requested {
		if !c.Valid() {
			return nil, errors.New(errors.CodeInvalidParam, "unknown category").WithDetailf("category=%s", c)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordDocument(string, time.Duration, int) {}
