// Package annotation provides the job-level annotation service: it gathers a
// document's manual overlays, runs the pipeline, and fans the result out to
// the configured sinks.
package annotation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/BioAnnotator/internal/annotation/overlay"
	"github.com/turtacn/BioAnnotator/internal/annotation/pipeline"
	domain "github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// globalExclusionsKey caches the global exclusion list.  Every document
// reads it, so it is the one overlay worth caching.
const globalExclusionsKey = "manual:global_exclusions"

// Service defines the application-level annotation operations.
type Service interface {
	Annotate(ctx context.Context, req *DocumentRequest) (*AnnotateResult, error)
	AddManual(ctx context.Context, m *domain.ManualAnnotation) (*domain.ManualAnnotation, error)
	RemoveManual(ctx context.Context, id string, scope domain.Scope) error
	ListManual(ctx context.Context, documentID string) (*domain.Overlays, error)
}

// Runner executes one pipeline pass.  *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// OverlayCache memoizes overlay lists.  *redis.Cache implements it.
type OverlayCache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
	Delete(ctx context.Context, keys ...string) error
}

// ManualValidator checks authored manual annotations.  *overlay.Validator
// implements it.
type ManualValidator interface {
	Validate(m *domain.ManualAnnotation) error
}

// SinkMetrics records sink outcomes.
type SinkMetrics interface {
	RecordSink(sink string, err error)
}

// NamedSink pairs an AnnotationSink with the label used in logs and metrics.
type NamedSink struct {
	Name string
	Sink domain.AnnotationSink
}

// DocumentRequest is a document job as read from a file or a Kafka event.
// Characters concatenated over ascending pages must equal Text.
type DocumentRequest struct {
	DocumentID      string                      `json:"document_id"`
	Text            string                      `json:"text"`
	Pages           map[int][]domain.LayoutChar `json:"pages"`
	Organism        string                      `json:"organism,omitempty"`
	Categories      []domain.Category           `json:"categories,omitempty"`
	LocalExclusions []domain.ManualAnnotation   `json:"local_exclusions,omitempty"`
	LocalInclusions []domain.ManualAnnotation   `json:"local_inclusions,omitempty"`
}

// Warning is the wire form of a non-fatal pipeline error.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// AnnotateResult is the outcome of one job.
type AnnotateResult struct {
	DocumentID  string              `json:"document_id"`
	Annotations []domain.Annotation `json:"annotations"`
	Warnings    []Warning           `json:"warnings"`
	Stats       pipeline.Stats      `json:"stats"`
}

// Config tunes the service.
type Config struct {
	// GlobalExclusionTTL bounds how stale the cached global list may be.
	GlobalExclusionTTL time.Duration
	// PublishTimeout bounds each sink call.
	PublishTimeout time.Duration
}

// Deps groups the collaborators.  Runner is required; everything else is
// optional so the CLI can annotate with nothing but local dictionaries.
type Deps struct {
	Runner     Runner
	Repository domain.ManualAnnotationRepository
	Cache      OverlayCache
	Validator  ManualValidator
	Sinks      []NamedSink
	Metrics    SinkMetrics
	Logger     logging.Logger
}

type serviceImpl struct {
	cfg       Config
	runner    Runner
	repo      domain.ManualAnnotationRepository
	cache     OverlayCache
	validator ManualValidator
	sinks     []NamedSink
	metrics   SinkMetrics
	logger    logging.Logger
	now       func() time.Time
}

// NewService creates the annotation application service.
func NewService(cfg Config, deps Deps) (Service, error) {
	if deps.Runner == nil {
		return nil, errors.New(errors.CodeInvalidParam, "annotation service: pipeline is required")
	}
	if cfg.GlobalExclusionTTL <= 0 {
		cfg.GlobalExclusionTTL = 5 * time.Minute
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &serviceImpl{
		cfg:       cfg,
		runner:    deps.Runner,
		repo:      deps.Repository,
		cache:     deps.Cache,
		validator: deps.Validator,
		sinks:     deps.Sinks,
		metrics:   deps.Metrics,
		logger:    logger.Named("annotation_service"),
		now:       time.Now,
	}, nil
}

// Annotate runs one document.  Annotations are returned even when a sink
// fails; the error then carries ErrCodeExternalService so callers can retry
// the publication.
func (s *serviceImpl) Annotate(ctx context.Context, req *DocumentRequest) (*AnnotateResult, error) {
	if req == nil {
		return nil, errors.New(errors.CodeInvalidParam, "document request is nil")
	}
	docID := req.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}

	overlays, err := s.loadOverlays(ctx, docID, req)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, pipeline.Input{
		Document:   &domain.Document{ID: docID, Text: req.Text, Pages: req.Pages},
		Organism:   req.Organism,
		Categories: req.Categories,
		Overlays:   overlays,
	})
	if err != nil {
		return nil, err
	}

	out := &AnnotateResult{
		DocumentID:  docID,
		Annotations: res.Annotations,
		Warnings:    toWarnings(res.Warnings),
		Stats:       res.Stats,
	}
	if out.Annotations == nil {
		out.Annotations = []domain.Annotation{}
	}
	return out, s.publish(ctx, docID, out.Annotations)
}

// loadOverlays merges stored overlays with those carried by the request.
// Request inclusions come after stored ones so they win a span conflict.
func (s *serviceImpl) loadOverlays(ctx context.Context, docID string, req *DocumentRequest) (domain.Overlays, error) {
	var o domain.Overlays
	if s.repo != nil {
		global, err := s.globalExclusions(ctx)
		if err != nil {
			return o, err
		}
		o.GlobalExclusions = global

		exc, inc, err := s.repo.ListLocal(ctx, docID)
		if err != nil {
			return o, errors.Wrap(err, errors.ErrCodeDatabaseError, "load local manual annotations").WithDetail(docID)
		}
		o.LocalExclusions, o.LocalInclusions = exc, inc
	}
	o.LocalExclusions = append(o.LocalExclusions, req.LocalExclusions...)
	o.LocalInclusions = append(o.LocalInclusions, req.LocalInclusions...)
	return o, nil
}

func (s *serviceImpl) globalExclusions(ctx context.Context) ([]domain.ManualAnnotation, error) {
	load := func(ctx context.Context) (interface{}, error) {
		list, err := s.repo.ListGlobalExclusions(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "load global exclusions")
		}
		if list == nil {
			list = []domain.ManualAnnotation{}
		}
		return list, nil
	}
	if s.cache == nil {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return v.([]domain.ManualAnnotation), nil
	}
	var list []domain.ManualAnnotation
	if err := s.cache.GetOrSet(ctx, globalExclusionsKey, &list, s.cfg.GlobalExclusionTTL, load); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *serviceImpl) publish(ctx context.Context, docID string, anns []domain.Annotation) error {
	var failed []string
	var firstErr error
	for _, ns := range s.sinks {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		err := ns.Sink.Publish(pctx, docID, anns)
		cancel()
		if s.metrics != nil {
			s.metrics.RecordSink(ns.Name, err)
		}
		if err != nil {
			s.logger.Error("annotation sink failed",
				logging.String("sink", ns.Name),
				logging.String("document_id", docID),
				logging.Err(err))
			failed = append(failed, ns.Name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.Wrap(firstErr, errors.ErrCodeExternalService, "publish annotations").
			WithDetailf("document_id=%s sinks=%v", docID, failed)
	}
	return nil
}

// AddManual validates and stores a manual annotation.  Saving a global
// exclusion invalidates the cached global list.
func (s *serviceImpl) AddManual(ctx context.Context, m *domain.ManualAnnotation) (*domain.ManualAnnotation, error) {
	if s.repo == nil {
		return nil, errors.New(errors.CodeInvalidParam, "manual annotation store is not configured")
	}
	if m == nil {
		return nil, errors.New(errors.CodeInvalidManualAnnotation, "manual annotation is nil")
	}
	if m.Scope == domain.ScopeLocal && m.DocumentID == "" {
		return nil, errors.New(errors.CodeInvalidManualAnnotation, "local manual annotation needs a document id")
	}
	if m.Scope == domain.ScopeGlobal && m.Kind == domain.KindInclusion {
		return nil, errors.New(errors.CodeInvalidManualAnnotation, "inclusions are always local")
	}
	if s.validator != nil {
		if err := s.validator.Validate(m); err != nil {
			return nil, err
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Save(ctx, m); err != nil {
		return nil, err
	}
	if m.Scope == domain.ScopeGlobal {
		s.invalidateGlobal(ctx)
	}
	s.logger.Info("manual annotation saved",
		logging.String("id", m.ID),
		logging.String("kind", string(m.Kind)),
		logging.String("scope", string(m.Scope)),
		logging.String("document_id", m.DocumentID))
	return m, nil
}

func (s *serviceImpl) RemoveManual(ctx context.Context, id string, scope domain.Scope) error {
	if s.repo == nil {
		return errors.New(errors.CodeInvalidParam, "manual annotation store is not configured")
	}
	if id == "" {
		return errors.New(errors.CodeInvalidParam, "manual annotation id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if scope != domain.ScopeLocal {
		s.invalidateGlobal(ctx)
	}
	return nil
}

// ListManual returns the stored overlays for documentID, global exclusions
// included.  It reads through to the repository.
func (s *serviceImpl) ListManual(ctx context.Context, documentID string) (*domain.Overlays, error) {
	if s.repo == nil {
		return nil, errors.New(errors.CodeInvalidParam, "manual annotation store is not configured")
	}
	global, err := s.repo.ListGlobalExclusions(ctx)
	if err != nil {
		return nil, err
	}
	out := &domain.Overlays{GlobalExclusions: global}
	if documentID != "" {
		out.LocalExclusions, out.LocalInclusions, err = s.repo.ListLocal(ctx, documentID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *serviceImpl) invalidateGlobal(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, globalExclusionsKey); err != nil {
		s.logger.Warn("failed to invalidate global exclusion cache", logging.Err(err))
	}
}

func toWarnings(in []*errors.AppError) []Warning {
	out := make([]Warning, 0, len(in))
	for _, w := range in {
		out = append(out, Warning{Code: string(w.Code), Message: w.Message, Detail: w.Detail})
	}
	return out
}

var _ ManualValidator = (*overlay.Validator)(nil)
