// Package dictionary distributes compiled dictionary artifacts between the
// object store and the local directory the registry maps from.
package dictionary

import (
	"context"
	"os"
	"sort"
	"time"

	dict "github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/storage/minio"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// ArtifactSource lists and downloads published artifacts.
// *minio.ArtifactStore implements it.
type ArtifactSource interface {
	List(ctx context.Context) ([]minio.Artifact, error)
	Fetch(ctx context.Context, name string) ([]byte, minio.Artifact, error)
}

// ArtifactSink uploads artifacts.  *minio.ArtifactStore implements it.
type ArtifactSink interface {
	Upload(ctx context.Context, name string, data []byte) (minio.Artifact, error)
}

// Locker serialises pulls across worker replicas sharing a volume.
// *redis.Mutex implements it.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Reloader swaps in freshly installed artifacts.  *dictionary.Registry
// implements it.
type Reloader interface {
	Reload()
}

// Report summarises one pull or push.
type Report struct {
	Installed []annotation.Category          `json:"installed"`
	Skipped   []annotation.Category          `json:"skipped"`
	Failed    map[annotation.Category]string `json:"failed,omitempty"`
}

func newReport() *Report {
	return &Report{Failed: map[annotation.Category]string{}}
}

// Syncer pulls dictionary artifacts from an ArtifactSource into the local
// layout described by a RegistryConfig.
type Syncer struct {
	cfg      dict.RegistryConfig
	source   ArtifactSource
	sink     ArtifactSink
	locker   Locker
	reloader Reloader
	logger   logging.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithLocker guards Pull with l.
func WithLocker(l Locker) SyncerOption { return func(s *Syncer) { s.locker = l } }

// WithReloader reloads r after a pull installs anything.
func WithReloader(r Reloader) SyncerOption { return func(s *Syncer) { s.reloader = r } }

// WithSink enables Push.
func WithSink(sink ArtifactSink) SyncerOption { return func(s *Syncer) { s.sink = sink } }

// NewSyncer creates a Syncer.  Categories default to all known ones.
func NewSyncer(cfg dict.RegistryConfig, source ArtifactSource, log logging.Logger, opts ...SyncerOption) *Syncer {
	if len(cfg.Categories) == 0 {
		cfg.Categories = annotation.AllCategories
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Syncer{cfg: cfg, source: source, logger: log.Named("dictionary_sync")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pull installs every published artifact whose checksum differs from the
// local copy.  Each artifact is validated before it replaces the local file,
// so a bad upload leaves the previous dictionary in service.  A failure on
// one category does not stop the others; it is recorded in the report.
func (s *Syncer) Pull(ctx context.Context) (*Report, error) {
	if s.locker != nil {
		if err := s.locker.Lock(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "acquire dictionary sync lock")
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release dictionary sync lock", logging.Err(err))
			}
		}()
	}

	published, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]minio.Artifact, len(published))
	for _, a := range published {
		byName[a.Name] = a
	}

	report := newReport()
	for _, c := range s.cfg.Categories {
		a, ok := byName[dict.FileName(c)]
		if !ok {
			continue
		}
		installed, err := s.pullOne(ctx, c, a)
		switch {
		case err != nil:
			report.Failed[c] = err.Error()
			s.logger.Warn("dictionary artifact not installed",
				logging.String("category", string(c)),
				logging.String("key", a.Key),
				logging.Code(err),
				logging.Err(err))
		case installed:
			report.Installed = append(report.Installed, c)
		default:
			report.Skipped = append(report.Skipped, c)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	if len(report.Installed) > 0 && s.reloader != nil {
		s.reloader.Reload()
	}
	s.logger.Info("dictionary pull finished",
		logging.Int("installed", len(report.Installed)),
		logging.Int("skipped", len(report.Skipped)),
		logging.Int("failed", len(report.Failed)))
	return report, nil
}

func (s *Syncer) pullOne(ctx context.Context, c annotation.Category, a minio.Artifact) (bool, error) {
	path := s.cfg.Path(c)
	if a.SHA256 != "" {
		if local, err := os.ReadFile(path); err == nil && minio.Checksum(local) == a.SHA256 {
			return false, nil
		}
	}
	data, _, err := s.source.Fetch(ctx, a.Name)
	if err != nil {
		return false, err
	}
	if err := dict.Install(path, data); err != nil {
		return false, err
	}
	s.logger.Info("dictionary artifact installed",
		logging.String("category", string(c)),
		logging.String("path", path),
		logging.Int64("size", int64(len(data))))
	return true, nil
}

// Push uploads the local artifacts of the given categories, or all
// configured ones when none are named.  Files are validated first so a
// corrupt local build is never published.
func (s *Syncer) Push(ctx context.Context, categories ...annotation.Category) (*Report, error) {
	if s.sink == nil {
		return nil, errors.New(errors.CodeInvalidParam, "dictionary push needs an artifact sink")
	}
	if len(categories) == 0 {
		categories = s.cfg.Categories
	}
	report := newReport()
	for _, c := range categories {
		path := s.cfg.Path(c)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			report.Skipped = append(report.Skipped, c)
			continue
		}
		if err == nil {
			err = dict.Validate(data)
		}
		if err == nil {
			_, err = s.sink.Upload(ctx, dict.FileName(c), data)
		}
		if err != nil {
			report.Failed[c] = err.Error()
			continue
		}
		report.Installed = append(report.Installed, c)
	}
	return report, nil
}

// Run pulls immediately and then every interval until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Pull(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("dictionary pull failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FailedCategories returns the categories that failed, sorted.
func (r *Report) FailedCategories() []annotation.Category {
	out := make([]annotation.Category, 0, len(r.Failed))
	for c := range r.Failed {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
