package dictionary

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Snapshot is an immutable set of open stores.  Callers Acquire a snapshot
// for the length of one pipeline pass and Release it afterwards; stores are
// unmapped when the last holder releases a superseded snapshot.
type Snapshot struct {
	stores  map[annotation.Category]*Store
	missing map[annotation.Category]error
	refs    atomic.Int32
	loaded  time.Time
}

var _ annotation.StoreSet = (*Snapshot)(nil)

// Store returns the handle for c or a DictionaryUnavailable error.
func (s *Snapshot) Store(c annotation.Category) (annotation.DictionaryStore, error) {
	if st, ok := s.stores[c]; ok {
		return st, nil
	}
	if err, ok := s.missing[c]; ok {
		return nil, err
	}
	return nil, errors.New(errors.CodeDictionaryUnavailable, "no dictionary configured").
		WithDetailf("category=%s", c)
}

// Available lists the categories with an open store.
func (s *Snapshot) Available() []annotation.Category {
	out := make([]annotation.Category, 0, len(s.stores))
	for _, c := range annotation.AllCategories {
		if _, ok := s.stores[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// LoadedAt returns when the snapshot was opened.
func (s *Snapshot) LoadedAt() time.Time { return s.loaded }

// Release drops one reference.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		for _, st := range s.stores {
			_ = st.Close()
		}
	}
}

// RegistryConfig tells the registry where each category's artifact lives.
type RegistryConfig struct {
	Dir        string
	Categories []annotation.Category
	// Paths overrides the file for individual categories.
	Paths map[annotation.Category]string
}

// Path returns the artifact path for c.
func (c RegistryConfig) Path(cat annotation.Category) string {
	if p, ok := c.Paths[cat]; ok && p != "" {
		return p
	}
	return filepath.Join(c.Dir, FileName(cat))
}

// Registry owns the current snapshot and replaces it on Reload.
type Registry struct {
	cfg    RegistryConfig
	logger logging.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewRegistry opens every configured category.  Categories whose file is
// missing or corrupt are recorded as unavailable; the registry itself is
// still usable.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = annotation.AllCategories
	}
	r := &Registry{cfg: cfg, logger: logger.Named("dictionary")}
	r.current = r.open()
	return r
}

func (r *Registry) open() *Snapshot {
	snap := &Snapshot{
		stores:  make(map[annotation.Category]*Store, len(r.cfg.Categories)),
		missing: make(map[annotation.Category]error),
		loaded:  time.Now(),
	}
	snap.refs.Store(1)
	for _, c := range r.cfg.Categories {
		path := r.cfg.Path(c)
		st, err := Open(c, path)
		if err != nil {
			r.logger.Warn("dictionary unavailable",
				logging.String("category", string(c)),
				logging.String("path", path),
				logging.Err(err))
			snap.missing[c] = err
			continue
		}
		snap.stores[c] = st
		r.logger.Debug("dictionary mapped",
			logging.String("category", string(c)),
			logging.Int("keys", st.Len()))
	}
	return snap
}

// Acquire returns the current snapshot with an extra reference.
func (r *Registry) Acquire() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.current.refs.Add(1)
	return r.current
}

// Reload maps all artifacts again and atomically swaps the snapshot.
// In-flight passes keep the snapshot they acquired.
func (r *Registry) Reload() {
	next := r.open()
	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()
	prev.Release()
	r.logger.Info("dictionaries reloaded", logging.Int("available", len(next.stores)))
}

// Close releases the registry's hold on the current snapshot.
func (r *Registry) Close() {
	r.mu.Lock()
	cur := r.current
	r.current = &Snapshot{missing: map[annotation.Category]error{}}
	r.current.refs.Store(1)
	r.mu.Unlock()
	cur.Release()
}

// Watch reloads when a dictionary artifact in the configured directory is
// created, written or renamed into place.  Events are debounced so an
// atomic publish of several files triggers one reload.  Watch blocks until
// ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create dictionary watcher")
	}
	defer w.Close()

	if err := w.Add(r.cfg.Dir); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "watch %s", r.cfg.Dir)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("dictionary watcher error", logging.Err(werr))
		case <-fire:
			fire = nil
			r.Reload()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, FileExtension) || strings.HasPrefix(filepath.Base(ev.Name), ".tmp-") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}
