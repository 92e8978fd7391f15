package dictionary

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Store is a read-only dictionary backed by a memory-mapped file.  Lookups
// binary-search the offset table directly on the mapping and are safe for
// concurrent use.  Close unmaps the file; a closed store reports itself
// unavailable.
type Store struct {
	category annotation.Category
	path     string

	mu     sync.RWMutex
	mm     mmap.MMap
	file   *os.File
	data   []byte
	count  int
	closed bool
}

var _ annotation.DictionaryStore = (*Store)(nil)

// Open maps the dictionary at path for category c.  A missing or malformed
// file yields a DictionaryUnavailable error rather than an empty store.
func Open(c annotation.Category, path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable(c, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, unavailable(c, path, err)
	}
	if info.Size() < headerSize {
		_ = f.Close()
		return nil, errCorrupt("file shorter than header").WithDetailf("category=%s path=%s", c, path)
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, unavailable(c, path, err)
	}

	s := &Store{category: c, path: path, mm: mm, file: f, data: mm}
	if err := s.parseHeader(); err != nil {
		_ = mm.Unmap()
		_ = f.Close()
		return nil, errors.Wrapf(err, errors.CodeDictionaryUnavailable, "open dictionary %s", path)
	}
	return s, nil
}

func unavailable(c annotation.Category, path string, cause error) *errors.AppError {
	return errors.New(errors.CodeDictionaryUnavailable, "dictionary unavailable").
		WithDetailf("category=%s path=%s", c, path).
		WithCause(cause)
}

func (s *Store) parseHeader() error {
	if len(s.data) < headerSize {
		return errCorrupt("file shorter than header")
	}
	if string(s.data[:8]) != magic {
		return errCorrupt("bad magic")
	}
	if v := binary.LittleEndian.Uint32(s.data[8:12]); v != formatVersion {
		return errCorrupt("unsupported version").WithDetailf("version=%d", v)
	}
	n := binary.LittleEndian.Uint32(s.data[12:16])
	if uint64(n)*offsetSize > uint64(len(s.data)-headerSize) {
		return errCorrupt("offset table past end of file")
	}
	s.count = int(n)
	return nil
}

// Category returns the category served by this store.
func (s *Store) Category() annotation.Category { return s.category }

// Path returns the mapped file path.
func (s *Store) Path() string { return s.path }

// Len returns the number of keys.
func (s *Store) Len() int { return s.count }

// Lookup returns the entries stored under key, nil when absent.  key must be
// normalized with annotation.NormalizeKey.
func (s *Store) Lookup(key string) ([]annotation.DictionaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, unavailable(s.category, s.path, errors.New(errors.CodeInternal, "store closed"))
	}

	i, found, err := s.search(key)
	if err != nil || !found {
		return nil, err
	}
	_, entries, err := s.record(i, true)
	return entries, err
}

// Contains reports whether key is present.
func (s *Store) Contains(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, unavailable(s.category, s.path, errors.New(errors.CodeInternal, "store closed"))
	}
	_, found, err := s.search(key)
	return found, err
}

// Keys returns every key in sorted order.  Used by tooling, not on the hot
// path.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.count)
	for i := 0; i < s.count; i++ {
		k, _, err := s.record(i, false)
		if err != nil {
			return nil, err
		}
		keys = append(keys, string(k))
	}
	return keys, nil
}

// Close unmaps the file.  It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.data = nil
	var err error
	if s.mm != nil {
		err = s.mm.Unmap()
		s.mm = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "unmap dictionary")
	}
	return nil
}

func (s *Store) search(key string) (int, bool, error) {
	want := []byte(key)
	var searchErr error
	i := sort.Search(s.count, func(i int) bool {
		if searchErr != nil {
			return true
		}
		k, _, err := s.record(i, false)
		if err != nil {
			searchErr = err
			return true
		}
		return bytes.Compare(k, want) >= 0
	})
	if searchErr != nil {
		return 0, false, searchErr
	}
	if i >= s.count {
		return i, false, nil
	}
	k, _, err := s.record(i, false)
	if err != nil {
		return 0, false, err
	}
	return i, bytes.Equal(k, want), nil
}

// record decodes the i-th record.  The key aliases the mapping; entries are
// copied out only when withEntries is set.
func (s *Store) record(i int, withEntries bool) ([]byte, []annotation.DictionaryEntry, error) {
	at := headerSize + i*offsetSize
	off := binary.LittleEndian.Uint64(s.data[at : at+offsetSize])
	if off >= uint64(len(s.data)) {
		return nil, nil, errCorrupt("record offset past end of file").WithDetailf("record=%d", i)
	}

	r := &reader{buf: s.data, pos: int(off)}
	key, err := r.bytes()
	if err != nil || !withEntries {
		return key, nil, err
	}

	n, err := r.uvarint()
	if err != nil {
		return nil, nil, err
	}
	// Each entry needs at least four length bytes.
	if n > uint64(len(s.data)-r.pos)/4 {
		return nil, nil, errCorrupt("entry count exceeds file size").WithDetailf("record=%d", i)
	}
	entries := make([]annotation.DictionaryEntry, 0, n)
	for j := uint64(0); j < n; j++ {
		var e annotation.DictionaryEntry
		var cat string
		for _, dst := range []*string{&e.EntityID, &e.IDType, &e.Name, &cat} {
			if *dst, err = r.string(); err != nil {
				return nil, nil, err
			}
		}
		e.Category = annotation.Category(cat)
		entries = append(entries, e)
	}
	return key, entries, nil
}
