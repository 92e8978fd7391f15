package dictionary

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Builder accumulates entries for one category and serializes them into the
// on-disk format.  Keys are normalized on Add; entries for the same key keep
// insertion order, duplicates by (entity_id, id_type) are dropped.
type Builder struct {
	category annotation.Category
	entries  map[string][]annotation.DictionaryEntry
}

// NewBuilder creates a builder for category c.
func NewBuilder(c annotation.Category) *Builder {
	return &Builder{category: c, entries: make(map[string][]annotation.DictionaryEntry)}
}

// Add registers an entry under the normalized form of text.  Empty keys are
// ignored.
func (b *Builder) Add(text string, e annotation.DictionaryEntry) {
	key := annotation.NormalizeKey(text)
	if key == "" {
		return
	}
	if e.Category == "" {
		e.Category = b.category
	}
	for _, existing := range b.entries[key] {
		if existing.EntityID == e.EntityID && existing.IDType == e.IDType {
			return
		}
	}
	b.entries[key] = append(b.entries[key], e)
}

// Len returns the number of distinct keys.
func (b *Builder) Len() int { return len(b.entries) }

// Bytes serializes the dictionary.
func (b *Builder) Bytes() []byte {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body []byte
	offsets := make([]uint64, len(keys))
	base := uint64(headerSize + offsetSize*len(keys))
	for i, k := range keys {
		offsets[i] = base + uint64(len(body))
		body = encodeRecord(body, k, b.entries[k])
	}

	var buf bytes.Buffer
	buf.Grow(int(base) + len(body))
	buf.WriteString(magic)
	_ = binary.Write(&buf, binary.LittleEndian, formatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(keys)))
	_ = binary.Write(&buf, binary.LittleEndian, offsets)
	buf.Write(body)
	return buf.Bytes()
}

// WriteFile writes the dictionary to path atomically: the bytes go to a
// temporary file in the same directory which is then renamed over path, so
// readers mapping the old file keep a consistent view.
func (b *Builder) WriteFile(path string) error {
	return writeAtomic(path, b.Bytes())
}

// Install validates data and publishes it at path with the same atomic
// rename as WriteFile.  A malformed artifact leaves path untouched.
func Install(path string, data []byte) error {
	if err := Validate(data); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create dictionary directory")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create temporary dictionary file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.CodeInternal, "write dictionary")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.CodeInternal, "sync dictionary")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.CodeInternal, "close dictionary")
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrap(err, errors.CodeInternal, "publish dictionary")
	}
	return nil
}

// Validate checks that data is a well-formed dictionary by decoding every
// record.  It is used before publishing a downloaded artifact.
func Validate(data []byte) error {
	s := &Store{data: data}
	if err := s.parseHeader(); err != nil {
		return err
	}
	for i := 0; i < s.count; i++ {
		if _, _, err := s.record(i, true); err != nil {
			return err
		}
	}
	return nil
}
