// Package dictionary implements the read-only, memory-mapped dictionary store
// backing entity recognition, its offline builder, and a registry that hands
// out per-category handles and swaps them atomically when a new artifact is
// published.
//
// File layout (little endian):
//
//	[0:8)    magic "BANNDICT"
//	[8:12)   uint32 format version
//	[12:16)  uint32 key count N
//	[16:16+8N) uint64 record offsets, ordered by key
//	records:  uvarint keyLen, key, uvarint entryCount,
//	          entryCount × (entity_id, id_type, name, category) as uvarint-prefixed strings
package dictionary

import (
	"encoding/binary"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

const (
	magic         = "BANNDICT"
	formatVersion = uint32(1)
	headerSize    = 16
	offsetSize    = 8
)

// FileExtension is the suffix of published dictionary artifacts.
const FileExtension = ".dict"

// FileName returns the conventional artifact name for a category.
func FileName(c annotation.Category) string {
	return "entities_" + string(c) + FileExtension
}

func errCorrupt(detail string) *errors.AppError {
	return errors.New(errors.CodeDictionaryUnavailable, "dictionary file is corrupt").WithDetail(detail)
}

// reader decodes a record from a mapped byte slice with bounds checks.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) uvarint() (uint64, error) {
	if r.pos >= len(r.buf) {
		return 0, errCorrupt("varint past end of file")
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errCorrupt("invalid varint")
	}
	r.pos += n
	return v, nil
}

// bytes returns a length-prefixed slice aliasing the mapped file.
func (r *reader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.pos) {
		return nil, errCorrupt("string past end of file")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func encodeRecord(dst []byte, key string, entries []annotation.DictionaryEntry) []byte {
	dst = appendString(dst, key)
	dst = binary.AppendUvarint(dst, uint64(len(entries)))
	for _, e := range entries {
		dst = appendString(dst, e.EntityID)
		dst = appendString(dst, e.IDType)
		dst = appendString(dst, e.Name)
		dst = appendString(dst, string(e.Category))
	}
	return dst
}
