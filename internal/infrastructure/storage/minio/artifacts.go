package minio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// checksumKey is the user metadata entry holding the hex SHA-256 of an
// artifact.  S3 canonicalizes metadata names, so reads are case-insensitive.
const checksumKey = "Sha256"

var (
	ErrArtifactNotFound  = errors.New(errors.ErrCodeNotFound, "artifact not found")
	ErrChecksumMismatch  = errors.New(errors.ErrCodeValidation, "artifact checksum mismatch")
	ErrArtifactTooLarge  = errors.New(errors.ErrCodeValidation, "artifact exceeds size limit")
	defaultMaxArtifactSz = int64(2 << 30)
)

// Artifact describes one published object.
type Artifact struct {
	Key          string
	Name         string
	Size         int64
	ETag         string
	SHA256       string
	LastModified time.Time
}

// ArtifactStore reads and writes artifacts under a key prefix.
type ArtifactStore struct {
	client  *Client
	prefix  string
	maxSize int64
	logger  logging.Logger
}

func NewArtifactStore(client *Client, prefix string, log logging.Logger) *ArtifactStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ArtifactStore{client: client, prefix: prefix, maxSize: defaultMaxArtifactSz, logger: log}
}

// Key returns the object key for an artifact file name.
func (s *ArtifactStore) Key(name string) string { return s.prefix + name }

// List returns the artifacts directly under the prefix, sorted by name.
func (s *ArtifactStore) List(ctx context.Context) ([]Artifact, error) {
	if s.client.closed.Load() {
		return nil, ErrClientClosed
	}
	var out []Artifact
	for obj := range s.client.api.ListObjects(ctx, s.client.Bucket(), minio.ListObjectsOptions{Prefix: s.prefix, WithMetadata: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeExternalService, "failed to list artifacts")
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, Artifact{
			Key:          obj.Key,
			Name:         name,
			Size:         obj.Size,
			ETag:         obj.ETag,
			SHA256:       metadataValue(obj.UserMetadata, checksumKey),
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat returns the metadata of name.
func (s *ArtifactStore) Stat(ctx context.Context, name string) (Artifact, error) {
	key := s.Key(name)
	info, err := s.client.api.StatObject(ctx, s.client.Bucket(), key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Artifact{}, ErrArtifactNotFound.WithDetail(key)
		}
		return Artifact{}, errors.Wrap(err, errors.ErrCodeExternalService, "failed to stat artifact").WithDetail(key)
	}
	return Artifact{
		Key:          key,
		Name:         name,
		Size:         info.Size,
		ETag:         info.ETag,
		SHA256:       metadataValue(info.UserMetadata, checksumKey),
		LastModified: info.LastModified,
	}, nil
}

// Fetch downloads name and verifies its checksum when one was published.
func (s *ArtifactStore) Fetch(ctx context.Context, name string) ([]byte, Artifact, error) {
	meta, err := s.Stat(ctx, name)
	if err != nil {
		return nil, Artifact{}, err
	}
	if meta.Size > s.maxSize {
		return nil, meta, ErrArtifactTooLarge.WithDetailf("%s: %d bytes", meta.Key, meta.Size)
	}

	rc, err := s.client.api.GetObject(ctx, s.client.Bucket(), meta.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, meta, errors.Wrap(err, errors.ErrCodeExternalService, "failed to download artifact").WithDetail(meta.Key)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxSize+1))
	if err != nil {
		return nil, meta, errors.Wrap(err, errors.ErrCodeExternalService, "failed to read artifact").WithDetail(meta.Key)
	}
	if meta.SHA256 != "" {
		if sum := Checksum(data); !strings.EqualFold(sum, meta.SHA256) {
			return nil, meta, ErrChecksumMismatch.WithDetailf("%s: want %s got %s", meta.Key, meta.SHA256, sum)
		}
	}

	s.logger.Debug("Artifact fetched", logging.String("key", meta.Key), logging.Int("bytes", len(data)))
	return data, meta, nil
}

// Upload publishes data as name with its checksum attached.
func (s *ArtifactStore) Upload(ctx context.Context, name string, data []byte) (Artifact, error) {
	if s.client.closed.Load() {
		return Artifact{}, ErrClientClosed
	}
	key := s.Key(name)
	sum := Checksum(data)
	info, err := s.client.api.PutObject(ctx, s.client.Bucket(), key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{checksumKey: sum},
	})
	if err != nil {
		return Artifact{}, errors.Wrap(err, errors.ErrCodeExternalService, "failed to upload artifact").WithDetail(key)
	}

	s.logger.Info("Artifact uploaded", logging.String("key", key), logging.Int64("bytes", info.Size), logging.String("sha256", sum))
	return Artifact{Key: key, Name: path.Base(key), Size: info.Size, ETag: info.ETag, SHA256: sum, LastModified: info.LastModified}, nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func metadataValue(md map[string]string, key string) string {
	for k, v := range md {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), key) {
			return v
		}
	}
	return ""
}
