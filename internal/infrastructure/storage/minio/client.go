// Package minio distributes compiled dictionary artifacts through an S3
// compatible bucket.
package minio

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

var (
	ErrClientClosed   = errors.New(errors.ErrCodeInternal, "minio client is closed")
	ErrBucketNotFound = errors.New(errors.ErrCodeNotFound, "bucket not found")
)

// ObjectAPI is the subset of the MinIO client used here.  GetObject returns
// a plain ReadCloser so that tests can fake downloads.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

type minioAPI struct {
	*minio.Client
}

func (a minioAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.Client.GetObject(ctx, bucketName, objectName, opts)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	// CreateBucket makes the bucket on connect when it is missing.  Pull-only
	// workers leave it off.
	CreateBucket bool
}

type Client struct {
	api    ObjectAPI
	config Config
	logger logging.Logger
	closed atomic.Bool
}

func NewClient(cfg Config, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeValidation, "minio endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := NewClientWithAPI(minioAPI{mc}, cfg, log)
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info("MinIO client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wraps an existing ObjectAPI without any network calls.
func NewClientWithAPI(api ObjectAPI, cfg Config, log logging.Logger) *Client {
	return &Client{api: api, config: cfg, logger: log}
}

// EnsureBucket verifies the bucket, creating it when configured to.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}
	if exists {
		return nil
	}
	if !c.config.CreateBucket {
		return ErrBucketNotFound.WithDetail(c.config.Bucket)
	}
	if err := c.api.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return errors.Wrapf(err, errors.ErrCodeExternalService, "failed to create bucket %s", c.config.Bucket)
	}
	c.logger.Info("Created bucket", logging.String("bucket", c.config.Bucket))
	return nil
}

// HealthCheck reports whether the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	exists, err := c.api.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio health check failed")
	}
	if !exists {
		return ErrBucketNotFound.WithDetail(c.config.Bucket)
	}
	return nil
}

func (c *Client) Bucket() string { return c.config.Bucket }

func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}
