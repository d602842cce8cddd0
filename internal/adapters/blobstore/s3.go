package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/target/docflow/internal/core"
	apperrors "github.com/target/docflow/internal/errors"
)

// S3Config configures an S3 compatible object store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// CreateBucket creates the bucket at startup when it is missing.
	CreateBucket bool
	Logger       *slog.Logger
	Fetcher      Fetcher
}

// S3Store keeps file bytes in one bucket under "<job id>/<filename>" keys.
type S3Store struct {
	client  *minio.Client
	bucket  string
	logger  *slog.Logger
	fetcher Fetcher
}

// NewS3Store builds the minio client. It does not contact the endpoint; call EnsureBucket
// to verify connectivity.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger.With("component", "blobstore", "driver", "s3", "bucket", cfg.Bucket),
		fetcher: cfg.Fetcher,
	}, nil
}

// EnsureBucket checks the bucket exists and creates it when create is set.
func (s *S3Store) EnsureBucket(ctx context.Context, create bool) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperrors.Unavailable(err, "check bucket")
	}
	if exists {
		return nil
	}
	if !create {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %q: %w", s.bucket, err)
	}
	s.logger.InfoContext(ctx, "created bucket")
	return nil
}

// Upload overwrites any existing object with the same key.
func (s *S3Store) Upload(ctx context.Context, jobID, filename string, data []byte) (string, error) {
	key := Locator(jobID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("s3 put object %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "uploaded object", "key", key, "size", len(data))
	return key, nil
}

// SignedURL returns a presigned GET URL.
func (s *S3Store) SignedURL(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	key, err := cleanLocator(locator)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *S3Store) Download(ctx context.Context, locatorOrURL string) ([]byte, error) {
	if IsURL(locatorOrURL) {
		return s.fetcher.Fetch(ctx, locatorOrURL)
	}
	key, err := cleanLocator(locatorOrURL)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperrors.NotFoundf("object %s not found", key)
		}
		return nil, fmt.Errorf("s3 read object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, locator string) error {
	key, err := cleanLocator(locator)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 remove object %s: %w", key, err)
	}
	return nil
}

var _ core.BlobStore = (*S3Store)(nil)
