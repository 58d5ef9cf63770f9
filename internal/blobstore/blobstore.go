// Package blobstore keeps uploaded assets in an S3 compatible bucket.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/config"
	"github.com/example/aiscore/internal/logging"
)

// ErrObjectNotFound is returned when the key has no object behind it.
var ErrObjectNotFound = errors.New("object not found")

// objectAPI is the part of *minio.Client the store needs.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Store reads and writes asset bytes by key.
type Store struct {
	client objectAPI
	bucket string
	logger *zap.Logger
}

// New builds a store from explicit credentials; no ambient profile is consulted.
func New(cfg config.BlobConfig, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, logger: logger.Named("blobstore")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return logging.NewOperationError("blobstore.bucket_exists", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return logging.NewOperationError("blobstore.make_bucket", s.bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

// Put writes data under key with the given content type.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		wrapped := logging.NewOperationError("blobstore.put", key, err)
		s.logger.Error("put object failed", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// Get returns the full object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.getError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.getError(key, err)
	}
	return data, nil
}

func (s *Store) getError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		err = fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	wrapped := logging.NewOperationError("blobstore.get", key, err)
	s.logger.Error("get object failed", zap.Error(wrapped))
	return wrapped
}
