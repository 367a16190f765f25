package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"docintel/types"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Storage is the object storage collaborator: raw bytes in, raw bytes out.
type Storage interface {
	Get(ctx context.Context, container, key string) ([]byte, error)
	Put(ctx context.Context, container, key string, data []byte, contentType string) error
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type MinioStore struct {
	client *minio.Client
	logger *zap.Logger
}

func NewMinioStore(opts Options, logger *zap.Logger) (*MinioStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint not configured")
	}
	endpoint := strings.TrimPrefix(opts.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioStore{client: client, logger: logger}, nil
}

// EnsureBucket creates the bucket when it is missing.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket, region string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return types.Unavailable(types.StageStorage, "check bucket "+bucket, err)
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return types.Unavailable(types.StageStorage, "create bucket "+bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", bucket))
	return nil
}

func (s *MinioStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, container, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError("get", container, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, storageError("read", container, key, err)
	}
	return data, nil
}

func (s *MinioStore) Put(ctx context.Context, container, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, container, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return storageError("put", container, key, err)
	}
	s.logger.Debug("object stored",
		zap.String("bucket", container),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

func storageError(op, container, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return types.InvalidInput(types.StageStorage, fmt.Sprintf("object %s/%s not found", container, key))
	}
	return types.Unavailable(types.StageStorage, fmt.Sprintf("%s %s/%s", op, container, key), err)
}
