// Package objectstore archives outbox messages in an S3-compatible bucket.
package objectstore

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// metaSHA256 is the user metadata key carrying the outbox checksum.
const metaSHA256 = "Sha256"

type MinIO struct {
	Client *minio.Client
	Bucket string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}
	return &MinIO{Client: c, Bucket: cfg.Bucket}, nil
}

func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.Bucket)
	if err != nil || exists {
		return err
	}
	return m.Client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{})
}

// Put stores r under key with the outbox checksum as user metadata.
func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64, contentType, sha256 string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if sha256 != "" {
		opts.UserMetadata = map[string]string{metaSHA256: sha256}
	}
	_, err := m.Client.PutObject(ctx, m.Bucket, key, r, size, opts)
	return err
}

// Stat reports whether key exists and the checksum it was stored with.
func (m *MinIO) Stat(ctx context.Context, key string) (sha256 string, ok bool, err error) {
	info, err := m.Client.StatObject(ctx, m.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, err
	}
	return info.UserMetadata[metaSHA256], true, nil
}
