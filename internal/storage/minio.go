// Package storage publishes assembled artifacts to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// DefaultURLExpiry is how long presigned download URLs stay valid.
const DefaultURLExpiry = 72 * time.Hour

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

// MinIOUploader uploads files to a bucket and returns presigned GET URLs.
type MinIOUploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger *zap.Logger
}

// NewMinIOUploader creates an uploader. No request is made until the first upload.
func NewMinIOUploader(cfg Config, logger *zap.Logger) (*MinIOUploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOUploader{client: client, bucket: cfg.Bucket, expiry: cfg.URLExpiry, logger: logger}, nil
}

// Upload puts localPath at objectName, creating the bucket on first use.
func (u *MinIOUploader) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	_, err := u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, objectName, u.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", objectName, err)
	}
	u.logger.Info("artifact uploaded", zap.String("bucket", u.bucket), zap.String("object", objectName))
	return presigned.String(), nil
}

func (u *MinIOUploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	u.logger.Info("bucket created", zap.String("bucket", u.bucket))
	return nil
}

// ContentType maps an artifact extension to its MIME type.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".gif":
		return "image/gif"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
