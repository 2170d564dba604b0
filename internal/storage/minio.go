// Package storage wraps a MinIO client for the two things the pipeline
// needs from an object store: fetching a document's source bytes and
// writing back the images ImageSink extracts from it.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorage is the subset of object-store operations the pipeline
// depends on, satisfied by *MinIOClient.
type ObjectStorage interface {
	GeneratePresignedUploadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, objectSize int64, contentType string) error
	DownloadFile(ctx context.Context, objectKey string) (*minio.Object, error)
	DeleteFile(ctx context.Context, objectKey string) error
	GetFileInfo(ctx context.Context, objectKey string) (minio.ObjectInfo, error)
	CheckFileExists(ctx context.Context, objectKey string) (bool, error)
}

// MinIOClient is the ObjectStorage implementation backing SourceFetcher
// and ImageSink.
type MinIOClient struct {
	client     *minio.Client
	bucketName string
}

var _ ObjectStorage = (*MinIOClient)(nil)

// MinIOConfig configures a MinIOClient.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// NewMinIOClient dials MinIO and ensures BucketName exists, creating it
// if necessary.
func NewMinIOClient(cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: new client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", cfg.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", cfg.BucketName, err)
		}
	}

	return &MinIOClient{client: client, bucketName: cfg.BucketName}, nil
}

// GeneratePresignedUploadURL returns a presigned PUT URL for objectKey,
// valid for expires.
func (mc *MinIOClient) GeneratePresignedUploadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	u, err := mc.client.PresignedPutObject(ctx, mc.bucketName, objectKey, expires)
	if err != nil {
		return "", fmt.Errorf("storage: presign upload %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// GeneratePresignedDownloadURL returns a presigned GET URL for objectKey,
// valid for expires.
func (mc *MinIOClient) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	u, err := mc.client.PresignedGetObject(ctx, mc.bucketName, objectKey, expires, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign download %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// UploadFile writes reader's contents to objectKey.
func (mc *MinIOClient) UploadFile(ctx context.Context, objectKey string, reader io.Reader, objectSize int64, contentType string) error {
	if _, err := mc.client.PutObject(ctx, mc.bucketName, objectKey, reader, objectSize, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("storage: upload %s: %w", objectKey, err)
	}
	return nil
}

// DownloadFile opens objectKey for reading. The caller must close the
// returned object.
func (mc *MinIOClient) DownloadFile(ctx context.Context, objectKey string) (*minio.Object, error) {
	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: download %s: %w", objectKey, err)
	}
	return object, nil
}

// DeleteFile removes objectKey.
func (mc *MinIOClient) DeleteFile(ctx context.Context, objectKey string) error {
	if err := mc.client.RemoveObject(ctx, mc.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: delete %s: %w", objectKey, err)
	}
	return nil
}

// GetFileInfo returns objectKey's metadata (size, modification time, etc).
func (mc *MinIOClient) GetFileInfo(ctx context.Context, objectKey string) (minio.ObjectInfo, error) {
	info, err := mc.client.StatObject(ctx, mc.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, fmt.Errorf("storage: stat %s: %w", objectKey, err)
	}
	return info, nil
}

// CheckFileExists reports whether objectKey exists. A NoSuchKey response
// is a (false, nil) result rather than an error.
func (mc *MinIOClient) CheckFileExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := mc.client.StatObject(ctx, mc.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("storage: check exists %s: %w", objectKey, err)
	}
	return true, nil
}

// publicReadPolicyTemplate grants anonymous s3:GetObject/s3:ListBucket,
// so images uploaded by ImageSink are reachable through the public URLs
// rewritten into chunk Markdown.
const publicReadPolicyTemplate = `{
	"Version": "2012-10-17",
	"Statement": [
		{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject", "s3:ListBucket"],
			"Resource": ["arn:aws:s3:::%s", "arn:aws:s3:::%s/*"]
		}
	]
}`

// SetPublicReadPolicy grants anonymous read access on the bucket, per
// spec.md §6's default object-store bucket policy. Safe to call
// repeatedly; each call overwrites the prior policy.
func (mc *MinIOClient) SetPublicReadPolicy(ctx context.Context) error {
	policy := fmt.Sprintf(publicReadPolicyTemplate, mc.bucketName, mc.bucketName)
	if err := mc.client.SetBucketPolicy(ctx, mc.bucketName, policy); err != nil {
		return fmt.Errorf("storage: set bucket policy: %w", err)
	}
	return nil
}

// PublicObjectURL builds the public HTTP URL for objectKey under this
// bucket, given the object store's externally reachable base URL (the
// endpoint MinIOClient itself was constructed with may be internal-only,
// e.g. inside a Docker network, so callers pass the public-facing one
// explicitly rather than reading it back off the client).
func (mc *MinIOClient) PublicObjectURL(publicBaseURL, objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", publicBaseURL, mc.bucketName, objectKey)
}
