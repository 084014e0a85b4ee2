package external

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API defines the subset of the S3 client used by S3ArchiveUploader.
// Extracted for testability; tests provide a mock implementation.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveConfig holds the configuration for creating an S3ArchiveUploader.
type S3ArchiveConfig struct {
	// Bucket is the destination bucket for archive objects.
	Bucket string
	// EndpointURL overrides the S3 endpoint for LocalStack. Empty in prod.
	EndpointURL string
	// Logger for upload operations.
	Logger *slog.Logger
}

// S3ArchiveUploader implements ArchiveUploader against an S3 bucket. The
// retention sweep skips its database delete whenever UploadArchive errors,
// so this implementation only reports success after PutObject succeeds.
type S3ArchiveUploader struct {
	api    S3API
	bucket string
	logger *slog.Logger
}

// NewS3ArchiveUploader creates a new S3ArchiveUploader from an AWS config.
func NewS3ArchiveUploader(awsCfg aws.Config, cfg S3ArchiveConfig) *S3ArchiveUploader {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiveUploaderWithAPI(client, cfg)
}

// NewS3ArchiveUploaderWithAPI creates an S3ArchiveUploader with a
// pre-configured S3API. Useful for testing with a mock S3 interface.
func NewS3ArchiveUploaderWithAPI(api S3API, cfg S3ArchiveConfig) *S3ArchiveUploader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &S3ArchiveUploader{
		api:    api,
		bucket: cfg.Bucket,
		logger: logger,
	}
}

// UploadArchive writes one compressed archive object under the given key.
func (u *S3ArchiveUploader) UploadArchive(ctx context.Context, key string, data []byte) error {
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s to bucket %s: %w", key, u.bucket, err)
	}

	u.logger.InfoContext(ctx, "archive uploaded",
		"bucket", u.bucket,
		"key", key,
		"bytes", len(data),
	)
	return nil
}

// Compile-time assertion that S3ArchiveUploader satisfies ArchiveUploader.
var _ ArchiveUploader = (*S3ArchiveUploader)(nil)
