package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver stores export artifacts in long-term object storage.
type Archiver interface {
	// ArchiveExport uploads an export artifact and returns its object key.
	ArchiveExport(ctx context.Context, companyID string, result *ExportResult, format ExportFormat) (string, error)
}

// objectPutter is the subset of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads export artifacts to an S3-compatible bucket.
type S3Archiver struct {
	client     objectPutter
	bucketName string
	timeNow    func() time.Time // For testability
}

// S3ArchiverConfig holds configuration for the export archiver.
type S3ArchiverConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// NewS3Archiver creates an archiver backed by S3-compatible object storage.
func NewS3Archiver(cfg S3ArchiverConfig) (*S3Archiver, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Archiver{
		client:     client,
		bucketName: cfg.BucketName,
		timeNow:    time.Now,
	}, nil
}

// ArchiveExport uploads the export artifact under a key of the form
// audit-exports/{companyID}/{timestamp}-{uuid}.{ext}.
func (a *S3Archiver) ArchiveExport(ctx context.Context, companyID string, result *ExportResult, format ExportFormat) (string, error) {
	if companyID == "" {
		return "", ErrInvalidCompanyID
	}
	if result == nil || len(result.Data) == 0 {
		return "", errors.New("export result is empty")
	}

	ext := "json"
	if format == ExportFormatCSV {
		ext = "csv"
	}
	key := fmt.Sprintf("audit-exports/%s/%s-%s.%s",
		companyID,
		a.timeNow().UTC().Format("20060102T150405Z"),
		uuid.New().String(),
		ext,
	)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(result.Data),
		ContentType:   aws.String(result.ContentType),
		ContentLength: aws.Int64(int64(len(result.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive export: %w", err)
	}

	return key, nil
}
