// Package archive uploads signed audit export bundles to S3-compatible
// object storage for long-term retention.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/antevus/labtrail/internal/audit"
)

// contentTypes maps export formats to object content types.
var contentTypes = map[audit.ExportFormat]string{
	audit.ExportFormatCSV:  "text/csv",
	audit.ExportFormatJSON: "application/json",
	audit.ExportFormatCBOR: "application/cbor",
}

// Service writes export bundles to a bucket.
type Service struct {
	s3Client   *s3.Client
	bucketName string
	format     audit.ExportFormat
	timeNow    func() time.Time // For testability
}

// ServiceConfig holds configuration for the archive service.
type ServiceConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// Format for archived bundles. Defaults to CBOR, the most compact of
	// the supported encodings.
	Format audit.ExportFormat
}

// NewService creates a new archive service with the given configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
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
	if cfg.Format == "" {
		cfg.Format = audit.ExportFormatCBOR
	}
	if _, ok := contentTypes[cfg.Format]; !ok {
		return nil, fmt.Errorf("unsupported archive format: %s", cfg.Format)
	}

	s3Client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		format:     cfg.Format,
		timeNow:    time.Now,
	}, nil
}

// ObjectKey builds the bucket key for a bundle covering [start, end].
// Pattern: audit/{year}/{month}/audit-{start}-{end}.{format}
func (s *Service) ObjectKey(start, end time.Time) string {
	return fmt.Sprintf("audit/%04d/%02d/audit-%s-%s.%s",
		start.UTC().Year(), start.UTC().Month(),
		start.UTC().Format("20060102T150405Z"),
		end.UTC().Format("20060102T150405Z"),
		s.format,
	)
}

// Store encodes the export and uploads it. Returns the object key.
func (s *Service) Store(ctx context.Context, export *audit.Export, start, end time.Time) (string, error) {
	data, err := export.Encode(s.format)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive bundle: %w", err)
	}

	key := s.ObjectKey(start, end)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentTypes[s.format]),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive bundle: %w", err)
	}
	return key, nil
}

// BucketName returns the bucket the service writes to.
func (s *Service) BucketName() string {
	return s.bucketName
}
