package audit

import (
	"context"
	"fmt"
	"os"
)

// ArchiveType represents the audit archive backend.
type ArchiveType string

const (
	ArchiveTypeNone ArchiveType = "none"
	ArchiveTypeS3   ArchiveType = "s3"
	ArchiveTypeGCS  ArchiveType = "gcs"
)

// NewArchiveFromEnv creates an audit archive based on environment variables.
//
// Environment variables:
//   - AUDIT_ARCHIVE_TYPE: "none" (default), "s3", or "gcs"
//
// For S3:
//   - AWS_REGION or AUDIT_S3_REGION
//   - AUDIT_S3_BUCKET (required)
//   - AUDIT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - AUDIT_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - AUDIT_GCS_BUCKET (required)
//   - AUDIT_GCS_PREFIX (optional)
//
// Returns (nil, nil) when archival is disabled.
func NewArchiveFromEnv(ctx context.Context) (ArchiveStore, error) {
	archiveType := ArchiveType(os.Getenv("AUDIT_ARCHIVE_TYPE"))
	if archiveType == "" || archiveType == ArchiveTypeNone {
		return nil, nil
	}

	switch archiveType {
	case ArchiveTypeS3:
		return newS3ArchiveFromEnv(ctx)
	case ArchiveTypeGCS:
		return newGCSArchiveFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported audit archive type: %s", archiveType)
	}
}

func newS3ArchiveFromEnv(ctx context.Context) (ArchiveStore, error) {
	bucket := os.Getenv("AUDIT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AUDIT_S3_BUCKET is required for s3 archive")
	}
	region := os.Getenv("AUDIT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return NewS3Archive(ctx, S3ArchiveConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("AUDIT_S3_ENDPOINT"),
		Prefix:   os.Getenv("AUDIT_S3_PREFIX"),
	})
}
