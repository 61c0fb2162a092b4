//go:build gcp

package audit

import (
	"context"
	"fmt"
	"os"
)

func newGCSArchiveFromEnv(ctx context.Context) (ArchiveStore, error) {
	bucket := os.Getenv("AUDIT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AUDIT_GCS_BUCKET is required for gcs archive")
	}
	return NewGCSArchive(ctx, GCSArchiveConfig{
		Bucket: bucket,
		Prefix: os.Getenv("AUDIT_GCS_PREFIX"),
	})
}
