//go:build gcp

package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSArchive implements ArchiveStore using Google Cloud Storage. Batches are
// stored under their SHA-256 hash, making export idempotent.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSArchiveConfig holds configuration for GCSArchive.
type GCSArchiveConfig struct {
	Bucket string
	Prefix string // Optional object prefix
}

// NewGCSArchive creates a new GCS-backed audit archive. Uses ADC credentials.
func NewGCSArchive(ctx context.Context, cfg GCSArchiveConfig) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads the batch and returns its prefixed content hash.
func (s *GCSArchive) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	objectPath := s.prefix + hashStr + ".json"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		// Already exists
		return "sha256:" + hashStr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs upload close failed: %w", err)
	}
	return "sha256:" + hashStr, nil
}
