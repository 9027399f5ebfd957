// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// VerifyBucket fetches the bucket attributes on construction so a bad
	// bucket name fails at startup.
	VerifyBucket bool
}

// BlobStore writes resolution snapshots to a configured GCS bucket.
// Object names are the archive paths handed in by the resolver.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(ctx context.Context, client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.VerifyBucket {
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.Bucket, err)
		}
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
// A failed read aborts the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(uploadCtx)
	// Snapshots are small; upload in a single request.
	writer.ChunkSize = 0
	writer.CacheControl = "no-store"
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		abort()
		_ = writer.Close()
		return "", fmt.Errorf("copy object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
