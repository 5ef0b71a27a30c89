package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// BlobStore keeps issue photos.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	PublicURL(path string) string
}

// ObjectPath names a new object under the reporter's prefix, keeping the
// original file extension.
func ObjectPath(reporterID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("issues/%s/%s%s", reporterID, uuid.NewString(), ext)
}

// GCS is a BlobStore backed by a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket name is required")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}

	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writer.Write: %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("writer.Close: %s: %w", path, err)
	}

	return path, nil
}

func (g *GCS) PublicURL(path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, path)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
