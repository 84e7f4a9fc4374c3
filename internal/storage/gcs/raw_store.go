// Package gcs provides a raw store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	objstore "github.com/JakeFAU/search-crawler/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`
}

type writerFactory interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

type clientWriters struct {
	client *storage.Client
}

func (c clientWriters) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// RawStore writes raw pages to a configured GCS bucket.
type RawStore struct {
	writers writerFactory
	bucket  string
	prefix  string
}

// New creates a GCS-backed raw store.
func New(client *storage.Client, cfg Config) (*RawStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newRawStore(clientWriters{client: client}, cfg)
}

func newRawStore(writers writerFactory, cfg Config) (*RawStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &RawStore{writers: writers, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Save uploads doc and returns its gs:// URI as the id.
func (s *RawStore) Save(ctx context.Context, doc crawler.RawDocument) (string, error) {
	key, err := objstore.ObjectKey(doc)
	if err != nil {
		return "", err
	}
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	data, err := objstore.Encode(doc)
	if err != nil {
		return "", err
	}
	writer := s.writers.NewWriter(ctx, s.bucket, key, objstore.ContentType)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
