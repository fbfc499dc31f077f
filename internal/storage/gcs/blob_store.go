// Package gcs keeps cache entries in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// Config names the bucket and bounds what GetObject will read.
type Config struct {
	Bucket string
	// MaxObjectBytes caps downloads; zero means no cap.
	MaxObjectBytes int64
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// ErrObjectTooLarge is returned when an object exceeds MaxObjectBytes.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// BlobStore implements crawler.BlobStore on one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
}

// New binds client to cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// PutObject uploads r to path and returns its gs:// URI. A failed copy aborts
// the upload instead of finalizing a truncated object.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if err := requirePath(path); err != nil {
		return "", err
	}
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.CacheControl = s.cfg.CacheControl
	w.Metadata = map[string]string{"writer": "tierfetch"}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.cfg.Bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.cfg.Bucket, path, err)
	}
	return s.uri(path), nil
}

// GetObject downloads path. Missing objects wrap crawler.ErrNotFound.
func (s *BlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	rd, err := s.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", s.uri(path), crawler.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.uri(path), err)
	}
	defer func() { _ = rd.Close() }()

	limit := s.cfg.MaxObjectBytes
	if limit > 0 && rd.Attrs.Size > limit {
		return nil, fmt.Errorf("%s is %d bytes: %w", s.uri(path), rd.Attrs.Size, ErrObjectTooLarge)
	}
	var src io.Reader = rd
	if limit > 0 {
		src = io.LimitReader(rd, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.uri(path), err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: %w", s.uri(path), ErrObjectTooLarge)
	}
	return data, nil
}

func (s *BlobStore) uri(path string) string {
	return "gs://" + s.cfg.Bucket + "/" + path
}

func requirePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is required")
	}
	return nil
}
