// Package source opens source report documents from the local filesystem or
// from Google Cloud Storage.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// ErrNotFound is returned when the document does not exist.
var ErrNotFound = errors.New("source document not found")

// Opener opens a document for streaming reads.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Store opens "gs://bucket/object" locations through Cloud Storage and
// anything else as a local path. The storage client is created on first use.
type Store struct {
	mu     sync.Mutex
	client *storage.Client
}

// NewStore creates a Store.
func NewStore() *Store {
	return &Store{}
}

// Open implements Opener.
func (s *Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "gs://") {
		f, err := os.Open(location)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Open: %s: %w", location, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		return f, nil
	}

	bucket, object, err := ParseGCSURI(location)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	client, err := s.storageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("Open: %s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Open: open GCS object reader: %w", err)
	}
	return r, nil
}

// Close releases the storage client, if one was created.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Store) storageClient(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s.client = client
	return client, nil
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI (must start with gs://): %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	bucket, object, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI (expected gs://bucket/object): %s", uri)
	}
	return bucket, object, nil
}

// Filename returns the last path element of a location,
// e.g. "gs://bucket/folder/report.json" → "report.json".
func Filename(location string) string {
	return path.Base(strings.TrimPrefix(location, "gs://"))
}

// Upload copies a local file to a "gs://bucket/object" location, so a report
// can be staged in the bucket the pipeline reads from.
func (s *Store) Upload(ctx context.Context, localPath, uri string) error {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return fmt.Errorf("Upload: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("Upload: open file %q: %w", localPath, err)
	}
	defer f.Close()

	client, err := s.storageClient(ctx)
	if err != nil {
		return fmt.Errorf("Upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("Upload: copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return nil
}
