// Package archive stores raw fetched pages so extraction bugs can be
// replayed against the exact HTML that produced them. Backends: Google Cloud
// Storage, the local filesystem, and memory for tests.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/jobradar/jobradar/internal/jobs"
)

// GCS writes pages to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS builds a GCS archive. The bucket is checked up front so bad
// configuration fails at startup, not mid-crawl.
func NewGCS(ctx context.Context, client *storage.Client, bucket string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("bucket %q attributes: %w", bucket, err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// PutObject uploads a page and returns its gs:// URI.
func (s *GCS) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Local writes pages under a base directory.
type Local struct {
	baseDir string
}

// NewLocal builds a Local archive, creating the base directory if needed.
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Local{baseDir: baseDir}, nil
}

// PutObject writes a page to disk and returns its file:// URI.
func (s *Local) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)

	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// Memory keeps pages in a map for tests and development.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory builds an empty Memory archive.
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

// PutObject stores a page and returns a memory:// URI.
func (s *Memory) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored page.
func (s *Memory) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

var (
	_ jobs.BlobStore = (*GCS)(nil)
	_ jobs.BlobStore = (*Local)(nil)
	_ jobs.BlobStore = (*Memory)(nil)
)
