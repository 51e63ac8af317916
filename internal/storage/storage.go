// Package storage abstracts artifact retrieval as a byte-stream provider.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ObjectStore retrieves stored artifacts. Implementations must honor the
// request context so a cancelled download releases the stream.
type ObjectStore interface {
	// Get returns the object stream and its size. The caller owns the
	// stream and must close it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// FilesystemStore serves artifacts from a local directory tree, laid out
// as root/bucket/key. Useful for single-node deployments and tests.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at dir.
func NewFilesystemStore(dir string) *FilesystemStore {
	return &FilesystemStore{root: dir}
}

func (s *FilesystemStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path := filepath.Join(s.root, filepath.Clean("/"+bucket), filepath.Clean("/"+key))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, 0, fmt.Errorf("object key escapes storage root")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open object: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}
	return f, info.Size(), nil
}

// HTTPStore fetches artifacts from an S3-compatible gateway over plain
// GET {base}/{bucket}/{key} with a bounded timeout.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store against the given base URL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	u := fmt.Sprintf("%s/%s/%s", s.baseURL, url.PathEscape(bucket), escapeKey(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build storage request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch object: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("storage returned status %d for %s/%s", resp.StatusCode, bucket, key)
	}
	return resp.Body, resp.ContentLength, nil
}

// escapeKey escapes each path segment while keeping separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
