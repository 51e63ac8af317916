package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreGet(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "releases", "launcher")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.jar"), []byte("artifact"), 0o644))

	store := NewFilesystemStore(root)
	body, size, err := store.Get(context.Background(), "releases", "launcher/app.jar")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int64(8), size)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)
}

func TestFilesystemStoreMissingObject(t *testing.T) {
	store := NewFilesystemStore(t.TempDir())
	_, _, err := store.Get(context.Background(), "releases", "nope.jar")
	assert.Error(t, err)
}

func TestFilesystemStoreBlocksTraversal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "objects")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	store := NewFilesystemStore(root)
	_, _, err := store.Get(context.Background(), "releases", "../../secret.txt")
	assert.Error(t, err)
}

func TestHTTPStoreGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/releases/launcher/app%20v2.jar", r.URL.EscapedPath())
		_, _ = w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	body, size, err := store.Get(context.Background(), "releases", "launcher/app v2.jar")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int64(8), size)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)
}

func TestHTTPStoreNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, time.Second)
	_, _, err := store.Get(context.Background(), "releases", "missing.jar")
	assert.Error(t, err)
}
