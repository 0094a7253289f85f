package sourcemanager

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/projects"
)

func buildTestZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("main.py")
	require.NoError(t, err)
	_, err = f.Write([]byte("print('hello')"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestEnsureDownloadsAndUnpacks(t *testing.T) {
	archive := buildTestZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	root := t.TempDir()
	m := New(root)
	key := ids.RevisionKey{ProjectID: "myapp", ServiceID: "default", VersionID: "v1", Revision: 1}

	require.NoError(t, m.Ensure(context.Background(), key, srv.URL, projects.RuntimePython27))

	appDir := m.AppDir(key)
	assert.FileExists(t, filepath.Join(appDir, "main.py"))
}

func TestEnsureIsIdempotent(t *testing.T) {
	calls := 0
	archive := buildTestZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(archive)
	}))
	defer srv.Close()

	root := t.TempDir()
	m := New(root)
	key := ids.RevisionKey{ProjectID: "myapp", ServiceID: "default", VersionID: "v1", Revision: 1}

	require.NoError(t, m.Ensure(context.Background(), key, srv.URL, projects.RuntimePython27))
	require.NoError(t, m.Ensure(context.Background(), key, srv.URL, projects.RuntimePython27))

	assert.Equal(t, 1, calls)
}

func TestCleanOldRevisionsRemovesInactiveOnly(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	active := ids.RevisionKey{ProjectID: "myapp", ServiceID: "default", VersionID: "v1", Revision: 1}
	stale := ids.RevisionKey{ProjectID: "myapp", ServiceID: "default", VersionID: "v1", Revision: 0}
	require.NoError(t, os.MkdirAll(filepath.Join(root, active.Path(), "app"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, stale.Path(), "app"), 0o755))

	err := m.CleanOldRevisions(context.Background(), map[string]struct{}{active.Path(): {}})
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(root, active.Path()))
	assert.NoDirExists(t, filepath.Join(root, stale.Path()))
}
