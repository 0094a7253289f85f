// Package sourcemanager implements idempotent fetch-and-unpack of a
// versioned source archive, plus garbage collection of revision trees no
// longer referenced anywhere. Every unpack downloads into a scratch file
// first and only acts on the result once it is fully staged on disk.
package sourcemanager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/liferr"
	"github.com/crypticterminal/aim/internal/projects"
)

// doneMarker names the file Ensure writes after a successful unpack, so
// repeated Ensure calls for the same key are cheap no-ops.
const doneMarker = ".aim-unpacked"

// Manager fetches and unpacks source revisions, and prunes ones that are
// no longer referenced.
type Manager interface {
	// Ensure idempotently unpacks sourceURL's archive to
	// UNPACK_ROOT/<key.Path()>/app.
	Ensure(ctx context.Context, key ids.RevisionKey, sourceURL string, runtime projects.Runtime) error
	// CleanOldRevisions deletes every unpacked revision directory whose
	// identity is not a member (or path-prefix) of active.
	CleanOldRevisions(ctx context.Context, active map[string]struct{}) error
	// AppDir returns the directory CommandBuilder should treat as the
	// source root for a given revision key.
	AppDir(key ids.RevisionKey) string
}

// HTTPManager is the real Manager implementation: it downloads a zip over
// HTTP and unpacks it with the standard archive/zip reader.
type HTTPManager struct {
	unpackRoot string
	http       *http.Client
}

// New creates an HTTPManager rooted at unpackRoot.
func New(unpackRoot string) *HTTPManager {
	return &HTTPManager{unpackRoot: unpackRoot, http: &http.Client{Timeout: 2 * time.Minute}}
}

// AppDir returns the directory CommandBuilder should treat as the source
// root for a given revision key.
func (m *HTTPManager) AppDir(key ids.RevisionKey) string {
	return filepath.Join(m.unpackRoot, key.Path(), "app")
}

func (m *HTTPManager) Ensure(ctx context.Context, key ids.RevisionKey, sourceURL string, _ projects.Runtime) error {
	appDir := m.AppDir(key)
	markerPath := filepath.Join(filepath.Dir(appDir), doneMarker)
	if _, err := os.Stat(markerPath); err == nil {
		return nil // already unpacked
	}

	archivePath, err := m.download(ctx, sourceURL)
	if err != nil {
		return liferr.SourceFailure("failed to download source archive", err)
	}
	defer os.Remove(archivePath)

	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return liferr.SourceFailure("failed to create unpack directory", err)
	}
	if err := unzip(archivePath, appDir); err != nil {
		return liferr.SourceFailure("failed to unpack source archive", err)
	}
	if err := os.WriteFile(markerPath, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return liferr.SourceFailure("failed to write unpack marker", err)
	}
	return nil
}

func (m *HTTPManager) download(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, sourceURL)
	}

	f, err := os.CreateTemp("", "aim-source-*.zip")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func unzip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		path := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(path, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, path); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// CleanOldRevisions walks UNPACK_ROOT and removes any revision directory
// whose identity is not covered by the active set. active may contain
// full revision-key paths or coarse project-only strings recovered from
// supervisor entry names; a directory survives if any active entry is an
// exact match or a leading path component of its identity.
func (m *HTTPManager) CleanOldRevisions(_ context.Context, active map[string]struct{}) error {
	revisionDirs, err := collectRevisionDirs(m.unpackRoot)
	if err != nil {
		return liferr.SourceFailure("failed to walk unpack root", err)
	}

	for identity, dir := range revisionDirs {
		if isActive(identity, active) {
			continue
		}
		log.Info().Str("revision", identity).Str("dir", dir).Msg("garbage collecting unreferenced revision")
		if err := os.RemoveAll(dir); err != nil {
			return liferr.SourceFailure(fmt.Sprintf("failed to remove revision directory %s", dir), err)
		}
	}
	return nil
}

// collectRevisionDirs returns project/service/version/revision identities
// (the relative path under unpackRoot) mapped to their absolute directory.
func collectRevisionDirs(unpackRoot string) (map[string]string, error) {
	result := make(map[string]string)
	entries, err := os.ReadDir(unpackRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, projectEntry := range entries {
		if !projectEntry.IsDir() {
			continue
		}
		projectDir := filepath.Join(unpackRoot, projectEntry.Name())
		walkServiceLevel(projectDir, projectEntry.Name(), result)
	}
	return result, nil
}

func walkServiceLevel(projectDir, projectID string, result map[string]string) {
	services, err := os.ReadDir(projectDir)
	if err != nil {
		return
	}
	for _, svc := range services {
		if !svc.IsDir() {
			continue
		}
		serviceDir := filepath.Join(projectDir, svc.Name())
		versions, err := os.ReadDir(serviceDir)
		if err != nil {
			continue
		}
		for _, ver := range versions {
			if !ver.IsDir() {
				continue
			}
			versionDir := filepath.Join(serviceDir, ver.Name())
			revisions, err := os.ReadDir(versionDir)
			if err != nil {
				continue
			}
			for _, rev := range revisions {
				if !rev.IsDir() {
					continue
				}
				identity := strings.Join([]string{projectID, svc.Name(), ver.Name(), rev.Name()}, "/")
				result[identity] = filepath.Join(versionDir, rev.Name())
			}
		}
	}
}

func isActive(identity string, active map[string]struct{}) bool {
	if _, ok := active[identity]; ok {
		return true
	}
	for token := range active {
		if identity == token || strings.HasPrefix(identity, token+"/") {
			return true
		}
	}
	return false
}
