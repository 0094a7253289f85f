// Package atomicfile implements the temp-file-then-rename write pattern
// used throughout AIM's config writers.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write creates targetDir if needed, writes data to a temp file in that
// directory, fsyncs it, and renames it into place. The temp file is
// removed on any error before the rename.
func Write(finalPath string, data []byte, perm os.FileMode) error {
	targetDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetDir, err)
	}

	tempFile, err := os.CreateTemp(targetDir, ".aim-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		if tempPath != "" {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions on temporary file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	tempPath = "" // rename succeeded; nothing left to clean up
	return nil
}
