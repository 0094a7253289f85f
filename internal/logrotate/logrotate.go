// Package logrotate writes and removes per-project logrotate
// configuration, one file per project covering every port that project
// runs on. Writes go through internal/atomicfile.
package logrotate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crypticterminal/aim/internal/atomicfile"
	"github.com/crypticterminal/aim/internal/ids"
)

// DashboardProjectID is the one project that gets a larger rotation
// threshold than everyone else.
const DashboardProjectID = "appscaledashboard"

const (
	// DefaultLogSizeBytes is the rotation threshold for ordinary projects.
	DefaultLogSizeBytes = 10 * 1024 * 1024
	// DashboardLogSizeBytes is the rotation threshold for the dashboard.
	DashboardLogSizeBytes = 100 * 1024 * 1024
)

const template = `/var/log/appscale/%s*.log {
  size %d
  missingok
  rotate 7
  compress
  delaycompress
  notifempty
  copytruncate
}
`

// Writer installs and removes per-project logrotate configs.
type Writer struct {
	dir string
}

// New creates a Writer rooted at LOGROTATE_DIR.
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// SizeForProject resolves the rotation threshold a project should use:
// the dashboard project gets a distinct, larger size.
func SizeForProject(projectID string) int64 {
	if projectID == DashboardProjectID {
		return DashboardLogSizeBytes
	}
	return DefaultLogSizeBytes
}

// Install writes LOGROTATE_DIR/appscale-<projectId> with a rule matching
// every log file for the project, not just the port being started: the
// config file is shared across every instance of a project, so its glob
// must use the project-wide entry name rather than entry's per-port one,
// or a later start on a different port would overwrite it with a glob
// narrow enough to stop rotating the other ports' logs.
func (w *Writer) Install(projectID string, entry ids.EntryName, sizeBytes int64) error {
	path := w.path(projectID)
	group := ids.EntryName{ProjectID: projectID}
	content := fmt.Sprintf(template, group.Encode(), sizeBytes)
	return atomicfile.Write(path, []byte(content), 0o644)
}

// Remove deletes a project's logrotate config. Missing files are not an
// error.
func (w *Writer) Remove(projectID string) error {
	if err := os.Remove(w.path(projectID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Writer) path(projectID string) string {
	return filepath.Join(w.dir, "appscale-"+projectID)
}
