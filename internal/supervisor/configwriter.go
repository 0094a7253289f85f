package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crypticterminal/aim/internal/atomicfile"
	"github.com/crypticterminal/aim/internal/ids"
)

// ConfigWriter writes and removes the supervisor config files AIM is the
// sole owner of, the Go equivalent of the original
// monit_app_configuration.create_config_file.
type ConfigWriter struct {
	confDir string
}

// NewConfigWriter creates a ConfigWriter rooted at the supervisor's config
// directory.
func NewConfigWriter(confDir string) *ConfigWriter {
	return &ConfigWriter{confDir: confDir}
}

// ConfigSpec is everything the supervisor config file template needs.
type ConfigSpec struct {
	Entry        ids.EntryName
	Argv         []string
	Env          map[string]string
	PIDFile      string
	Port         int
	MaxMemoryMB  int
	SyslogServer string
	CheckPort    bool
}

// Create renders and atomically writes the supervisor config file for a
// single entry.
func (w *ConfigWriter) Create(spec ConfigSpec) (string, error) {
	path := filepath.Join(w.confDir, spec.Entry.ConfigFileName())
	content := render(spec)
	if err := atomicfile.Write(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write supervisor config %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes a single entry's config file. Best-effort: a missing
// file is not an error, matching the original's "log and continue" on
// unlink failure.
func (w *ConfigWriter) Remove(entry ids.EntryName) error {
	path := filepath.Join(w.confDir, entry.ConfigFileName())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove supervisor config %s: %w", path, err)
	}
	return nil
}

// RemoveGroup globs and deletes every per-port config file belonging to a
// project, the file-level equivalent of a group stop.
func (w *ConfigWriter) RemoveGroup(projectID string) error {
	pattern := filepath.Join(w.confDir, fmt.Sprintf("appscale-%s%s-*.cfg", ids.EntryPrefix, projectID))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to glob supervisor configs for %s: %w", projectID, err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove supervisor config %s: %w", m, err)
		}
	}
	return nil
}

func render(spec ConfigSpec) string {
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := fmt.Sprintf("check process %s\n", spec.Entry.Encode())
	out += fmt.Sprintf("  matching \"%s\"\n", spec.Entry.Encode())
	out += fmt.Sprintf("  start program = \"%s\"\n", shellJoin(spec.Argv))
	out += fmt.Sprintf("  pidfile %s\n", spec.PIDFile)
	if spec.MaxMemoryMB > 0 {
		out += fmt.Sprintf("  if totalmem > %d MB for 3 cycles then restart\n", spec.MaxMemoryMB)
	}
	if spec.CheckPort {
		out += fmt.Sprintf("  if failed port %d protocol http then restart\n", spec.Port)
	}
	if spec.SyslogServer != "" {
		out += fmt.Sprintf("  # syslog %s\n", spec.SyslogServer)
	}
	for _, k := range keys {
		out += fmt.Sprintf("  env %s=%q\n", k, spec.Env[k])
	}
	out += "  group appscale-" + spec.Entry.ProjectID + "\n"
	return out
}

func shellJoin(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
