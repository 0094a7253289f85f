// Package ids implements the structured identifiers AIM hands to the
// supervisor and the source manager, replacing string splicing with
// encode/decode pairs.
package ids

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EntryPrefix is the triple-underscore delimiter the supervisor GC scan
// keys off of. Load-bearing: changing it orphans every existing entry.
const EntryPrefix = "app___"

var projectIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ErrInvalidProjectID is returned when a caller-supplied project id does
// not match the accepted charset.
var ErrInvalidProjectID = errors.New("invalid project id")

// ValidateProjectID checks a project id against the accepted pattern.
func ValidateProjectID(projectID string) error {
	if !projectIDPattern.MatchString(projectID) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	return nil
}

// EntryName is the supervisor's name for a single supervised instance, or
// for the group of every instance belonging to a project when Port is the
// zero value.
type EntryName struct {
	ProjectID string
	Port      int // 0 means "group entry", i.e. the whole project
}

// Encode renders the entry name the supervisor sees, e.g. "app___myapp-8080"
// or "app___myapp" for a group entry.
func (e EntryName) Encode() string {
	if e.Port == 0 {
		return EntryPrefix + e.ProjectID
	}
	return fmt.Sprintf("%s%s-%d", EntryPrefix, e.ProjectID, e.Port)
}

// ConfigFileName is the supervisor config file name for this entry.
func (e EntryName) ConfigFileName() string {
	return "appscale-" + e.Encode() + ".cfg"
}

// PIDFileName is the PID file name for a single-instance entry.
func (e EntryName) PIDFileName() string {
	return e.Encode() + ".pid"
}

// ParseEntryName recovers the (projectID, port) pair from a supervisor
// entry name. Group entries (no trailing "-<port>") decode with Port == 0.
func ParseEntryName(raw string) (EntryName, bool) {
	if !strings.HasPrefix(raw, EntryPrefix) {
		return EntryName{}, false
	}
	rest := strings.TrimPrefix(raw, EntryPrefix)
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return EntryName{ProjectID: rest}, rest != ""
	}
	portStr := rest[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		// no trailing numeric port: the whole remainder is the project id
		return EntryName{ProjectID: rest}, rest != ""
	}
	return EntryName{ProjectID: rest[:idx], Port: port}, true
}

// RevisionKey identifies an immutable unpacked source tree: the ordered
// tuple (projectId, serviceId, versionId, revision) rendered as a single
// path-separator-joined string, matching the layout SourceManager expects
// under UNPACK_ROOT (UNPACK_ROOT/<path>/app).
type RevisionKey struct {
	ProjectID string
	ServiceID string
	VersionID string
	Revision  int
}

// Path renders the revision key as the relative directory path
// SourceManager unpacks it under.
func (k RevisionKey) Path() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.ProjectID, k.ServiceID, k.VersionID, k.Revision)
}

func (k RevisionKey) String() string { return k.Path() }
