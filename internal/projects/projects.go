// Package projects implements ProjectsManager, a read-only nested
// project/service/version metadata snapshot backed by an out-of-band
// coordination-service watch. The cache itself is an RWMutex-guarded map;
// the watch/feed side lives outside this package.
package projects

import (
	"sync"

	"github.com/crypticterminal/aim/internal/ids"
)

// Runtime is the application server runtime a version is built against.
type Runtime string

const (
	RuntimePython27 Runtime = "python27"
	RuntimeGo       Runtime = "go"
	RuntimePHP      Runtime = "php"
	RuntimeJava     Runtime = "java"
)

// VersionDetails is the snapshot ProjectsManager returns for a
// (project, service, version) triple.
type VersionDetails struct {
	Runtime       Runtime
	Revision      int
	SourceURL     string
	InstanceClass string // optional; empty means "use the default memory allocation"
}

// RevisionKey derives the RevisionKey these details describe.
func (v VersionDetails) RevisionKey(projectID, serviceID, versionID string) ids.RevisionKey {
	return ids.RevisionKey{
		ProjectID: projectID,
		ServiceID: serviceID,
		VersionID: versionID,
		Revision:  v.Revision,
	}
}

// Manager is an in-memory, concurrency-safe snapshot of project metadata.
// Production deployments feed it from a coordination-service watch, which
// lives outside this package. Put/Delete let bootstrap or tests drive it
// directly.
type Manager struct {
	mu   sync.RWMutex
	tree map[string]map[string]map[string]VersionDetails
}

// NewManager creates an empty ProjectsManager.
func NewManager() *Manager {
	return &Manager{tree: make(map[string]map[string]map[string]VersionDetails)}
}

// Put installs or replaces the version details for (projectID, serviceID,
// versionID).
func (m *Manager) Put(projectID, serviceID, versionID string, details VersionDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree[projectID] == nil {
		m.tree[projectID] = make(map[string]map[string]VersionDetails)
	}
	if m.tree[projectID][serviceID] == nil {
		m.tree[projectID][serviceID] = make(map[string]VersionDetails)
	}
	m.tree[projectID][serviceID][versionID] = details
}

// Delete removes a version record, e.g. when a deployment is retired.
func (m *Manager) Delete(projectID, serviceID, versionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc, ok := m.tree[projectID]; ok {
		if ver, ok := svc[serviceID]; ok {
			delete(ver, versionID)
		}
	}
}

// Get returns the version details for a (project, service, version)
// triple, reporting whether the record exists.
func (m *Manager) Get(projectID, serviceID, versionID string) (VersionDetails, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.tree[projectID]
	if !ok {
		return VersionDetails{}, false
	}
	ver, ok := svc[serviceID]
	if !ok {
		return VersionDetails{}, false
	}
	details, ok := ver[versionID]
	return details, ok
}

// Snapshot walks the whole tree and returns the revision key for every
// version currently known, the set RevisionGC unions with the supervisor's
// live entries to build its active set.
func (m *Manager) Snapshot() []ids.RevisionKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []ids.RevisionKey
	for projectID, services := range m.tree {
		for serviceID, versions := range services {
			for versionID, details := range versions {
				keys = append(keys, details.RevisionKey(projectID, serviceID, versionID))
			}
		}
	}
	return keys
}
