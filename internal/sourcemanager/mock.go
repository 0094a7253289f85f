package sourcemanager

import (
	"context"
	"sync"

	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/projects"
)

// MockManager implements Manager for tests without touching the disk or
// network.
type MockManager struct {
	mu sync.Mutex

	UnpackRoot string
	EnsureErr  error
	CleanErr   error

	ensureCalls []ids.RevisionKey
	cleanCalls  []map[string]struct{}
}

// NewMock creates an empty MockManager rooted at unpackRoot (used only to
// render AppDir paths; nothing is written to disk).
func NewMock(unpackRoot string) *MockManager {
	return &MockManager{UnpackRoot: unpackRoot}
}

// AppDir mirrors HTTPManager.AppDir without touching the filesystem.
func (m *MockManager) AppDir(key ids.RevisionKey) string {
	return m.UnpackRoot + "/" + key.Path() + "/app"
}

func (m *MockManager) Ensure(_ context.Context, key ids.RevisionKey, _ string, _ projects.Runtime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls = append(m.ensureCalls, key)
	return m.EnsureErr
}

func (m *MockManager) CleanOldRevisions(_ context.Context, active map[string]struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanCalls = append(m.cleanCalls, active)
	return m.CleanErr
}

// EnsureCalls returns every Ensure call recorded so far.
func (m *MockManager) EnsureCalls() []ids.RevisionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ids.RevisionKey, len(m.ensureCalls))
	copy(out, m.ensureCalls)
	return out
}

// CleanCalls returns every CleanOldRevisions active-set argument recorded
// so far.
func (m *MockManager) CleanCalls() []map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]struct{}, len(m.cleanCalls))
	copy(out, m.cleanCalls)
	return out
}
