// Package gc computes the active set of live revisions from the
// supervisor's own entries plus ProjectsManager, and asks SourceManager to
// delete everything else.
package gc

import (
	"context"

	"github.com/crypticterminal/aim/internal/ids"
	"github.com/crypticterminal/aim/internal/projects"
	"github.com/crypticterminal/aim/internal/sourcemanager"
	"github.com/crypticterminal/aim/internal/supervisor"
)

// Collector computes the active revision set and triggers SourceManager
// garbage collection.
type Collector struct {
	supervisorClient supervisor.Client
	projectsManager  *projects.Manager
	sourceManager    sourcemanager.Manager
}

// New creates a Collector wired to its collaborators.
func New(supervisorClient supervisor.Client, projectsManager *projects.Manager, sourceManager sourcemanager.Manager) *Collector {
	return &Collector{
		supervisorClient: supervisorClient,
		projectsManager:  projectsManager,
		sourceManager:    sourceManager,
	}
}

// Collect asks the supervisor for its live entries, strips each one down
// to its revision-root candidate string, unions that with every revision
// key ProjectsManager currently knows about, and passes the union to
// SourceManager.CleanOldRevisions. Safe to run concurrently with starts:
// the active set it computes is always a superset of truly-live revisions.
func (c *Collector) Collect(ctx context.Context) error {
	active := make(map[string]struct{})

	entries, err := c.supervisorClient.Entries(ctx)
	if err != nil {
		return err
	}
	for _, raw := range entries {
		entry, ok := ids.ParseEntryName(raw)
		if !ok {
			continue
		}
		active[entry.ProjectID] = struct{}{}
	}

	for _, key := range c.projectsManager.Snapshot() {
		active[key.Path()] = struct{}{}
	}

	return c.sourceManager.CleanOldRevisions(ctx, active)
}
