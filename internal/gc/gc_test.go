package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypticterminal/aim/internal/projects"
	"github.com/crypticterminal/aim/internal/sourcemanager"
	"github.com/crypticterminal/aim/internal/supervisor"
)

// TestCollect_UnionsSupervisorEntriesAndProjectsManager covers supervisor
// entries whose stripped project id looks like a revision key plus an
// unrelated entry, while the projects manager exposes one more revision.
// The active set handed to SourceManager must contain both.
func TestCollect_UnionsSupervisorEntriesAndProjectsManager(t *testing.T) {
	sup := supervisor.NewMock()
	sup.SeedEntry("app___p-s-v-1-8080")
	sup.SeedEntry("other")

	pm := projects.NewManager()
	pm.Put("p", "s", "v-2", projects.VersionDetails{Runtime: projects.RuntimePython27, Revision: 1})

	src := sourcemanager.NewMock("/tmp/aim-unpack")

	c := New(sup, pm, src)
	require.NoError(t, c.Collect(context.Background()))

	calls := src.CleanCalls()
	require.Len(t, calls, 1)
	active := calls[0]

	_, hasStrippedEntry := active["p-s-v-1"]
	assert.True(t, hasStrippedEntry, "expected stripped supervisor entry project id in active set")

	_, hasProjectsManagerRevision := active["p/s/v-2/1"]
	assert.True(t, hasProjectsManagerRevision, "expected projects manager revision key in active set")
}
