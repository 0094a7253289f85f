package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypticterminal/aim/internal/liferr"
)

func TestUnmonitorWithRetrySucceedsImmediately(t *testing.T) {
	c := NewMock()
	c.SeedEntry("app___myapp-8080")

	err := UnmonitorWithRetry(context.Background(), c, "app___myapp-8080", 5)
	require.NoError(t, err)
	assert.Len(t, c.Calls(), 1)
}

func TestUnmonitorWithRetryReportsNotFound(t *testing.T) {
	c := NewMock()
	c.QueueError("app___myapp-8080", ActionUnmonitor, liferr.NotFound)

	err := UnmonitorWithRetry(context.Background(), c, "app___myapp-8080", 5)
	require.ErrorIs(t, err, liferr.NotFound)
}

func TestUnmonitorWithRetryExhaustsRetries(t *testing.T) {
	c := NewMock()
	c.QueueError("app___myapp-8080", ActionUnmonitor,
		liferr.TransientSupervisor, liferr.TransientSupervisor, liferr.TransientSupervisor,
		liferr.TransientSupervisor, liferr.TransientSupervisor, liferr.TransientSupervisor)

	err := UnmonitorWithRetry(context.Background(), c, "app___myapp-8080", 5)
	require.Error(t, err)
	var lerr *liferr.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, liferr.KindSupervisorFailure, lerr.Kind)
	assert.Len(t, c.Calls(), 6)
}

func TestUnmonitorWithRetryRecoversWithinBudget(t *testing.T) {
	c := NewMock()
	c.QueueError("app___myapp-8080", ActionUnmonitor, liferr.TransientSupervisor, liferr.TransientSupervisor)

	err := UnmonitorWithRetry(context.Background(), c, "app___myapp-8080", 5)
	require.NoError(t, err)
	assert.Len(t, c.Calls(), 3)
}
