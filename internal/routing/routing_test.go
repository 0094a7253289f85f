package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWithRetrySucceedsAfterNotReady(t *testing.T) {
	rt := NewMock()
	rt.QueueOutcome("myapp", 8080, NotReady, NotReady)

	start := time.Now()
	RegisterWithRetry(context.Background(), rt, "myapp", "10.0.0.1", 8080, 5*time.Millisecond)
	elapsed := time.Since(start)

	require.Len(t, rt.Registrations(), 3)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}

func TestRegisterWithRetryStopsOnError(t *testing.T) {
	rt := NewMock()
	rt.SetError(errors.New("connection refused"))

	RegisterWithRetry(context.Background(), rt, "myapp", "10.0.0.1", 8080, 5*time.Millisecond)

	assert.Len(t, rt.Registrations(), 1)
}

func TestRegisterWithRetryStopsOnContextCancel(t *testing.T) {
	rt := NewMock()
	rt.QueueOutcome("myapp", 8080, NotReady, NotReady, NotReady, NotReady, NotReady, NotReady, NotReady, NotReady, NotReady, NotReady)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		RegisterWithRetry(ctx, rt, "myapp", "10.0.0.1", 8080, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RegisterWithRetry did not return after context cancellation")
	}
}
