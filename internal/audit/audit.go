// Package audit records lifecycle actions for operator visibility. AIM
// keeps no persistent store of its own, so entries live in an in-memory
// ring buffer and are surfaced through zerolog alongside every other
// component's structured logs.
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Action identifies the kind of lifecycle event being recorded.
type Action string

const (
	ActionInstanceStart       Action = "instance_start"
	ActionInstanceStartFailed Action = "instance_start_failed"
	ActionInstanceStop        Action = "instance_stop"
	ActionProjectStopAll      Action = "project_stop_all"
	ActionHealthProbeTimeout  Action = "health_probe_timeout"
	ActionRoutingRegistered   Action = "routing_registered"
	ActionGCRun               Action = "gc_run"
)

// Entry is a single recorded event.
type Entry struct {
	Timestamp time.Time
	Actor     string
	Action    Action
	ProjectID string
	Port      int
	Meta      map[string]any
}

// Logger records lifecycle events to an in-memory ring buffer and to the
// structured log. Always succeeds; there is nothing to fail open against.
type Logger struct {
	mu      sync.Mutex
	ring    []Entry
	maxSize int
}

// New creates a Logger retaining up to maxSize recent entries.
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Logger{maxSize: maxSize}
}

// Record appends an entry and logs it.
func (l *Logger) Record(actor string, action Action, projectID string, port int, meta map[string]any) {
	entry := Entry{
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    action,
		ProjectID: projectID,
		Port:      port,
		Meta:      meta,
	}

	l.mu.Lock()
	l.ring = append(l.ring, entry)
	if len(l.ring) > l.maxSize {
		l.ring = l.ring[len(l.ring)-l.maxSize:]
	}
	l.mu.Unlock()

	event := log.Info()
	if action == ActionInstanceStartFailed || action == ActionHealthProbeTimeout {
		event = log.Warn()
	}
	event.Str("actor", actor).Str("action", string(action)).Str("project_id", projectID).Int("port", port).Interface("meta", meta).Msg("lifecycle event")
}

// Recent returns the last n recorded entries (fewer if not enough exist).
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.ring) {
		n = len(l.ring)
	}
	out := make([]Entry, n)
	copy(out, l.ring[len(l.ring)-n:])
	return out
}
