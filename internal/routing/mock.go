package routing

import (
	"context"
	"strconv"
	"sync"
)

// Registration records one Register call, for test assertions.
type Registration struct {
	ProjectID string
	IP        string
	Port      int
}

// MockController implements Controller for tests. Outcome queues let a
// test script arrange "busy N times then ready" sequences.
type MockController struct {
	mu sync.Mutex

	registrations []Registration
	outcomes      map[string][]Outcome
	err           error
}

// NewMock creates an empty MockController that reports OK by default.
func NewMock() *MockController {
	return &MockController{outcomes: make(map[string][]Outcome)}
}

// QueueOutcome arranges for the next N Register calls for (projectID, port)
// to return the given outcomes in order; once the queue is drained,
// Register reports OK.
func (m *MockController) QueueOutcome(projectID string, port int, outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := key(projectID, port)
	m.outcomes[key] = append(m.outcomes[key], outcomes...)
}

// SetError makes every subsequent Register call fail with err.
func (m *MockController) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockController) Register(_ context.Context, projectID, ip string, port int) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations = append(m.registrations, Registration{ProjectID: projectID, IP: ip, Port: port})

	if m.err != nil {
		return NotReady, m.err
	}

	k := key(projectID, port)
	if queue := m.outcomes[k]; len(queue) > 0 {
		out := queue[0]
		m.outcomes[k] = queue[1:]
		return out, nil
	}
	return OK, nil
}

// Registrations returns every Register call recorded so far.
func (m *MockController) Registrations() []Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Registration, len(m.registrations))
	copy(out, m.registrations)
	return out
}

func key(projectID string, port int) string {
	return projectID + ":" + strconv.Itoa(port)
}
