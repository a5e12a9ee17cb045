package engine

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a scripted in-process adapter used by service and
// reconciler tests. Each Status call for an execution consumes the
// next scripted snapshot; the last snapshot repeats.
type Memory struct {
	mu         sync.Mutex
	nextID     int
	TriggerErr error
	scripts    map[string][]ExecutionStatus
	Triggered  []TriggerRequest
}

// NewMemory creates an empty scripted adapter.
func NewMemory() *Memory {
	return &Memory{scripts: make(map[string][]ExecutionStatus)}
}

// Script queues status snapshots for the next triggered execution and
// returns its execution ID.
func (m *Memory) Script(states ...ExecutionState) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("exec-%d", m.nextID)
	for _, s := range states {
		m.scripts[id] = append(m.scripts[id], ExecutionStatus{ExecutionID: id, State: s})
	}
	return id
}

// FailWith appends a failing terminal snapshot carrying raw failures.
func (m *Memory) FailWith(executionID string, failures ...RawFailure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[executionID] = append(m.scripts[executionID], ExecutionStatus{
		ExecutionID: executionID,
		State:       ExecFailed,
		Failures:    failures,
	})
}

func (m *Memory) Trigger(_ context.Context, req TriggerRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TriggerErr != nil {
		return "", m.TriggerErr
	}
	m.Triggered = append(m.Triggered, req)
	// Hand out the oldest scripted execution that has not been assigned.
	id := fmt.Sprintf("exec-%d", len(m.Triggered))
	if _, ok := m.scripts[id]; !ok {
		m.scripts[id] = []ExecutionStatus{{ExecutionID: id, State: ExecRunning}}
	}
	return id, nil
}

func (m *Memory) Status(_ context.Context, executionID string) (*ExecutionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	script, ok := m.scripts[executionID]
	if !ok || len(script) == 0 {
		return nil, ErrExecutionNotFound
	}
	status := script[0]
	if len(script) > 1 {
		m.scripts[executionID] = script[1:]
	}
	return &status, nil
}
