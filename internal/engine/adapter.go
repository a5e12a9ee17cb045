// Package engine talks to the external execution engine. The adapter
// boundary keeps engine-native identifiers and failure text out of the
// rest of the system: callers see execution IDs, coarse states, and
// normalized failures only.
package engine

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the engine cannot be reached or the
// circuit breaker is open.
var ErrUnavailable = errors.New("engine: unavailable")

// ErrExecutionNotFound is returned when the engine no longer knows the
// execution.
var ErrExecutionNotFound = errors.New("engine: execution not found")

// ExecutionState is the engine-side lifecycle state of an execution.
type ExecutionState string

const (
	ExecRunning   ExecutionState = "RUNNING"
	ExecSucceeded ExecutionState = "SUCCEEDED"
	ExecFailed    ExecutionState = "FAILED"
	ExecCanceled  ExecutionState = "CANCELED"
)

// Terminal reports whether the execution has finished.
func (s ExecutionState) Terminal() bool {
	return s == ExecSucceeded || s == ExecFailed || s == ExecCanceled
}

// TriggerRequest describes the execution to start.
type TriggerRequest struct {
	Kind        string            `json:"kind"`
	Application string            `json:"application"`
	Pipeline    string            `json:"pipeline"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// RawFailure is an engine-native failure. It never leaves this package
// unnormalized.
type RawFailure struct {
	Code    string `json:"code"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ExecutionStatus is a point-in-time snapshot of an execution.
type ExecutionStatus struct {
	ExecutionID string         `json:"execution_id"`
	State       ExecutionState `json:"state"`
	Failures    []RawFailure   `json:"failures,omitempty"`
}

// Adapter is the execution engine contract.
type Adapter interface {
	// Trigger starts an execution and returns its engine-assigned ID.
	Trigger(ctx context.Context, req TriggerRequest) (string, error)
	// Status reports the current state of an execution.
	Status(ctx context.Context, executionID string) (*ExecutionStatus, error)
}
