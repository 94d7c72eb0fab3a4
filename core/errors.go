package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned when no registered agent can
	// serve a required capability (no candidate, or all Unavailable).
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrTimeout is returned when a stage invocation exceeded its deadline.
	ErrTimeout = errors.New("stage timeout")

	// ErrBackpressure is returned when a task exhausted its queue wait
	// without any candidate (including fallbacks) freeing a concurrency slot.
	ErrBackpressure = errors.New("backpressure: queue wait exceeded")

	// ErrContextNotFound is returned by the context store for unknown request ids.
	ErrContextNotFound = errors.New("request context not found")

	// ErrDuplicateResult is returned when a stage result would overwrite an
	// existing entry; result maps are strictly append-only.
	ErrDuplicateResult = errors.New("duplicate stage result")

	// ErrRequestCancelled is returned when a request was cancelled before completion.
	ErrRequestCancelled = errors.New("request cancelled")
)

// AgentError wraps a declared failure returned by an agent. It is a transient
// error: the runner retries it with backoff before escalating.
type AgentError struct {
	AgentID string
	Detail  string
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Detail)
}

// InvalidTransitionError reports an attempt to move a RequestContext through
// a transition the state machine does not allow.
type InvalidTransitionError struct {
	RequestID string
	From, To  RequestState
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s: invalid transition %s -> %s", e.RequestID, e.From, e.To)
}
