package core

import "time"

// OutcomeKind partitions every capability invocation into the four result
// classes the orchestrator routes on. Invocations never surface untyped
// panics or raw transport errors past the adapter.
type OutcomeKind int

const (
	// OutcomeSuccess carries the agent's result content.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTimeout indicates the invocation exceeded its deadline.
	OutcomeTimeout
	// OutcomeAgentError indicates the agent returned a declared failure.
	OutcomeAgentError
	// OutcomeCapabilityUnavailable indicates no agent could accept the call
	// (unregistered capability, open breaker, or all candidates excluded).
	OutcomeCapabilityUnavailable
)

// String returns the logging form of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeAgentError:
		return "agent_error"
	case OutcomeCapabilityUnavailable:
		return "capability_unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of a single capability invocation.
type Outcome struct {
	Kind    OutcomeKind
	AgentID string
	// Content holds the agent's output on success.
	Content string
	// Signals carries classification signals the agent discovered, if any.
	Signals Signals
	// Err holds the typed failure for non-success kinds.
	Err error
	// Latency is the wall-clock duration of the invocation.
	Latency time.Duration
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// Transient reports whether the failure class is retryable (timeout or
// declared agent error). Backpressure and unavailable capabilities are not
// retried at the invocation level.
func (o Outcome) Transient() bool {
	return o.Kind == OutcomeTimeout || o.Kind == OutcomeAgentError
}
