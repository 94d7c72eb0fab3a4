package core

import "time"

// EventType enumerates the observability events emitted by the orchestrator.
type EventType string

const (
	EventStageStarted       EventType = "stage-started"
	EventStageCompleted     EventType = "stage-completed"
	EventStageFailed        EventType = "stage-failed"
	EventStageSkipped       EventType = "stage-skipped"
	EventHandoffOccurred    EventType = "handoff-occurred"
	EventAgentHealthChanged EventType = "agent-health-changed"
)

// Event is one entry of the observability stream. Events are emitted
// best-effort for external logging and tracing; slow subscribers never block
// the pipeline. After emission an event is immutable.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	RequestID  string     `json:"request_id,omitempty"`
	Capability Capability `json:"capability,omitempty"`
	AgentID    string     `json:"agent_id,omitempty"`
	Tier       Tier       `json:"tier,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(t EventType) Event {
	return Event{ID: NewID(), Type: t, Timestamp: time.Now().UTC()}
}

// EventSink receives observability events. Implementations must not block.
type EventSink func(Event)
