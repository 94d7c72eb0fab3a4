package core

import (
	"sync"
	"time"
)

// Tier is the classification bucket assigned to a request. It drives the
// request's priority and pipeline shape.
type Tier string

// Built-in tiers matching the default rule table. Custom rule tables may
// introduce their own tier names.
const (
	TierExecutive   Tier = "executive"
	TierTechnical   Tier = "technical"
	TierHighValue   Tier = "high-value"
	TierStandard    Tier = "standard"
	TierUnqualified Tier = "unqualified"
)

// RequestState tracks a request through the routing state machine.
type RequestState string

const (
	StateClassifying   RequestState = "classifying"
	StateRouted        RequestState = "routed"
	StateDispatching   RequestState = "dispatching"
	StateAwaitingAgent RequestState = "awaiting-agent"
	StateReclassifying RequestState = "reclassifying"
	StateFinalizing    RequestState = "finalizing"
	StateCompleted     RequestState = "completed"
	StateFailed        RequestState = "failed"
)

// Terminal reports whether the state ends the request lifecycle.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions encodes the legal edges of the request state machine.
// A request never regresses to an earlier pipeline position except through
// the explicit Reclassifying edge.
var validTransitions = map[RequestState][]RequestState{
	StateClassifying:   {StateRouted, StateFailed},
	StateRouted:        {StateDispatching, StateFinalizing, StateFailed},
	StateDispatching:   {StateAwaitingAgent, StateFinalizing, StateFailed},
	StateAwaitingAgent: {StateRouted, StateReclassifying, StateDispatching, StateFinalizing, StateFailed},
	StateReclassifying: {StateRouted},
	StateFinalizing:    {StateCompleted, StateFailed},
}

// Result is the recorded output of one pipeline stage. A skipped optional
// stage is recorded with Skipped=true and an empty Content so the final
// report can annotate the degradation.
type Result struct {
	Capability Capability    `json:"capability"`
	AgentID    string        `json:"agent_id,omitempty"`
	Content    string        `json:"content,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Attempts   int           `json:"attempts"`
	QueueWait  time.Duration `json:"queue_wait"`
	Latency    time.Duration `json:"latency"`
}

// Handoff records one re-routing decision in a request's handoff trail.
type Handoff struct {
	FromTier  Tier      `json:"from_tier"`
	ToTier    Tier      `json:"to_tier"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestContext is the per-request mutable state threaded through every
// pipeline stage. It is created by the context store on arrival, advanced by
// exactly one pipeline runner, and evicted after reaching a terminal state.
//
// Contract:
//   - Results is append-only: a capability's result is never overwritten
//   - Handoffs is append-only: the trail length never decreases
//   - State changes go through Transition, which rejects illegal edges
//   - Clone produces a deep copy safe for independent inspection
type RequestContext struct {
	ID      string  `json:"id"`
	Lead    Lead    `json:"lead"`
	Signals Signals `json:"signals"`

	Tier     Tier                `json:"tier"`
	Priority int                 `json:"priority"`
	Policy   CommunicationPolicy `json:"policy"`

	// Pipeline holds the remaining stages; completed stages move into Results.
	Pipeline Pipeline              `json:"pipeline"`
	Results  map[Capability]Result `json:"results"`
	Handoffs []Handoff             `json:"handoffs"`

	State   RequestState `json:"state"`
	Created time.Time    `json:"created"`
	Updated time.Time    `json:"updated"`

	mu sync.RWMutex
}

// NewRequestContext creates a context in the Classifying state.
func NewRequestContext(lead Lead, signals Signals) *RequestContext {
	now := time.Now()
	return &RequestContext{
		ID:      NewID(),
		Lead:    lead,
		Signals: signals,
		State:   StateClassifying,
		Results: make(map[Capability]Result),
		Created: now,
		Updated: now,
	}
}

// Transition moves the request to the next state, rejecting edges the state
// machine does not allow.
func (rc *RequestContext) Transition(to RequestState) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, allowed := range validTransitions[rc.State] {
		if allowed == to {
			rc.State = to
			rc.Updated = time.Now()
			return nil
		}
	}
	return &InvalidTransitionError{RequestID: rc.ID, From: rc.State, To: to}
}

// CurrentState returns the request state under the read lock.
func (rc *RequestContext) CurrentState() RequestState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.State
}

// AppendResult records a completed (or skipped) stage result. It fails with
// ErrDuplicateResult if the capability already has a result; the result map
// is strictly append-only.
func (rc *RequestContext) AppendResult(res Result) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.Results[res.Capability]; exists {
		return ErrDuplicateResult
	}
	rc.Results[res.Capability] = res
	rc.Updated = time.Now()
	return nil
}

// AppendHandoff appends a handoff record to the trail.
func (rc *RequestContext) AppendHandoff(h Handoff) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Handoffs = append(rc.Handoffs, h)
	rc.Updated = time.Now()
}

// HandoffCount returns the number of recorded handoffs.
func (rc *RequestContext) HandoffCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.Handoffs)
}

// MergeSignals overlays newly discovered signals onto the context.
func (rc *RequestContext) MergeSignals(s Signals) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Signals = rc.Signals.Merge(s)
	rc.Updated = time.Now()
}

// CurrentSignals returns a copy of the accumulated classification signals.
func (rc *RequestContext) CurrentSignals() Signals {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.Signals
}

// NextStage returns the head of the remaining pipeline, or false when the
// pipeline is exhausted.
func (rc *RequestContext) NextStage() (Stage, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.Pipeline) == 0 {
		return Stage{}, false
	}
	return rc.Pipeline[0], true
}

// PopStage removes and returns the head of the remaining pipeline.
func (rc *RequestContext) PopStage() (Stage, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.Pipeline) == 0 {
		return Stage{}, false
	}
	head := rc.Pipeline[0]
	rc.Pipeline = rc.Pipeline[1:]
	rc.Updated = time.Now()
	return head, true
}

// SetRoute applies a classification decision: tier, priority, policy and a
// fresh copy of the remaining pipeline. Stages whose capability already has
// a result are excluded so reclassification never repeats completed work.
func (rc *RequestContext) SetRoute(tier Tier, priority int, policy CommunicationPolicy, pipeline Pipeline) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Tier = tier
	rc.Priority = priority
	rc.Policy = policy
	rc.Pipeline = pipeline.Clone().Without(rc.Results)
	rc.Updated = time.Now()
}

// CurrentRoute returns the tier and priority under the read lock.
func (rc *RequestContext) CurrentRoute() (Tier, int) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.Tier, rc.Priority
}

// ResultSnapshot returns a copy of the accumulated stage results.
func (rc *RequestContext) ResultSnapshot() map[Capability]Result {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[Capability]Result, len(rc.Results))
	for k, v := range rc.Results {
		out[k] = v
	}
	return out
}

// HandoffSnapshot returns a copy of the handoff trail.
func (rc *RequestContext) HandoffSnapshot() []Handoff {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]Handoff, len(rc.Handoffs))
	copy(out, rc.Handoffs)
	return out
}

// Clone returns a deep copy of the context (maps and slices, not the mutex).
func (rc *RequestContext) Clone() *RequestContext {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	clone := &RequestContext{
		ID:       rc.ID,
		Lead:     rc.Lead,
		Signals:  rc.Signals,
		Tier:     rc.Tier,
		Priority: rc.Priority,
		Policy:   rc.Policy,
		Pipeline: rc.Pipeline.Clone(),
		Results:  make(map[Capability]Result, len(rc.Results)),
		Handoffs: make([]Handoff, len(rc.Handoffs)),
		State:    rc.State,
		Created:  rc.Created,
		Updated:  rc.Updated,
	}
	for k, v := range rc.Results {
		clone.Results[k] = v
	}
	copy(clone.Handoffs, rc.Handoffs)
	return clone
}
