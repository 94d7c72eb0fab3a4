// Package registry provides the agent directory and the uniform invocation
// adapter. It ranks capability candidates by health, latency and error rate,
// enforces per-agent concurrency slots, guards each backend with a circuit
// breaker, and classifies every invocation outcome into the typed taxonomy.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/metrics"
)

var (
	// ErrAgentNotFound is returned for operations on unregistered agent ids.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAlreadyRegistered is returned when an agent id is registered twice.
	ErrAlreadyRegistered = errors.New("agent already registered")
)

// Observer receives the success/failure of every live invocation. The health
// monitor implements it so live traffic feeds the same failure counters as
// active probes.
type Observer interface {
	ObserveResult(agentID string, success bool)
}

// record is the per-agent mutable state. Health and slot state are scoped to
// the record; there is no registry-wide lock on the invocation path.
type record struct {
	desc    Descriptor
	slots   *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker[Response]

	mu     sync.RWMutex
	health core.Health
}

func (r *record) Health() core.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

func (r *record) setHealth(h core.Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = h
}

// Candidate is one ranked dispatch option for a capability.
type Candidate struct {
	AgentID    string
	Health     core.Health
	AvgLatency time.Duration
	ErrorRate  float64
}

// Registry is the thread-safe agent directory and invocation adapter.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*record

	collector *metrics.Collector
	logger    logging.Logger

	obsMu    sync.RWMutex
	observer Observer
}

// New creates an empty registry recording invocation statistics into the
// given collector.
func New(collector *metrics.Collector, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{
		agents:    make(map[string]*record),
		collector: collector,
		logger:    logger,
	}
}

// SetObserver installs the invocation observer (typically the health monitor).
func (r *Registry) SetObserver(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observer = o
}

func (r *Registry) notify(agentID string, success bool) {
	r.obsMu.RLock()
	o := r.observer
	r.obsMu.RUnlock()
	if o != nil {
		o.ObserveResult(agentID, success)
	}
}

// Register adds an agent to the directory. Agents start Healthy.
func (r *Registry) Register(desc Descriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("registry: descriptor missing id")
	}
	if desc.Provider == nil {
		return fmt.Errorf("registry: agent %s has no provider", desc.ID)
	}
	if len(desc.Capabilities) == 0 {
		return fmt.Errorf("registry: agent %s declares no capabilities", desc.ID)
	}
	if desc.Concurrency <= 0 {
		desc.Concurrency = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.ID)
	}

	breaker := gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        desc.ID,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	r.agents[desc.ID] = &record{
		desc:    desc,
		slots:   semaphore.NewWeighted(desc.Concurrency),
		breaker: breaker,
		health:  core.Healthy,
	}
	r.logger.Info("agent registered", "agent_id", desc.ID, "capabilities", desc.Capabilities, "concurrency", desc.Concurrency)
	return nil
}

// Deregister removes an agent from the directory. In-flight invocations
// complete; no new dispatches will select the agent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	r.logger.Info("agent deregistered", "agent_id", id)
	return nil
}

// IDs returns all registered agent ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptor returns the registered descriptor for an agent.
func (r *Registry) Descriptor(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return rec.desc, nil
}

// Candidates returns the agents able to serve the capability, ranked by
// (health status, ascending rolling latency, ascending error rate).
// Unavailable agents are excluded.
func (r *Registry) Candidates(c core.Capability) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Candidate
	for id, rec := range r.agents {
		if !rec.desc.Serves(c) {
			continue
		}
		h := rec.Health()
		if h == core.Unavailable {
			continue
		}
		out = append(out, Candidate{
			AgentID:    id,
			Health:     h,
			AvgLatency: r.collector.AvgLatency(id),
			ErrorRate:  r.collector.ErrorRate(id),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Health != out[j].Health {
			return out[i].Health < out[j].Health
		}
		if out[i].AvgLatency != out[j].AvgLatency {
			return out[i].AvgLatency < out[j].AvgLatency
		}
		if out[i].ErrorRate != out[j].ErrorRate {
			return out[i].ErrorRate < out[j].ErrorRate
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// HasCapability reports whether at least one agent (of any health) is
// registered for the capability. Used for startup validation.
func (r *Registry) HasCapability(c core.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.agents {
		if rec.desc.Serves(c) {
			return true
		}
	}
	return false
}

// Health returns the agent's current health status.
func (r *Registry) Health(id string) (core.Health, error) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return core.Unavailable, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return rec.Health(), nil
}

// SetHealth updates the agent's health status. Only the health monitor
// should call this.
func (r *Registry) SetHealth(id string, h core.Health) error {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	rec.setHealth(h)
	return nil
}

// TryAcquire attempts to take one concurrency slot for the agent without
// blocking. The caller must Release after the invocation resolves.
func (r *Registry) TryAcquire(id string) bool {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return rec.slots.TryAcquire(1)
}

// Release returns a concurrency slot taken with TryAcquire.
func (r *Registry) Release(id string) {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		rec.slots.Release(1)
	}
}

// Probe runs the agent's active health check. Providers that do not
// implement Prober are probed by a no-op that always succeeds.
func (r *Registry) Probe(ctx context.Context, id string) error {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if p, ok := rec.desc.Provider.(Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

// Invoke calls the agent's provider through its circuit breaker and
// classifies the result. It never panics or returns an untyped error; every
// failure path maps to one of the Outcome variants. Rolling latency and
// error statistics are updated synchronously on completion.
//
// The caller is responsible for holding a concurrency slot; Invoke does not
// acquire one itself so the scheduler can separate queueing from dispatch.
func (r *Registry) Invoke(ctx context.Context, id string, req Request) core.Outcome {
	r.mu.RLock()
	rec, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return core.Outcome{
			Kind:    core.OutcomeCapabilityUnavailable,
			AgentID: id,
			Err:     fmt.Errorf("%w: %s", ErrAgentNotFound, id),
		}
	}

	start := time.Now()
	resp, err := rec.breaker.Execute(func() (Response, error) {
		return rec.desc.Provider.Invoke(ctx, req)
	})
	latency := time.Since(start)

	outcome := classify(id, resp, err, latency)
	r.collector.RecordInvocation(id, req.Capability, latency, outcome.OK())
	r.notify(id, outcome.OK())
	if !outcome.OK() {
		r.logger.Warn("invocation failed",
			"agent_id", id,
			"capability", req.Capability,
			"kind", outcome.Kind.String(),
			"latency", latency,
			"error", outcome.Err)
	}
	return outcome
}

// classify maps a raw provider result into the typed outcome taxonomy.
func classify(agentID string, resp Response, err error, latency time.Duration) core.Outcome {
	out := core.Outcome{AgentID: agentID, Latency: latency}
	switch {
	case err == nil:
		out.Kind = core.OutcomeSuccess
		out.Content = resp.Content
		out.Signals = resp.Signals
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrTimeout):
		out.Kind = core.OutcomeTimeout
		out.Err = fmt.Errorf("%w: agent %s", core.ErrTimeout, agentID)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		out.Kind = core.OutcomeCapabilityUnavailable
		out.Err = fmt.Errorf("%w: agent %s circuit open", core.ErrCapabilityUnavailable, agentID)
	case errors.Is(err, core.ErrCapabilityUnavailable):
		out.Kind = core.OutcomeCapabilityUnavailable
		out.Err = err
	default:
		out.Kind = core.OutcomeAgentError
		out.Err = &core.AgentError{AgentID: agentID, Detail: err.Error()}
	}
	return out
}
