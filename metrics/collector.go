// Package metrics aggregates rolling invocation statistics per agent and per
// pipeline stage. The collector has a single synchronous writer path (the
// registry's invocation completion) and serves consistent snapshots to the
// registry's candidate ranking and to external observability.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/statdevs/leadmesh/core"
)

// defaultWindowSize bounds the latency sample ring per agent/stage.
const defaultWindowSize = 256

// window is a fixed-size ring of latency samples.
type window struct {
	samples []time.Duration
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]time.Duration, size)}
}

func (w *window) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) snapshot() []time.Duration {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	out := make([]time.Duration, n)
	copy(out, w.samples[:n])
	return out
}

type agentStats struct {
	total     uint64
	success   uint64
	failure   uint64
	retries   uint64
	latencies *window
}

type stageStats struct {
	total     uint64
	success   uint64
	failure   uint64
	retries   uint64
	latencies *window
	queueWait *window
}

// AgentSnapshot is a consistent read of one agent's rolling statistics.
type AgentSnapshot struct {
	AgentID     string
	Total       uint64
	Success     uint64
	Failure     uint64
	Retries     uint64
	SuccessRate float64
	ErrorRate   float64
	AvgLatency  time.Duration
	P50Latency  time.Duration
	P95Latency  time.Duration
}

// StageSnapshot is a consistent read of one capability's rolling statistics.
type StageSnapshot struct {
	Capability   core.Capability
	Total        uint64
	Success      uint64
	Failure      uint64
	Retries      uint64
	SuccessRate  float64
	AvgLatency   time.Duration
	P50Latency   time.Duration
	P95Latency   time.Duration
	AvgQueueWait time.Duration
}

// Snapshot is a point-in-time view across all agents and stages.
type Snapshot struct {
	Agents map[string]AgentSnapshot
	Stages map[core.Capability]StageSnapshot
	Taken  time.Time
}

// Collector accumulates invocation, retry and queue-wait statistics. All
// methods are safe for concurrent use; updates take the write lock for the
// specific maps only, never a lock shared with other components.
type Collector struct {
	mu         sync.RWMutex
	agents     map[string]*agentStats
	stages     map[core.Capability]*stageStats
	windowSize int
}

// NewCollector creates an empty collector with the default sample window.
func NewCollector() *Collector {
	return &Collector{
		agents:     make(map[string]*agentStats),
		stages:     make(map[core.Capability]*stageStats),
		windowSize: defaultWindowSize,
	}
}

func (c *Collector) agentLocked(id string) *agentStats {
	st, ok := c.agents[id]
	if !ok {
		st = &agentStats{latencies: newWindow(c.windowSize)}
		c.agents[id] = st
	}
	return st
}

func (c *Collector) stageLocked(cap core.Capability) *stageStats {
	st, ok := c.stages[cap]
	if !ok {
		st = &stageStats{latencies: newWindow(c.windowSize), queueWait: newWindow(c.windowSize)}
		c.stages[cap] = st
	}
	return st
}

// RecordInvocation records one completed invocation for both the agent and
// the stage it served.
func (c *Collector) RecordInvocation(agentID string, capability core.Capability, latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.agentLocked(agentID)
	a.total++
	if success {
		a.success++
	} else {
		a.failure++
	}
	a.latencies.add(latency)

	s := c.stageLocked(capability)
	s.total++
	if success {
		s.success++
	} else {
		s.failure++
	}
	s.latencies.add(latency)
}

// RecordRetry counts one retry for the agent/stage pair.
func (c *Collector) RecordRetry(agentID string, capability core.Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentLocked(agentID).retries++
	c.stageLocked(capability).retries++
}

// RecordQueueWait records how long a task waited before dispatch.
func (c *Collector) RecordQueueWait(capability core.Capability, wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stageLocked(capability).queueWait.add(wait)
}

// AvgLatency returns the mean latency over the agent's sample window, or 0
// when no samples exist. Used by the registry's candidate ranking.
func (c *Collector) AvgLatency(agentID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.agents[agentID]
	if !ok {
		return 0
	}
	return mean(st.latencies.snapshot())
}

// ErrorRate returns the agent's failure ratio over all recorded invocations.
func (c *Collector) ErrorRate(agentID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.agents[agentID]
	if !ok || st.total == 0 {
		return 0
	}
	return float64(st.failure) / float64(st.total)
}

// Agent returns a consistent snapshot for one agent.
func (c *Collector) Agent(agentID string) (AgentSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.agents[agentID]
	if !ok {
		return AgentSnapshot{}, false
	}
	return c.agentSnapshotLocked(agentID, st), true
}

func (c *Collector) agentSnapshotLocked(id string, st *agentStats) AgentSnapshot {
	samples := st.latencies.snapshot()
	snap := AgentSnapshot{
		AgentID:    id,
		Total:      st.total,
		Success:    st.success,
		Failure:    st.failure,
		Retries:    st.retries,
		AvgLatency: mean(samples),
		P50Latency: percentile(samples, 0.50),
		P95Latency: percentile(samples, 0.95),
	}
	if st.total > 0 {
		snap.SuccessRate = float64(st.success) / float64(st.total)
		snap.ErrorRate = float64(st.failure) / float64(st.total)
	}
	return snap
}

// Take returns a point-in-time snapshot across all agents and stages.
func (c *Collector) Take() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		Agents: make(map[string]AgentSnapshot, len(c.agents)),
		Stages: make(map[core.Capability]StageSnapshot, len(c.stages)),
		Taken:  time.Now(),
	}
	for id, st := range c.agents {
		snap.Agents[id] = c.agentSnapshotLocked(id, st)
	}
	for cap, st := range c.stages {
		samples := st.latencies.snapshot()
		s := StageSnapshot{
			Capability:   cap,
			Total:        st.total,
			Success:      st.success,
			Failure:      st.failure,
			Retries:      st.retries,
			AvgLatency:   mean(samples),
			P50Latency:   percentile(samples, 0.50),
			P95Latency:   percentile(samples, 0.95),
			AvgQueueWait: mean(st.queueWait.snapshot()),
		}
		if st.total > 0 {
			s.SuccessRate = float64(st.success) / float64(st.total)
		}
		snap.Stages[cap] = s
	}
	return snap
}

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples))
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
