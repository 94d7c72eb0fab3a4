// Package health maintains each agent's availability status. A background
// prober runs at a fixed interval independent of live traffic; live
// invocation results reported by the registry feed the same consecutive
// failure counters. Transitions are stepwise in both directions so a single
// probe never moves an agent two levels.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/registry"
)

// Config tunes the prober and the transition thresholds.
type Config struct {
	// Interval between probe sweeps over all registered agents.
	Interval time.Duration
	// ProbeTimeout bounds each individual probe call.
	ProbeTimeout time.Duration
	// SoftFailureThreshold is the consecutive failure count that moves a
	// Healthy agent to Degraded.
	SoftFailureThreshold int
	// HardFailureThreshold is the consecutive failure count that moves a
	// Degraded agent to Unavailable. A probe error while Degraded counts as
	// a hard failure and transitions immediately.
	HardFailureThreshold int
	// RecoveryThreshold is the consecutive success count required to step
	// one level back toward Healthy.
	RecoveryThreshold int
	// ProbesPerSecond paces probe calls within a sweep so a large registry
	// does not burst against its backends.
	ProbesPerSecond float64
}

// DefaultConfig returns the baseline probe configuration.
func DefaultConfig() Config {
	return Config{
		Interval:             5 * time.Second,
		ProbeTimeout:         2 * time.Second,
		SoftFailureThreshold: 3,
		HardFailureThreshold: 2,
		RecoveryThreshold:    2,
		ProbesPerSecond:      10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.SoftFailureThreshold <= 0 {
		c.SoftFailureThreshold = d.SoftFailureThreshold
	}
	if c.HardFailureThreshold <= 0 {
		c.HardFailureThreshold = d.HardFailureThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = d.RecoveryThreshold
	}
	if c.ProbesPerSecond <= 0 {
		c.ProbesPerSecond = d.ProbesPerSecond
	}
	return c
}

// probeLogger is an optional extension of logging.Logger. Loggers that
// implement it receive a structured record per probe; logging.MeshLogger
// does.
type probeLogger interface {
	LogProbe(agentID string, dur time.Duration, healthy bool, status string)
}

type resultKind int

const (
	resultOK resultKind = iota
	// resultSoft is a degraded-but-working signal: probe latency above the
	// agent's SLA, or a failed live invocation.
	resultSoft
	// resultHard is a probe error. While Degraded it transitions immediately.
	resultHard
)

type counters struct {
	consecFail int
	consecOK   int
}

// Monitor owns agent health transitions. It is the only writer of health
// status in the registry.
type Monitor struct {
	registry *registry.Registry
	cfg      Config
	logger   logging.Logger
	emit     core.EventSink
	limiter  *rate.Limiter

	mu     sync.Mutex
	states map[string]*counters

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor probing agents in the given registry. The
// sink receives agent-health-changed events and may be nil.
func NewMonitor(reg *registry.Registry, cfg Config, logger logging.Logger, sink core.EventSink) *Monitor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Monitor{
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		emit:     sink,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), 1),
		states:   make(map[string]*counters),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background probe loop.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop terminates the probe loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// Sweep probes every registered agent once. Exported so tests and callers
// can force a probe round without waiting for the interval.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, id := range m.registry.IDs() {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.probe(ctx, id)
	}
}

func (m *Monitor) probe(ctx context.Context, id string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.registry.Probe(probeCtx, id)
	latency := time.Since(start)

	desc, derr := m.registry.Descriptor(id)
	if derr != nil {
		// Agent deregistered mid-sweep.
		return
	}

	kind := resultOK
	detail := ""
	switch {
	case err != nil:
		kind = resultHard
		detail = err.Error()
	case desc.SLA > 0 && latency > desc.SLA:
		kind = resultSoft
		detail = fmt.Sprintf("probe latency %s exceeds SLA %s", latency, desc.SLA)
	}

	if pl, ok := m.logger.(probeLogger); ok {
		status, _ := m.registry.Health(id)
		pl.LogProbe(id, latency, kind == resultOK, status.String())
	}
	m.record(id, kind, detail)
}

// ObserveResult implements registry.Observer: live invocation failures count
// as soft failures toward degradation, successes count toward recovery.
func (m *Monitor) ObserveResult(agentID string, success bool) {
	if success {
		m.record(agentID, resultOK, "")
		return
	}
	m.record(agentID, resultSoft, "live invocation failure")
}

// record folds one probe or live-traffic result into the agent's counters.
// The health read, the counter update and the status write all happen under
// one mutex so concurrent observations never act on a stale status.
func (m *Monitor) record(id string, kind resultKind, detail string) {
	m.mu.Lock()
	current, err := m.registry.Health(id)
	if err != nil {
		m.mu.Unlock()
		return
	}
	st, ok := m.states[id]
	if !ok {
		st = &counters{}
		m.states[id] = st
	}

	next := current
	switch kind {
	case resultOK:
		st.consecFail = 0
		st.consecOK++
		if st.consecOK >= m.cfg.RecoveryThreshold && current > core.Healthy {
			next = current - 1
			st.consecOK = 0
			if detail == "" {
				detail = "recovery threshold reached"
			}
		}
	default:
		st.consecOK = 0
		st.consecFail++
		switch current {
		case core.Healthy:
			if st.consecFail >= m.cfg.SoftFailureThreshold {
				next = core.Degraded
				st.consecFail = 0
			}
		case core.Degraded:
			if kind == resultHard || st.consecFail >= m.cfg.HardFailureThreshold {
				next = core.Unavailable
				st.consecFail = 0
			}
		}
	}
	if next != current {
		if err := m.registry.SetHealth(id, next); err != nil {
			m.mu.Unlock()
			return
		}
	}
	m.mu.Unlock()

	if next != current {
		m.announce(id, current, next, detail)
	}
}

// announce logs and emits an already applied health transition.
func (m *Monitor) announce(id string, from, to core.Health, detail string) {
	m.logger.Warn("agent health changed",
		"agent_id", id,
		"from", from.String(),
		"to", to.String(),
		"detail", detail)
	if m.emit != nil {
		ev := core.NewEvent(core.EventAgentHealthChanged)
		ev.AgentID = id
		ev.Detail = fmt.Sprintf("%s -> %s: %s", from, to, detail)
		m.emit(ev)
	}
}
