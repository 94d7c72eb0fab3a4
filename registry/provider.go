package registry

import (
	"context"
	"time"

	"github.com/statdevs/leadmesh/core"
)

// Request is the uniform input every capability provider receives. Completed
// stage results are passed read-only so later stages can build on earlier
// findings.
type Request struct {
	RequestID  string
	Capability core.Capability
	Lead       core.Lead
	Signals    core.Signals
	Results    map[core.Capability]core.Result
}

// Response is the uniform provider output. Signals carries classification
// signals the provider discovered while producing Content; the runner merges
// them into the request context and may trigger reclassification.
type Response struct {
	Content string
	Signals core.Signals
}

// Provider is the single call signature behind which heterogeneous capability
// backends are normalized. New agent types are added by implementing this
// interface, never by branching on agent identity inside the core.
//
// Implementations must respect context cancellation and return their declared
// error taxonomy as plain errors; the registry classifies every outcome into
// the core.Outcome variants.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Prober is an optional interface for providers that support active health
// checks independent of live traffic. Providers without it are probed by
// assumption (a registered provider counts as reachable).
type Prober interface {
	Probe(ctx context.Context) error
}

// Descriptor declares an agent to the registry: identity, capability set,
// concurrency limit and expected latency SLA.
type Descriptor struct {
	ID           string
	Capabilities []core.Capability
	// Concurrency caps the number of simultaneously dispatched tasks.
	Concurrency int64
	// SLA is the expected per-invocation latency; probes exceeding it count
	// as soft failures.
	SLA      time.Duration
	Provider Provider
}

// Serves reports whether the descriptor declares the capability.
func (d Descriptor) Serves(c core.Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
