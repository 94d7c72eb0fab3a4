// Package core provides the foundational domain types shared by every
// LeadMesh component. It defines the core abstractions for:
//
//   - Capabilities (named units of research work with pipeline stages)
//   - Leads and classification Signals (the raw material of a request)
//   - RequestContext (per-request mutable state with an explicit state machine)
//   - Tasks (a single stage attempt moving through the scheduler)
//   - Outcomes (the typed result taxonomy of a capability invocation)
//   - Events (the observability stream emitted by the orchestrator)
//   - Reports (the compiled final or partial result handed to callers)
//
// Types in this package carry no policy. Routing, scheduling, health and
// retry behavior live in their respective packages; core only guarantees the
// structural invariants (append-only result maps, append-only handoff trails,
// legal state transitions).
package core
