package core

// Capability names a unit of research work with a fixed input/output
// contract. Capabilities are static configuration: they are declared by
// agents at registration time and referenced by pipeline templates.
type Capability string

// Built-in capabilities of the lead-research domain. Deployments may define
// additional capabilities; nothing in the orchestration core enumerates this
// list.
const (
	CapabilityCompanyIntel   Capability = "company-intel"
	CapabilityContactProfile Capability = "contact-profile"
	CapabilityMarketIntel    Capability = "market-intel"
	CapabilitySolutions      Capability = "solutions"
	CapabilityReport         Capability = "report"
	CapabilityPitch          Capability = "pitch"
)

// Stage is one step of a pipeline: a capability plus its failure policy.
// A mandatory stage that fails (after retries and fallback) fails the whole
// request; an optional stage is skipped with a degraded-result marker.
type Stage struct {
	Capability Capability `json:"capability" yaml:"capability"`
	Mandatory  bool       `json:"mandatory" yaml:"mandatory"`
}

// Pipeline is an ordered sequence of stages. Pipelines are value types;
// templates held by tier rules are copied before being attached to a request
// so per-request mutation never leaks back into configuration.
type Pipeline []Stage

// Clone returns an independent copy of the pipeline.
func (p Pipeline) Clone() Pipeline {
	cp := make(Pipeline, len(p))
	copy(cp, p)
	return cp
}

// Capabilities returns the distinct capabilities in pipeline order.
func (p Pipeline) Capabilities() []Capability {
	seen := make(map[Capability]bool, len(p))
	caps := make([]Capability, 0, len(p))
	for _, s := range p {
		if seen[s.Capability] {
			continue
		}
		seen[s.Capability] = true
		caps = append(caps, s.Capability)
	}
	return caps
}

// Without returns a copy of the pipeline with stages for the given
// capabilities removed. Used during reclassification to drop stages whose
// results already exist.
func (p Pipeline) Without(done map[Capability]Result) Pipeline {
	out := make(Pipeline, 0, len(p))
	for _, s := range p {
		if _, ok := done[s.Capability]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}
