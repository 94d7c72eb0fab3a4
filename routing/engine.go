// Package routing implements the handoff decision machine. An ordered,
// data-driven rule table classifies lead signals into a tier, priority,
// pipeline template and communication policy; reclassification mid-pipeline
// appends to the request's handoff trail and rebuilds its remaining stages
// while preserving completed results.
package routing

import (
	"fmt"
	"time"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
)

// handoffLogger is an optional extension of logging.Logger. Loggers that
// implement it receive a structured record per handoff; logging.MeshLogger
// does.
type handoffLogger interface {
	LogHandoff(requestID, fromTier, toTier, reason string)
}

// Decision is the output of one classification: the matched rule's tier,
// priority, pipeline copy and policy.
type Decision struct {
	Rule     string
	Tier     core.Tier
	Priority int
	Pipeline core.Pipeline
	Policy   core.CommunicationPolicy
}

// Engine evaluates the tier rule table. It holds no per-request state; all
// mutation happens on the RequestContext passed in.
type Engine struct {
	rules       []Rule
	fallback    Rule
	maxHandoffs int
	// enriching marks capabilities whose results may surface new
	// classification signals; the runner reclassifies after these stages.
	enriching map[core.Capability]bool
	logger    logging.Logger
	emit      core.EventSink
}

// Options configures the routing engine.
type Options struct {
	// Rules is the ordered tier table. Defaults to DefaultRules.
	Rules []Rule
	// MaxHandoffs bounds reclassifications per request. Defaults to 3.
	MaxHandoffs int
	// EnrichingCapabilities lists stages after which reclassification runs.
	// Defaults to company-intel and contact-profile.
	EnrichingCapabilities []core.Capability
	Logger                logging.Logger
	Sink                  core.EventSink
}

// NewEngine creates a routing engine from the options.
func NewEngine(opts Options) *Engine {
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	maxHandoffs := opts.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = 3
	}
	enrichingCaps := opts.EnrichingCapabilities
	if len(enrichingCaps) == 0 {
		enrichingCaps = []core.Capability{core.CapabilityCompanyIntel, core.CapabilityContactProfile}
	}
	enriching := make(map[core.Capability]bool, len(enrichingCaps))
	for _, c := range enrichingCaps {
		enriching[c] = true
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Engine{
		rules:       rules,
		fallback:    defaultFallbackRule,
		maxHandoffs: maxHandoffs,
		enriching:   enriching,
		logger:      logger,
		emit:        opts.Sink,
	}
}

// MaxHandoffs returns the configured handoff bound.
func (e *Engine) MaxHandoffs() int { return e.maxHandoffs }

// Enriches reports whether results of the capability can change
// classification signals.
func (e *Engine) Enriches(c core.Capability) bool { return e.enriching[c] }

// MandatoryCapabilities returns the union of mandatory capabilities across
// all rule pipelines (including the fallback). Startup validation requires
// an agent for each.
func (e *Engine) MandatoryCapabilities() []core.Capability {
	seen := make(map[core.Capability]bool)
	var out []core.Capability
	add := func(p core.Pipeline) {
		for _, s := range p {
			if s.Mandatory && !seen[s.Capability] {
				seen[s.Capability] = true
				out = append(out, s.Capability)
			}
		}
	}
	for _, r := range e.rules {
		add(r.Pipeline)
	}
	add(e.fallback.Pipeline)
	return out
}

// Classify evaluates the ordered rule table against the signals. The first
// matching rule wins; when several rules match, rule order resolves the tie
// deterministically and the ambiguity is logged as non-fatal. With no match
// the lowest-priority fallback applies.
//
// Classify is pure: identical signals always produce identical decisions.
func (e *Engine) Classify(signals core.Signals) Decision {
	matched := -1
	extra := 0
	for i, r := range e.rules {
		if !r.Predicate.Matches(signals) {
			continue
		}
		if matched < 0 {
			matched = i
		} else {
			extra++
		}
	}
	if matched < 0 {
		return decisionFrom(e.fallback)
	}
	if extra > 0 {
		e.logger.Debug("classification ambiguous, resolved by rule order",
			"rule", e.rules[matched].Name,
			"additional_matches", extra)
	}
	return decisionFrom(e.rules[matched])
}

func decisionFrom(r Rule) Decision {
	return Decision{
		Rule:     r.Name,
		Tier:     r.Tier,
		Priority: r.Priority,
		Pipeline: r.Pipeline.Clone(),
		Policy:   r.Policy,
	}
}

// Reclassify recomputes the tier from the context's accumulated signals. If
// the tier changed and the handoff bound is not exhausted it appends a
// handoff record, applies the new route (remaining pipeline only, completed
// results preserved), and walks the context through Reclassifying back to
// Routed. It returns true when a handoff occurred.
//
// Past the bound the current tier freezes and a non-fatal warning is logged.
func (e *Engine) Reclassify(rc *core.RequestContext) (bool, error) {
	decision := e.Classify(rc.CurrentSignals())
	fromTier, _ := rc.CurrentRoute()
	if decision.Tier == fromTier {
		return false, nil
	}

	if rc.HandoffCount() >= e.maxHandoffs {
		e.logger.Warn("handoff limit reached, tier frozen",
			"request_id", rc.ID,
			"tier", string(fromTier),
			"wanted", string(decision.Tier),
			"max_handoffs", e.maxHandoffs)
		return false, nil
	}

	if err := rc.Transition(core.StateReclassifying); err != nil {
		return false, err
	}

	reason := fmt.Sprintf("signals now match rule %q: tier %s -> %s", decision.Rule, fromTier, decision.Tier)
	rc.AppendHandoff(core.Handoff{
		FromTier:  fromTier,
		ToTier:    decision.Tier,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	rc.SetRoute(decision.Tier, decision.Priority, decision.Policy, decision.Pipeline)

	if err := rc.Transition(core.StateRouted); err != nil {
		return false, err
	}

	if hl, ok := e.logger.(handoffLogger); ok {
		hl.LogHandoff(rc.ID, string(fromTier), string(decision.Tier), reason)
	} else {
		e.logger.Info("handoff occurred", "request_id", rc.ID, "from", string(fromTier), "to", string(decision.Tier))
	}
	if e.emit != nil {
		ev := core.NewEvent(core.EventHandoffOccurred)
		ev.RequestID = rc.ID
		ev.Tier = decision.Tier
		ev.Detail = reason
		e.emit(ev)
	}
	return true, nil
}
