package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
)

func TestClassify_ExecutiveRole(t *testing.T) {
	e := NewEngine(Options{})
	d := e.Classify(core.Signals{Role: "Chief Technology Officer"})

	assert.Equal(t, core.TierExecutive, d.Tier)
	assert.Equal(t, 5, d.Priority)
	assert.Equal(t, "executive-contact", d.Rule)
	require.NotEmpty(t, d.Pipeline)
	assert.Equal(t, core.CapabilityCompanyIntel, d.Pipeline[0].Capability)
	assert.True(t, d.Pipeline[0].Mandatory)
}

func TestClassify_TechnicalSkills(t *testing.T) {
	e := NewEngine(Options{})

	d := e.Classify(core.Signals{Role: "backend engineer", TechnicalSkillCount: 3})
	assert.Equal(t, core.TierTechnical, d.Tier)
	assert.Equal(t, 4, d.Priority)

	d = e.Classify(core.Signals{Role: "backend engineer", TechnicalSkillCount: 2})
	assert.Equal(t, core.TierStandard, d.Tier, "below the skill threshold falls through")
}

func TestClassify_HighDecisionPower(t *testing.T) {
	e := NewEngine(Options{})
	d := e.Classify(core.Signals{Role: "procurement manager", DecisionPower: "High"})
	assert.Equal(t, core.TierHighValue, d.Tier)
	assert.Equal(t, 4, d.Priority)
}

func TestClassify_AmbiguityResolvedByRuleOrder(t *testing.T) {
	// A CTO with many technical skills matches both the executive and
	// technical rules; the earlier rule wins deterministically.
	e := NewEngine(Options{})
	d := e.Classify(core.Signals{Role: "cto", TechnicalSkillCount: 8})
	assert.Equal(t, core.TierExecutive, d.Tier)
}

func TestClassify_CatchAllStandard(t *testing.T) {
	e := NewEngine(Options{})
	d := e.Classify(core.Signals{Role: "office manager"})
	assert.Equal(t, core.TierStandard, d.Tier)
	assert.Equal(t, 3, d.Priority)
}

func TestClassify_FallbackWithoutCatchAll(t *testing.T) {
	rules := []Rule{{
		Name:      "executive-only",
		Tier:      core.TierExecutive,
		Priority:  5,
		Predicate: Predicate{RoleKeywords: []string{"ceo"}},
		Pipeline:  core.Pipeline{{Capability: core.CapabilityReport, Mandatory: true}},
	}}
	e := NewEngine(Options{Rules: rules})

	d := e.Classify(core.Signals{Role: "intern"})
	assert.Equal(t, core.TierUnqualified, d.Tier)
	assert.Equal(t, 1, d.Priority)
	assert.Equal(t, "unqualified-fallback", d.Rule)
}

func TestClassify_Deterministic(t *testing.T) {
	e := NewEngine(Options{})
	signals := core.Signals{Role: "vp of sales", DecisionPower: "high", TechnicalSkillCount: 4}
	first := e.Classify(signals)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Classify(signals))
	}
}

func TestClassify_PipelineCopiesAreIndependent(t *testing.T) {
	e := NewEngine(Options{})
	d1 := e.Classify(core.Signals{Role: "ceo"})
	d1.Pipeline[0] = core.Stage{Capability: core.CapabilityPitch}

	d2 := e.Classify(core.Signals{Role: "ceo"})
	assert.Equal(t, core.CapabilityCompanyIntel, d2.Pipeline[0].Capability)
}

func TestPredicate_EmptyNeverMatches(t *testing.T) {
	assert.False(t, Predicate{}.Matches(core.Signals{Role: "ceo"}))
}

func TestMandatoryCapabilities_CoversAllRules(t *testing.T) {
	e := NewEngine(Options{})
	caps := e.MandatoryCapabilities()
	assert.ElementsMatch(t, []core.Capability{core.CapabilityCompanyIntel, core.CapabilityReport}, caps)
}

func TestEnriches_Defaults(t *testing.T) {
	e := NewEngine(Options{})
	assert.True(t, e.Enriches(core.CapabilityCompanyIntel))
	assert.True(t, e.Enriches(core.CapabilityContactProfile))
	assert.False(t, e.Enriches(core.CapabilityReport))
}

func routedContext(t *testing.T, e *Engine, signals core.Signals) *core.RequestContext {
	t.Helper()
	rc := core.NewRequestContext(core.Lead{CompanyName: "Acme"}, signals)
	d := e.Classify(signals)
	rc.SetRoute(d.Tier, d.Priority, d.Policy, d.Pipeline)
	require.NoError(t, rc.Transition(core.StateRouted))
	require.NoError(t, rc.Transition(core.StateDispatching))
	require.NoError(t, rc.Transition(core.StateAwaitingAgent))
	return rc
}

func TestReclassify_TierChangeRecordsHandoff(t *testing.T) {
	var events []core.Event
	e := NewEngine(Options{Sink: func(ev core.Event) { events = append(events, ev) }})
	rc := routedContext(t, e, core.Signals{Role: "analyst"})
	require.Equal(t, core.TierStandard, func() core.Tier { tier, _ := rc.CurrentRoute(); return tier }())

	// A completed stage surfaced an executive role.
	require.NoError(t, rc.AppendResult(core.Result{Capability: core.CapabilityContactProfile, Content: "profile"}))
	rc.MergeSignals(core.Signals{Role: "vp of operations"})

	changed, err := e.Reclassify(rc)
	require.NoError(t, err)
	assert.True(t, changed)

	tier, priority := rc.CurrentRoute()
	assert.Equal(t, core.TierExecutive, tier)
	assert.Equal(t, 5, priority)
	assert.Equal(t, core.StateRouted, rc.CurrentState())

	trail := rc.HandoffSnapshot()
	require.Len(t, trail, 1)
	assert.Equal(t, core.TierStandard, trail[0].FromTier)
	assert.Equal(t, core.TierExecutive, trail[0].ToTier)

	// Completed results survive: the new pipeline omits contact-profile.
	for _, s := range rc.Pipeline {
		assert.NotEqual(t, core.CapabilityContactProfile, s.Capability)
	}

	require.Len(t, events, 1)
	assert.Equal(t, core.EventHandoffOccurred, events[0].Type)
	assert.Equal(t, rc.ID, events[0].RequestID)
}

// handoffRecorder is a plain Logger extended with the handoff hook.
type handoffRecorder struct {
	logging.NoOpLogger
	requestID string
	fromTier  string
	toTier    string
}

func (r *handoffRecorder) LogHandoff(requestID, fromTier, toTier, reason string) {
	r.requestID, r.fromTier, r.toTier = requestID, fromTier, toTier
}

func TestReclassify_HandoffHookOnCustomLogger(t *testing.T) {
	rec := &handoffRecorder{}
	e := NewEngine(Options{Logger: rec})
	rc := routedContext(t, e, core.Signals{Role: "analyst"})

	rc.MergeSignals(core.Signals{Role: "ceo"})
	changed, err := e.Reclassify(rc)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, rc.ID, rec.requestID)
	assert.Equal(t, string(core.TierStandard), rec.fromTier)
	assert.Equal(t, string(core.TierExecutive), rec.toTier)
}

func TestReclassify_NoChangeIsNoOp(t *testing.T) {
	e := NewEngine(Options{})
	rc := routedContext(t, e, core.Signals{Role: "ceo"})

	changed, err := e.Reclassify(rc)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, rc.HandoffCount())
	assert.Equal(t, core.StateAwaitingAgent, rc.CurrentState())
}

func TestReclassify_BoundFreezesTier(t *testing.T) {
	e := NewEngine(Options{MaxHandoffs: 1})
	rc := routedContext(t, e, core.Signals{Role: "analyst"})

	rc.MergeSignals(core.Signals{Role: "ceo"})
	changed, err := e.Reclassify(rc)
	require.NoError(t, err)
	require.True(t, changed)

	// Second tier change hits the bound; the tier freezes without error.
	require.NoError(t, rc.Transition(core.StateDispatching))
	require.NoError(t, rc.Transition(core.StateAwaitingAgent))
	rc.MergeSignals(core.Signals{TechnicalSkillCount: 9, Role: "staff engineer"})
	changed, err = e.Reclassify(rc)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, rc.HandoffCount())

	tier, _ := rc.CurrentRoute()
	assert.Equal(t, core.TierExecutive, tier)
}
