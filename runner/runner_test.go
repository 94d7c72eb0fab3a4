package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdevs/leadmesh/archive"
	"github.com/statdevs/leadmesh/cache"
	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/logging"
	"github.com/statdevs/leadmesh/metrics"
	"github.com/statdevs/leadmesh/provider/static"
	"github.com/statdevs/leadmesh/registry"
	"github.com/statdevs/leadmesh/routing"
	"github.com/statdevs/leadmesh/scheduler"
	"github.com/statdevs/leadmesh/store"
)

// harness wires a runner over real components with a single scriptable
// provider serving every capability.
type harness struct {
	provider  *static.Provider
	registry  *registry.Registry
	contexts  *store.InMemoryStore
	archives  *archive.Archive
	results   *cache.Cache
	collector *metrics.Collector
	scheduler *scheduler.Scheduler
	runner    *Runner

	mu     sync.Mutex
	events []core.Event
}

func newHarness(t *testing.T, cfg Config, cacheTTL time.Duration) *harness {
	t.Helper()
	h := &harness{
		provider:  static.New(nil),
		contexts:  store.NewInMemoryStore(),
		archives:  archive.New(64),
		results:   cache.New(cacheTTL),
		collector: metrics.NewCollector(),
	}
	h.registry = registry.New(h.collector, nil)
	require.NoError(t, h.registry.Register(registry.Descriptor{
		ID: "omni",
		Capabilities: []core.Capability{
			core.CapabilityCompanyIntel, core.CapabilityContactProfile,
			core.CapabilityMarketIntel, core.CapabilitySolutions,
			core.CapabilityReport, core.CapabilityPitch,
		},
		Concurrency: 4,
		Provider:    h.provider,
	}))

	sink := func(ev core.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	}
	engine := routing.NewEngine(routing.Options{Sink: sink})
	h.scheduler = scheduler.New(h.registry, h.collector, scheduler.Config{
		QueueWaitTimeout: time.Second,
		PollInterval:     5 * time.Millisecond,
	}, nil)
	h.scheduler.Start()
	t.Cleanup(h.scheduler.Stop)

	h.runner = New(h.contexts, h.archives, h.results, engine, h.scheduler, h.collector, cfg, nil, sink)
	return h
}

func (h *harness) eventTypes() []core.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

func (h *harness) countEvents(t core.EventType) int {
	n := 0
	for _, et := range h.eventTypes() {
		if et == t {
			n++
		}
	}
	return n
}

func quickCfg() Config {
	return Config{StageTimeout: time.Second, MaxRetries: 1, BackoffBase: time.Millisecond}
}

func TestRunner_CompletesExecutivePipeline(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme", PersonName: "Jordan Lee"}, core.Signals{Role: "ceo"})

	report, err := h.runner.Run(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Completed)
	assert.Equal(t, core.TierExecutive, report.Tier)
	assert.Equal(t, 5, report.Priority)
	// executive pipeline: company-intel, market-intel, report, pitch
	assert.Len(t, report.Results, 4)
	assert.Contains(t, report.Results, core.CapabilityCompanyIntel)
	assert.Contains(t, report.Results, core.CapabilityPitch)
	assert.Empty(t, report.Handoffs)
	assert.Equal(t, core.StateCompleted, rc.CurrentState())

	// Terminal contexts leave the live store and land in the archive.
	assert.Zero(t, h.contexts.Len())
	rec, err := h.archives.Get(rc.ID)
	require.NoError(t, err)
	assert.Same(t, report, rec.Report)

	assert.Equal(t, 4, h.countEvents(core.EventStageStarted))
	assert.Equal(t, 4, h.countEvents(core.EventStageCompleted))
}

func TestRunner_ReclassifiesOnDiscoveredSignals(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	// No upfront role: the catch-all standard rule applies first. The
	// company-intel stage then surfaces an executive role.
	h.provider.Set(core.CapabilityCompanyIntel, static.Reply{
		Content: "intel",
		Signals: core.Signals{Role: "vp of engineering"},
	})
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{})

	report, err := h.runner.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.True(t, report.Completed)
	assert.Equal(t, core.TierExecutive, report.Tier)
	require.Len(t, report.Handoffs, 1)
	assert.Equal(t, core.TierStandard, report.Handoffs[0].FromTier)
	assert.Equal(t, core.TierExecutive, report.Handoffs[0].ToTier)

	// The company-intel result survives the reroute and is not repeated.
	assert.Equal(t, "intel", report.Results[core.CapabilityCompanyIntel].Content)
	assert.Equal(t, 1, h.countEvents(core.EventHandoffOccurred))

	// Post-handoff stages come from the executive pipeline.
	assert.Contains(t, report.Results, core.CapabilityMarketIntel)
	assert.NotContains(t, report.Results, core.CapabilitySolutions)
}

func TestRunner_MandatoryStageFailureFailsRequest(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	h.provider.Set(core.CapabilityReport, static.Reply{Err: errors.New("model down")})
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})

	report, err := h.runner.Run(context.Background(), rc)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.False(t, report.Completed)
	assert.Contains(t, report.FailureReason, "mandatory stage report")
	assert.Equal(t, core.StateFailed, rc.CurrentState())

	// Earlier stage results are preserved in the partial report.
	assert.Contains(t, report.Results, core.CapabilityCompanyIntel)
	assert.Contains(t, report.Results, core.CapabilityMarketIntel)
	assert.NotContains(t, report.Results, core.CapabilityPitch, "later stages never dispatch")

	assert.Equal(t, 1, h.countEvents(core.EventStageFailed))
	// The failed request is still archived for audit.
	_, archiveErr := h.archives.Get(rc.ID)
	assert.NoError(t, archiveErr)
}

func TestRunner_OptionalStageFailureSkips(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	h.provider.Set(core.CapabilityMarketIntel, static.Reply{Err: errors.New("source offline")})
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})

	report, err := h.runner.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.True(t, report.Completed)
	assert.Equal(t, []core.Capability{core.CapabilityMarketIntel}, report.SkippedCapabilities())
	res := report.Results[core.CapabilityMarketIntel]
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "source offline")
	assert.Contains(t, report.Results, core.CapabilityPitch, "pipeline continues past the skip")
	assert.Equal(t, 1, h.countEvents(core.EventStageSkipped))
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Config{StageTimeout: time.Second, MaxRetries: 2, BackoffBase: time.Millisecond}, 0)
	h.provider.Set(core.CapabilityCompanyIntel, static.Reply{Err: errors.New("flaky")})
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})

	before := h.provider.Invocations()
	report, err := h.runner.Run(context.Background(), rc)
	require.Error(t, err)
	assert.False(t, report.Completed)

	// 1 initial attempt + 2 retries on the failing mandatory stage.
	assert.Equal(t, 3, h.provider.Invocations()-before)
	snap, ok := h.collector.Agent("omni")
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Retries)
}

func TestRunner_ResultCacheShortCircuitsDispatch(t *testing.T) {
	h := newHarness(t, quickCfg(), time.Minute)
	lead := core.Lead{CompanyName: "Acme", PersonName: "Jordan Lee"}

	first := h.contexts.Create(lead, core.Signals{Role: "ceo"})
	firstReport, err := h.runner.Run(context.Background(), first)
	require.NoError(t, err)
	require.True(t, firstReport.Completed)
	invocationsAfterFirst := h.provider.Invocations()

	second := h.contexts.Create(lead, core.Signals{Role: "ceo"})
	secondReport, err := h.runner.Run(context.Background(), second)
	require.NoError(t, err)
	require.True(t, secondReport.Completed)

	assert.True(t, secondReport.Results[core.CapabilityCompanyIntel].Cached)
	assert.True(t, secondReport.Results[core.CapabilityReport].Cached)
	assert.Equal(t, invocationsAfterFirst, h.provider.Invocations(), "every stage served from cache")
}

func TestRunner_CancelledContextFailsWithPartialReport(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.runner.Run(ctx, rc)
	require.ErrorIs(t, err, core.ErrRequestCancelled)
	require.NotNil(t, report)
	assert.False(t, report.Completed)
	assert.Equal(t, core.StateFailed, rc.CurrentState())
}

func TestRunner_UnqualifiedFallbackPipeline(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	// Suppress signal discovery so no reclassification can occur; an engine
	// without a catch-all rule routes to the unqualified fallback.
	engine := routing.NewEngine(routing.Options{Rules: []routing.Rule{{
		Name:      "executive-contact",
		Tier:      core.TierExecutive,
		Priority:  5,
		Predicate: routing.Predicate{RoleKeywords: []string{"ceo"}},
		Pipeline: core.Pipeline{
			{Capability: core.CapabilityCompanyIntel, Mandatory: true},
			{Capability: core.CapabilityReport, Mandatory: true},
		},
	}}})
	h.runner = New(h.contexts, h.archives, h.results, engine, h.scheduler, h.collector, quickCfg(), nil, nil)

	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "intern"})
	report, err := h.runner.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.True(t, report.Completed)
	assert.Equal(t, core.TierUnqualified, report.Tier)
	assert.Equal(t, 1, report.Priority)
	assert.Len(t, report.Results, 2)
}

// stageRecorder is a plain Logger extended with the stage hook.
type stageRecorder struct {
	logging.NoOpLogger
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) LogStage(requestID, capability, agentID string, attempt int, dur time.Duration, success bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, capability)
}

func TestRunner_StageHookOnCustomLogger(t *testing.T) {
	h := newHarness(t, quickCfg(), 0)
	rec := &stageRecorder{}
	h.runner = New(h.contexts, h.archives, h.results, routing.NewEngine(routing.Options{}),
		h.scheduler, h.collector, quickCfg(), rec, nil)

	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})
	report, err := h.runner.Run(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, report.Completed)

	// One record per dispatched stage attempt of the executive pipeline.
	assert.Equal(t, []string{
		string(core.CapabilityCompanyIntel),
		string(core.CapabilityMarketIntel),
		string(core.CapabilityReport),
		string(core.CapabilityPitch),
	}, rec.stages)
}

func TestRunner_BackpressureOnMandatoryStageFailsRequest(t *testing.T) {
	h := newHarness(t, Config{StageTimeout: 5 * time.Second, MaxRetries: -1, BackoffBase: time.Millisecond}, 0)
	// Saturate the agent's slots so the stage task exhausts its queue wait.
	for i := int64(0); i < 4; i++ {
		require.True(t, h.registry.TryAcquire("omni"))
	}
	defer func() {
		for i := int64(0); i < 4; i++ {
			h.registry.Release("omni")
		}
	}()

	sched := scheduler.New(h.registry, h.collector, scheduler.Config{
		QueueWaitTimeout: 30 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}, nil)
	sched.Start()
	t.Cleanup(sched.Stop)
	h.runner = New(h.contexts, h.archives, h.results, routing.NewEngine(routing.Options{}), sched, h.collector, Config{
		StageTimeout: 5 * time.Second, MaxRetries: -1, BackoffBase: time.Millisecond,
	}, nil, nil)

	rc := h.contexts.Create(core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})
	report, err := h.runner.Run(context.Background(), rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackpressure)
	assert.False(t, report.Completed)
}
