package leadmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/statdevs/leadmesh/config"
	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/provider/static"
	"github.com/statdevs/leadmesh/registry"
)

func testConfig() config.Config {
	return config.Config{
		Agents: []config.AgentConfig{
			{ID: "researcher", Capabilities: []core.Capability{
				core.CapabilityCompanyIntel, core.CapabilityContactProfile,
				core.CapabilityMarketIntel, core.CapabilitySolutions,
			}, Concurrency: 4, SLA: config.Duration(time.Second)},
			{ID: "writer", Capabilities: []core.Capability{
				core.CapabilityReport, core.CapabilityPitch,
			}, Concurrency: 2, SLA: config.Duration(time.Second)},
		},
		Scheduler: config.SchedulerConfig{
			QueueWaitTimeout: config.Duration(time.Second),
		},
		Retry: config.RetryConfig{
			StageTimeout: config.Duration(time.Second),
			MaxRetries:   1,
			BackoffBase:  config.Duration(time.Millisecond),
		},
		Health: config.HealthConfig{
			Interval: config.Duration(time.Hour), // keep the prober quiet in tests
		},
	}
}

func testProviders() map[string]registry.Provider {
	return map[string]registry.Provider{
		"researcher": static.New(nil),
		"writer":     static.New(nil),
	}
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(), testProviders())
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestNew_RejectsMissingProvider(t *testing.T) {
	_, err := New(testConfig(), map[string]registry.Provider{"researcher": static.New(nil)})
	assert.ErrorContains(t, err, "no provider implementation")
}

func TestNew_RejectsUncoveredMandatoryCapability(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = cfg.Agents[:1] // drop the writer: report has no agent
	_, err := New(cfg, map[string]registry.Provider{"researcher": static.New(nil)})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)
	assert.ErrorContains(t, err, "report")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Agents[0].Capabilities = nil
	_, err := New(cfg, testProviders())
	assert.ErrorContains(t, err, "no capabilities")
}

func TestOrchestrator_SubmitEndToEnd(t *testing.T) {
	o := newOrchestrator(t)

	report, err := o.Submit(context.Background(), core.Lead{
		CompanyName: "Acme Robotics",
		PersonName:  "Jordan Lee",
	}, core.Signals{Role: "ceo"})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Completed)
	assert.Equal(t, core.TierExecutive, report.Tier)
	assert.Len(t, report.Results, 4)
	assert.Contains(t, report.Results[core.CapabilityCompanyIntel].Content, "Acme Robotics")

	status := o.Status()
	assert.Zero(t, status.LiveRequests)
	assert.Equal(t, 1, status.ArchivedRequests)
}

func TestOrchestrator_SubmitAsync(t *testing.T) {
	o := newOrchestrator(t)

	id, reports, errs, err := o.SubmitAsync(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case report := <-reports:
		require.NotNil(t, report)
		assert.True(t, report.Completed)
		assert.Equal(t, id, report.RequestID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async report")
	}
	assert.NoError(t, <-errs)
}

func TestOrchestrator_CancelInFlight(t *testing.T) {
	cfg := testConfig()
	providers := testProviders()
	providers["researcher"] = static.New(map[core.Capability]static.Reply{
		core.CapabilityCompanyIntel: {Delay: 5 * time.Second},
	})
	o, err := New(cfg, providers)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	id, reports, errs, err := o.SubmitAsync(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{})
	require.NoError(t, err)
	// Give the first stage time to dispatch before cancelling.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, o.Cancel(id))

	select {
	case e := <-errs:
		require.Error(t, e)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
	for report := range reports {
		assert.False(t, report.Completed)
	}
	// The reports channel closing means the request fully unwound.
	assert.Error(t, o.Cancel(id), "finished request can no longer be cancelled")
	assert.Error(t, o.Cancel("unknown"))
}

func TestOrchestrator_EventsReachSubscribers(t *testing.T) {
	o := newOrchestrator(t)
	events, unsub := o.Subscribe()
	defer unsub()

	_, err := o.Submit(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})
	require.NoError(t, err)

	var completed int
	deadline := time.After(2 * time.Second)
	for completed == 0 {
		select {
		case ev := <-events:
			if ev.Type == core.EventStageCompleted {
				completed++
			}
		case <-deadline:
			t.Fatal("no stage-completed event observed")
		}
	}
}

func TestOrchestrator_StatusAndMetrics(t *testing.T) {
	o := newOrchestrator(t)
	_, err := o.Submit(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{Role: "ceo"})
	require.NoError(t, err)

	status := o.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, 2, status.TotalAgents)
	assert.Equal(t, 2, status.AvailableAgents)
	require.Contains(t, status.Agents, "researcher")
	assert.Equal(t, core.Healthy.String(), status.Agents["researcher"].Health)

	snap, ok := o.AgentMetrics("writer")
	require.True(t, ok)
	assert.NotZero(t, snap.Total)

	full := o.Metrics()
	assert.Contains(t, full.Stages, core.CapabilityCompanyIntel)
}

func TestOrchestrator_CloseIsIdempotentAndLeakFree(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	o, err := New(testConfig(), testProviders())
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{})
	require.NoError(t, err)

	events, unsub := o.Subscribe()
	defer unsub()

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	// The subscriber channel closes with the orchestrator.
	for range events {
	}

	_, err = o.Submit(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{})
	assert.ErrorContains(t, err, "closed")
	_, _, _, err = o.SubmitAsync(context.Background(), core.Lead{CompanyName: "Acme"}, core.Signals{})
	assert.ErrorContains(t, err, "closed")
}
