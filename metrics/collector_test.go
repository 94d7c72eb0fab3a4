package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdevs/leadmesh/core"
)

func TestCollector_RecordInvocation(t *testing.T) {
	c := NewCollector()
	c.RecordInvocation("agent-a", core.CapabilityCompanyIntel, 100*time.Millisecond, true)
	c.RecordInvocation("agent-a", core.CapabilityCompanyIntel, 300*time.Millisecond, false)

	snap, ok := c.Agent("agent-a")
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Total)
	assert.Equal(t, uint64(1), snap.Success)
	assert.Equal(t, uint64(1), snap.Failure)
	assert.InDelta(t, 0.5, snap.ErrorRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, snap.AvgLatency)
}

func TestCollector_UnknownAgent(t *testing.T) {
	c := NewCollector()
	_, ok := c.Agent("missing")
	assert.False(t, ok)
	assert.Zero(t, c.AvgLatency("missing"))
	assert.Zero(t, c.ErrorRate("missing"))
}

func TestCollector_RetriesAndQueueWait(t *testing.T) {
	c := NewCollector()
	c.RecordInvocation("agent-a", core.CapabilityReport, 50*time.Millisecond, true)
	c.RecordRetry("agent-a", core.CapabilityReport)
	c.RecordRetry("agent-a", core.CapabilityReport)
	c.RecordQueueWait(core.CapabilityReport, 10*time.Millisecond)
	c.RecordQueueWait(core.CapabilityReport, 30*time.Millisecond)

	snap := c.Take()
	agent := snap.Agents["agent-a"]
	assert.Equal(t, uint64(2), agent.Retries)

	stage := snap.Stages[core.CapabilityReport]
	assert.Equal(t, uint64(2), stage.Retries)
	assert.Equal(t, 20*time.Millisecond, stage.AvgQueueWait)
	assert.InDelta(t, 1.0, stage.SuccessRate, 1e-9)
}

func TestCollector_Percentiles(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.RecordInvocation("agent-a", core.CapabilityPitch, time.Duration(i)*time.Millisecond, true)
	}
	snap, ok := c.Agent("agent-a")
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, snap.P50Latency)
	assert.Equal(t, 95*time.Millisecond, snap.P95Latency)
}

func TestCollector_WindowEvictsOldSamples(t *testing.T) {
	c := NewCollector()
	// Overfill the ring: the first sample must age out of the average.
	for i := 0; i < defaultWindowSize; i++ {
		c.RecordInvocation("agent-a", core.CapabilitySolutions, time.Hour, true)
	}
	for i := 0; i < defaultWindowSize; i++ {
		c.RecordInvocation("agent-a", core.CapabilitySolutions, time.Millisecond, true)
	}
	assert.Equal(t, time.Millisecond, c.AvgLatency("agent-a"))
}
