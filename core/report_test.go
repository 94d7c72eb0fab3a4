package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminalContext(t *testing.T) *RequestContext {
	t.Helper()
	rc := NewRequestContext(Lead{CompanyName: "Acme Robotics", PersonName: "Jordan Lee"}, Signals{})
	rc.SetRoute(TierExecutive, 5, CommunicationPolicy{Tone: "executive", FollowUpTimeline: "2-3 business days"}, nil)
	require.NoError(t, rc.AppendResult(Result{Capability: CapabilityCompanyIntel, Content: "company intel"}))
	require.NoError(t, rc.AppendResult(Result{
		Capability: CapabilityMarketIntel,
		Skipped:    true,
		SkipReason: "capability unavailable",
	}))
	require.NoError(t, rc.AppendResult(Result{Capability: CapabilityReport, Content: "final report"}))
	return rc
}

func TestCompileReport_Completed(t *testing.T) {
	rc := terminalContext(t)
	report := CompileReport(rc, "")

	assert.Equal(t, rc.ID, report.RequestID)
	assert.True(t, report.Completed)
	assert.Empty(t, report.FailureReason)
	assert.Equal(t, TierExecutive, report.Tier)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, []Capability{CapabilityMarketIntel}, report.SkippedCapabilities())
}

func TestCompileReport_FailureKeepsPartialResults(t *testing.T) {
	rc := terminalContext(t)
	report := CompileReport(rc, "mandatory stage report: agent down")

	assert.False(t, report.Completed)
	assert.Equal(t, "mandatory stage report: agent down", report.FailureReason)
	assert.Len(t, report.Results, 3)
}

func TestReport_Render(t *testing.T) {
	rc := terminalContext(t)
	rc.AppendHandoff(Handoff{FromTier: TierStandard, ToTier: TierExecutive, Reason: "role discovered"})
	out := CompileReport(rc, "").Render()

	assert.True(t, strings.HasPrefix(out, "# Lead Research Report: Acme Robotics"))
	assert.Contains(t, out, "Tier: executive (priority 5)")
	assert.Contains(t, out, "company intel")
	assert.Contains(t, out, "_skipped: capability unavailable_")
	assert.Contains(t, out, "standard -> executive: role discovered")
	assert.NotContains(t, out, "**Incomplete**")
}

func TestReport_RenderIncomplete(t *testing.T) {
	rc := terminalContext(t)
	out := CompileReport(rc, "cancelled").Render()
	assert.Contains(t, out, "**Incomplete**: cancelled")
}
