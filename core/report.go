package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report is the compiled result returned to the caller. A failed request
// still yields a report carrying every completed stage result plus a failure
// annotation, so prior work is never discarded.
type Report struct {
	RequestID string              `json:"request_id"`
	Lead      Lead                `json:"lead"`
	Tier      Tier                `json:"tier"`
	Priority  int                 `json:"priority"`
	Policy    CommunicationPolicy `json:"policy"`

	Results  map[Capability]Result `json:"results"`
	Handoffs []Handoff             `json:"handoffs,omitempty"`

	Completed     bool      `json:"completed"`
	FailureReason string    `json:"failure_reason,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CompileReport snapshots a terminal request context into a report.
func CompileReport(rc *RequestContext, failureReason string) *Report {
	return &Report{
		RequestID:     rc.ID,
		Lead:          rc.Lead,
		Tier:          rc.Tier,
		Priority:      rc.Priority,
		Policy:        rc.Policy,
		Results:       rc.ResultSnapshot(),
		Handoffs:      rc.HandoffSnapshot(),
		Completed:     failureReason == "",
		FailureReason: failureReason,
		GeneratedAt:   time.Now().UTC(),
	}
}

// SkippedCapabilities returns the capabilities recorded as skipped, sorted.
func (r *Report) SkippedCapabilities() []Capability {
	var skipped []Capability
	for c, res := range r.Results {
		if res.Skipped {
			skipped = append(skipped, c)
		}
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i] < skipped[j] })
	return skipped
}

// Render produces a human-readable markdown rendering of the report.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Lead Research Report: %s\n\n", r.Lead.CompanyName)
	fmt.Fprintf(&b, "Contact: %s\n", r.Lead.PersonName)
	fmt.Fprintf(&b, "Tier: %s (priority %d)\n", r.Tier, r.Priority)
	if r.Policy.Tone != "" {
		fmt.Fprintf(&b, "Communication: %s, follow up within %s\n", r.Policy.Tone, r.Policy.FollowUpTimeline)
	}
	if !r.Completed {
		fmt.Fprintf(&b, "\n**Incomplete**: %s\n", r.FailureReason)
	}
	caps := make([]Capability, 0, len(r.Results))
	for c := range r.Results {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	for _, c := range caps {
		res := r.Results[c]
		fmt.Fprintf(&b, "\n## %s\n", c)
		if res.Skipped {
			fmt.Fprintf(&b, "_skipped: %s_\n", res.SkipReason)
			continue
		}
		fmt.Fprintf(&b, "%s\n", res.Content)
	}
	if len(r.Handoffs) > 0 {
		fmt.Fprintf(&b, "\n## Handoff trail\n")
		for _, h := range r.Handoffs {
			fmt.Fprintf(&b, "- %s -> %s: %s\n", h.FromTier, h.ToTier, h.Reason)
		}
	}
	return b.String()
}
