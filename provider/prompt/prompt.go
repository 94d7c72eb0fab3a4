// Package prompt builds the model instructions shared by the LLM-backed
// capability providers. Each capability maps to a specialist instruction;
// the user message carries the lead attributes, accumulated signals and the
// results of earlier pipeline stages.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/registry"
)

// instructions maps capabilities to their specialist system prompts.
var instructions = map[core.Capability]string{
	core.CapabilityCompanyIntel: "You are a company research specialist. Analyze the company's " +
		"website and public presence to summarize its business, services, growth stage and data needs.",
	core.CapabilityContactProfile: "You are a professional-profile analyst. Summarize the contact's " +
		"role, experience level, technical skills and decision-making power.",
	core.CapabilityMarketIntel: "You are an industry analyst. Identify the key problems and market " +
		"pressures a company of this profile faces.",
	core.CapabilitySolutions: "You are a solutions researcher. Map the identified industry problems " +
		"to concrete data analytics and AI solutions.",
	core.CapabilityReport: "You compile lead research reports. Merge all prior findings into a " +
		"structured report with a recommended approach and next steps.",
	core.CapabilityPitch: "You write concise, personalized outreach. Draft an email pitch grounded " +
		"in the research findings, matched to the contact's seniority.",
}

// Build returns the (system, user) message pair for a provider request.
func Build(req registry.Request) (string, string) {
	system, ok := instructions[req.Capability]
	if !ok {
		system = fmt.Sprintf("You are a %s specialist for B2B lead research.", req.Capability)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nContact: %s\n", req.Lead.CompanyName, req.Lead.PersonName)
	if req.Lead.WebsiteURL != "" {
		fmt.Fprintf(&b, "Website: %s\n", req.Lead.WebsiteURL)
	}
	if req.Lead.LinkedInURL != "" {
		fmt.Fprintf(&b, "LinkedIn: %s\n", req.Lead.LinkedInURL)
	}
	if req.Signals.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", req.Signals.Role)
	}
	if req.Signals.CompanyIndustry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", req.Signals.CompanyIndustry)
	}
	if req.Signals.CompanySize != "" {
		fmt.Fprintf(&b, "Company size: %s\n", req.Signals.CompanySize)
	}

	if len(req.Results) > 0 {
		caps := make([]core.Capability, 0, len(req.Results))
		for c := range req.Results {
			caps = append(caps, c)
		}
		sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
		b.WriteString("\nPrior findings:\n")
		for _, c := range caps {
			res := req.Results[c]
			if res.Skipped {
				continue
			}
			fmt.Fprintf(&b, "## %s\n%s\n", c, res.Content)
		}
	}
	return system, b.String()
}
