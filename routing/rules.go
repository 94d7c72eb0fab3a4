package routing

import (
	"strings"

	"github.com/statdevs/leadmesh/core"
)

// Predicate is the declarative match condition of one tier rule. Zero-value
// fields are unset and do not constrain the match; a rule matches when every
// set field matches. CatchAll rules match any signals.
type Predicate struct {
	// RoleKeywords matches when the lead's role contains any keyword
	// (case-insensitive substring).
	RoleKeywords []string `yaml:"role_keywords,omitempty"`
	// MinTechnicalSkills matches when the technical skill count meets or
	// exceeds the threshold.
	MinTechnicalSkills int `yaml:"min_technical_skills,omitempty"`
	// DecisionPower matches the lead's decision power level exactly
	// (case-insensitive).
	DecisionPower string `yaml:"decision_power,omitempty"`
	// CatchAll matches unconditionally. Put catch-all rules last; rule
	// order is the tie-break.
	CatchAll bool `yaml:"catch_all,omitempty"`
}

// Matches evaluates the predicate against the signals.
func (p Predicate) Matches(s core.Signals) bool {
	if p.CatchAll {
		return true
	}
	constrained := false
	if len(p.RoleKeywords) > 0 {
		constrained = true
		role := strings.ToLower(s.Role)
		hit := false
		for _, kw := range p.RoleKeywords {
			if kw != "" && strings.Contains(role, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if p.MinTechnicalSkills > 0 {
		constrained = true
		if s.TechnicalSkillCount < p.MinTechnicalSkills {
			return false
		}
	}
	if p.DecisionPower != "" {
		constrained = true
		if !strings.EqualFold(s.DecisionPower, p.DecisionPower) {
			return false
		}
	}
	return constrained
}

// Rule is one declarative row of the tier table: a predicate over lead
// signals and the resulting tier, priority, pipeline template and
// communication policy. Rules are ordered by specificity; the table is
// read-only at runtime.
type Rule struct {
	Name      string                   `yaml:"name"`
	Tier      core.Tier                `yaml:"tier"`
	Priority  int                      `yaml:"priority"`
	Predicate Predicate                `yaml:"predicate"`
	Pipeline  core.Pipeline            `yaml:"pipeline"`
	Policy    core.CommunicationPolicy `yaml:"policy"`
}

// executiveRoleKeywords covers C-level and senior leadership titles.
var executiveRoleKeywords = []string{
	"chief", "ceo", "cto", "cfo", "coo",
	"vp", "vice president", "president", "director", "founder",
}

// DefaultRules returns the built-in ordered tier table. The executive rule
// precedes the technical one so a CTO with listed technical skills still
// classifies as an executive contact.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "executive-contact",
			Tier:      core.TierExecutive,
			Priority:  5,
			Predicate: Predicate{RoleKeywords: executiveRoleKeywords},
			Pipeline: core.Pipeline{
				{Capability: core.CapabilityCompanyIntel, Mandatory: true},
				{Capability: core.CapabilityMarketIntel},
				{Capability: core.CapabilityReport, Mandatory: true},
				{Capability: core.CapabilityPitch},
			},
			Policy: core.CommunicationPolicy{
				Tone:             "executive level, strategic and ROI-focused",
				FollowUpTimeline: "2-3 business days",
			},
		},
		{
			Name:      "technical-contact",
			Tier:      core.TierTechnical,
			Priority:  4,
			Predicate: Predicate{MinTechnicalSkills: 3},
			Pipeline: core.Pipeline{
				{Capability: core.CapabilityCompanyIntel, Mandatory: true},
				{Capability: core.CapabilityContactProfile},
				{Capability: core.CapabilityMarketIntel},
				{Capability: core.CapabilitySolutions},
				{Capability: core.CapabilityReport, Mandatory: true},
				{Capability: core.CapabilityPitch},
			},
			Policy: core.CommunicationPolicy{
				Tone:             "technical with business outcomes",
				FollowUpTimeline: "3-5 business days",
			},
		},
		{
			Name:      "high-decision-power",
			Tier:      core.TierHighValue,
			Priority:  4,
			Predicate: Predicate{DecisionPower: "high"},
			Pipeline: core.Pipeline{
				{Capability: core.CapabilityCompanyIntel, Mandatory: true},
				{Capability: core.CapabilityMarketIntel},
				{Capability: core.CapabilityReport, Mandatory: true},
				{Capability: core.CapabilityPitch},
			},
			Policy: core.CommunicationPolicy{
				Tone:             "strategic and business-focused",
				FollowUpTimeline: "3-4 business days",
			},
		},
		{
			Name:      "standard-lead",
			Tier:      core.TierStandard,
			Priority:  3,
			Predicate: Predicate{CatchAll: true},
			Pipeline: core.Pipeline{
				{Capability: core.CapabilityCompanyIntel, Mandatory: true},
				{Capability: core.CapabilityContactProfile},
				{Capability: core.CapabilityReport, Mandatory: true},
				{Capability: core.CapabilityPitch},
			},
			Policy: core.CommunicationPolicy{
				Tone:             "professional and value-focused",
				FollowUpTimeline: "5-7 business days",
			},
		},
	}
}

// defaultFallbackRule applies when no table rule matches: lowest priority,
// baseline pipeline.
var defaultFallbackRule = Rule{
	Name:     "unqualified-fallback",
	Tier:     core.TierUnqualified,
	Priority: 1,
	Pipeline: core.Pipeline{
		{Capability: core.CapabilityCompanyIntel, Mandatory: true},
		{Capability: core.CapabilityReport, Mandatory: true},
	},
	Policy: core.CommunicationPolicy{
		Tone:             "professional",
		FollowUpTimeline: "7-10 business days",
	},
}
