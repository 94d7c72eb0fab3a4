package core

// Lead carries the raw attributes of an inbound lead-research request.
// All fields other than CompanyName and PersonName are optional.
type Lead struct {
	CompanyName string `json:"company_name" yaml:"company_name"`
	PersonName  string `json:"person_name" yaml:"person_name"`
	WebsiteURL  string `json:"website_url,omitempty" yaml:"website_url,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone       string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Signals are the classification inputs evaluated by the routing engine.
// They may be provided up front by the caller and are enriched as pipeline
// stages surface new information (role, company size, seniority).
type Signals struct {
	Role                string `json:"role,omitempty" yaml:"role,omitempty"`
	TechnicalSkillCount int    `json:"technical_skill_count,omitempty" yaml:"technical_skill_count,omitempty"`
	DecisionPower       string `json:"decision_power,omitempty" yaml:"decision_power,omitempty"`
	CompanyIndustry     string `json:"company_industry,omitempty" yaml:"company_industry,omitempty"`
	CompanySize         string `json:"company_size,omitempty" yaml:"company_size,omitempty"`
	CompanyStage        string `json:"company_stage,omitempty" yaml:"company_stage,omitempty"`
	ExperienceLevel     string `json:"experience_level,omitempty" yaml:"experience_level,omitempty"`
}

// Merge overlays non-zero fields from other onto a copy of s and returns it.
// Existing values are only replaced when other carries a value, so later
// pipeline stages can add signals without erasing earlier ones.
func (s Signals) Merge(other Signals) Signals {
	if other.Role != "" {
		s.Role = other.Role
	}
	if other.TechnicalSkillCount > 0 {
		s.TechnicalSkillCount = other.TechnicalSkillCount
	}
	if other.DecisionPower != "" {
		s.DecisionPower = other.DecisionPower
	}
	if other.CompanyIndustry != "" {
		s.CompanyIndustry = other.CompanyIndustry
	}
	if other.CompanySize != "" {
		s.CompanySize = other.CompanySize
	}
	if other.CompanyStage != "" {
		s.CompanyStage = other.CompanyStage
	}
	if other.ExperienceLevel != "" {
		s.ExperienceLevel = other.ExperienceLevel
	}
	return s
}

// CommunicationPolicy tags the outreach strategy chosen for a tier.
type CommunicationPolicy struct {
	Tone             string `json:"tone" yaml:"tone"`
	FollowUpTimeline string `json:"follow_up_timeline" yaml:"follow_up_timeline"`
}
