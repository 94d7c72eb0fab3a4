// Package config defines the startup configuration surface: the agent
// registration list, the ordered tier rule table, and the scheduler, retry,
// health and caching parameters. Configuration is loaded from YAML or built
// programmatically; it is read-only after validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/statdevs/leadmesh/core"
	"github.com/statdevs/leadmesh/health"
	"github.com/statdevs/leadmesh/routing"
	"github.com/statdevs/leadmesh/runner"
	"github.com/statdevs/leadmesh/scheduler"
)

// Duration wraps time.Duration with YAML support for strings like "5s".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AgentConfig declares one agent registration. The provider implementation
// is attached programmatically by id when the orchestrator is constructed.
type AgentConfig struct {
	ID           string            `yaml:"id"`
	Capabilities []core.Capability `yaml:"capabilities"`
	Concurrency  int64             `yaml:"concurrency"`
	SLA          Duration          `yaml:"sla"`
}

// StageConfig is one pipeline stage row.
type StageConfig struct {
	Capability core.Capability `yaml:"capability"`
	Mandatory  bool            `yaml:"mandatory"`
}

// RuleConfig is one declarative tier rule row.
type RuleConfig struct {
	Name               string        `yaml:"name"`
	Tier               core.Tier     `yaml:"tier"`
	Priority           int           `yaml:"priority"`
	RoleKeywords       []string      `yaml:"role_keywords,omitempty"`
	MinTechnicalSkills int           `yaml:"min_technical_skills,omitempty"`
	DecisionPower      string        `yaml:"decision_power,omitempty"`
	CatchAll           bool          `yaml:"catch_all,omitempty"`
	Pipeline           []StageConfig `yaml:"pipeline"`
	Tone               string        `yaml:"tone,omitempty"`
	FollowUpTimeline   string        `yaml:"follow_up_timeline,omitempty"`
}

// SchedulerConfig tunes the dispatch queue.
type SchedulerConfig struct {
	Workers          int      `yaml:"workers"`
	QueueWaitTimeout Duration `yaml:"queue_wait_timeout"`
	QueueSize        int      `yaml:"queue_size"`
}

// RetryConfig tunes per-stage timeout and backoff.
type RetryConfig struct {
	StageTimeout Duration `yaml:"stage_timeout"`
	MaxRetries   int      `yaml:"max_retries"`
	BackoffBase  Duration `yaml:"backoff_base"`
}

// HealthConfig tunes the background prober.
type HealthConfig struct {
	Interval             Duration `yaml:"interval"`
	ProbeTimeout         Duration `yaml:"probe_timeout"`
	SoftFailureThreshold int      `yaml:"soft_failure_threshold"`
	HardFailureThreshold int      `yaml:"hard_failure_threshold"`
	RecoveryThreshold    int      `yaml:"recovery_threshold"`
	ProbesPerSecond      float64  `yaml:"probes_per_second"`
}

// Config is the complete startup configuration.
type Config struct {
	Agents      []AgentConfig   `yaml:"agents"`
	Rules       []RuleConfig    `yaml:"rules,omitempty"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Retry       RetryConfig     `yaml:"retry"`
	Health      HealthConfig    `yaml:"health"`
	MaxHandoffs int             `yaml:"max_handoffs"`
	CacheTTL    Duration        `yaml:"cache_ttl"`
	ArchiveSize int             `yaml:"archive_size"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural consistency. Capability coverage against the
// registered agents is checked separately at orchestrator startup.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if len(a.Capabilities) == 0 {
			return fmt.Errorf("config: agent %q declares no capabilities", a.ID)
		}
	}
	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("config: rule with empty name")
		}
		if r.Tier == "" {
			return fmt.Errorf("config: rule %q has no tier", r.Name)
		}
		if r.Priority < 1 || r.Priority > 5 {
			return fmt.Errorf("config: rule %q priority %d outside 1-5", r.Name, r.Priority)
		}
		if len(r.Pipeline) == 0 {
			return fmt.Errorf("config: rule %q has an empty pipeline", r.Name)
		}
	}
	return nil
}

// RoutingRules converts the configured rule rows into the routing table.
// With no configured rules the built-in defaults apply.
func (c Config) RoutingRules() []routing.Rule {
	if len(c.Rules) == 0 {
		return routing.DefaultRules()
	}
	rules := make([]routing.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		pipeline := make(core.Pipeline, 0, len(rc.Pipeline))
		for _, s := range rc.Pipeline {
			pipeline = append(pipeline, core.Stage{Capability: s.Capability, Mandatory: s.Mandatory})
		}
		rules = append(rules, routing.Rule{
			Name:     rc.Name,
			Tier:     rc.Tier,
			Priority: rc.Priority,
			Predicate: routing.Predicate{
				RoleKeywords:       rc.RoleKeywords,
				MinTechnicalSkills: rc.MinTechnicalSkills,
				DecisionPower:      rc.DecisionPower,
				CatchAll:           rc.CatchAll,
			},
			Pipeline: pipeline,
			Policy: core.CommunicationPolicy{
				Tone:             rc.Tone,
				FollowUpTimeline: rc.FollowUpTimeline,
			},
		})
	}
	return rules
}

// SchedulerConfig converts to the scheduler's native config.
func (c Config) SchedulerConfigNative() scheduler.Config {
	return scheduler.Config{
		Workers:          c.Scheduler.Workers,
		QueueWaitTimeout: c.Scheduler.QueueWaitTimeout.Std(),
		QueueSize:        c.Scheduler.QueueSize,
	}
}

// RunnerConfigNative converts to the runner's native config.
func (c Config) RunnerConfigNative() runner.Config {
	return runner.Config{
		StageTimeout: c.Retry.StageTimeout.Std(),
		MaxRetries:   c.Retry.MaxRetries,
		BackoffBase:  c.Retry.BackoffBase.Std(),
	}
}

// HealthConfigNative converts to the health monitor's native config.
func (c Config) HealthConfigNative() health.Config {
	return health.Config{
		Interval:             c.Health.Interval.Std(),
		ProbeTimeout:         c.Health.ProbeTimeout.Std(),
		SoftFailureThreshold: c.Health.SoftFailureThreshold,
		HardFailureThreshold: c.Health.HardFailureThreshold,
		RecoveryThreshold:    c.Health.RecoveryThreshold,
		ProbesPerSecond:      c.Health.ProbesPerSecond,
	}
}
