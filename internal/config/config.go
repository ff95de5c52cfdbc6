// Package config loads decisiond configuration from a YAML file with
// environment-variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all decisiond configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name" env:"DECISIOND_NAME"`
	Version string `yaml:"version" env:"DECISIOND_VERSION"`

	Engine    EngineConfig    `yaml:"engine" envPrefix:"DECISIOND_ENGINE_"`
	Agents    AgentsConfig    `yaml:"agents" envPrefix:"DECISIOND_AGENTS_"`
	Arbiter   ArbiterConfig   `yaml:"arbiter" envPrefix:"DECISIOND_ARBITER_"`
	Solver    SolverConfig    `yaml:"solver" envPrefix:"DECISIOND_SOLVER_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"DECISIOND_AUDIT_"`
	Resources ResourcesConfig `yaml:"resources" envPrefix:"DECISIOND_RESOURCES_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"DECISIOND_LOG_"`
}

// EngineConfig configures the decision-cycle state machine.
type EngineConfig struct {
	// MaxConcurrentCycles bounds parallel decision cycles in batch processing.
	MaxConcurrentCycles int `yaml:"max_concurrent_cycles" env:"MAX_CONCURRENT_CYCLES"`
}

// AgentsConfig configures the agent registry.
type AgentsConfig struct {
	// ProposalTimeout bounds each agent's Propose call.
	ProposalTimeout time.Duration `yaml:"proposal_timeout" env:"PROPOSAL_TIMEOUT"`

	// AdvisorAPIKey enables the LLM-backed advisor agent when non-empty.
	AdvisorAPIKey string `yaml:"advisor_api_key" env:"ADVISOR_API_KEY"`

	// AdvisorModel is the generative model used by the advisor agent.
	AdvisorModel string `yaml:"advisor_model" env:"ADVISOR_MODEL"`
}

// ArbiterConfig configures the safety arbiter.
type ArbiterConfig struct {
	// PolicyPath points at the YAML policy file. Empty means built-in defaults.
	PolicyPath string `yaml:"policy_path" env:"POLICY_PATH"`

	// WatchPolicy enables hot-reload of the policy file.
	WatchPolicy bool `yaml:"watch_policy" env:"WATCH_POLICY"`
}

// UnmarshalYAML accepts human-readable durations ("2s", "250ms"); yaml.v3 has
// no native time.Duration support. Absent keys keep their current values.
func (c *AgentsConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ProposalTimeout *string `yaml:"proposal_timeout"`
		AdvisorAPIKey   *string `yaml:"advisor_api_key"`
		AdvisorModel    *string `yaml:"advisor_model"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&c.ProposalTimeout, raw.ProposalTimeout); err != nil {
		return fmt.Errorf("agents.proposal_timeout: %w", err)
	}
	if raw.AdvisorAPIKey != nil {
		c.AdvisorAPIKey = *raw.AdvisorAPIKey
	}
	if raw.AdvisorModel != nil {
		c.AdvisorModel = *raw.AdvisorModel
	}
	return nil
}

// SolverConfig configures the external combinatorial solver client.
type SolverConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// SubmitTimeout bounds the submit HTTP call.
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`

	// PollInterval is the delay between poll attempts.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`

	// Deadline bounds the whole submit+poll exchange; on expiry the selector
	// falls back to classical selection.
	Deadline time.Duration `yaml:"deadline" env:"DEADLINE"`

	// NumReads is passed through to the solver as a sampling parameter.
	NumReads int `yaml:"num_reads" env:"NUM_READS"`
}

// UnmarshalYAML accepts human-readable durations for the timeout fields.
func (c *SolverConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL       *string `yaml:"base_url"`
		SubmitTimeout *string `yaml:"submit_timeout"`
		PollInterval  *string `yaml:"poll_interval"`
		Deadline      *string `yaml:"deadline"`
		NumReads      *int    `yaml:"num_reads"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.BaseURL != nil {
		c.BaseURL = *raw.BaseURL
	}
	if err := setDuration(&c.SubmitTimeout, raw.SubmitTimeout); err != nil {
		return fmt.Errorf("solver.submit_timeout: %w", err)
	}
	if err := setDuration(&c.PollInterval, raw.PollInterval); err != nil {
		return fmt.Errorf("solver.poll_interval: %w", err)
	}
	if err := setDuration(&c.Deadline, raw.Deadline); err != nil {
		return fmt.Errorf("solver.deadline: %w", err)
	}
	if raw.NumReads != nil {
		c.NumReads = *raw.NumReads
	}
	return nil
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// DatabasePath is the sqlite file backing the trail. Empty means in-memory only.
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`

	// MaxConsecutiveFailures before the trail reports itself failed and the
	// engine refuses to continue silently.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
}

// ResourcesConfig is the static resource-availability snapshot used when no
// live monitor is wired in.
type ResourcesConfig struct {
	CPU            float64 `yaml:"cpu" env:"CPU"`
	MemoryMB       float64 `yaml:"memory_mb" env:"MEMORY_MB"`
	AcceleratorMB  float64 `yaml:"accelerator_mb" env:"ACCELERATOR_MB"`
	SolverCapacity float64 `yaml:"solver_capacity" env:"SOLVER_CAPACITY"`
	NetworkMbps    float64 `yaml:"network_mbps" env:"NETWORK_MBPS"`
	StorageMB      float64 `yaml:"storage_mb" env:"STORAGE_MB"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	JSON        bool   `yaml:"json" env:"JSON"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "decisiond",
		Version: "dev",
		Engine: EngineConfig{
			MaxConcurrentCycles: 8,
		},
		Agents: AgentsConfig{
			ProposalTimeout: 2 * time.Second,
			AdvisorModel:    "gemini-2.5-flash",
		},
		Arbiter: ArbiterConfig{},
		Solver: SolverConfig{
			SubmitTimeout: 3 * time.Second,
			PollInterval:  250 * time.Millisecond,
			Deadline:      10 * time.Second,
			NumReads:      100,
		},
		Audit: AuditConfig{
			MaxConsecutiveFailures: 5,
		},
		Resources: ResourcesConfig{
			CPU:            8,
			MemoryMB:       16384,
			AcceleratorMB:  8192,
			SolverCapacity: 10,
			NetworkMbps:    1000,
			StorageMB:      102400,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (when non-empty), then applies environment
// overrides. Missing file with empty path is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentCycles < 1 {
		return fmt.Errorf("engine.max_concurrent_cycles must be >= 1, got %d", c.Engine.MaxConcurrentCycles)
	}
	if c.Agents.ProposalTimeout <= 0 {
		return fmt.Errorf("agents.proposal_timeout must be positive, got %s", c.Agents.ProposalTimeout)
	}
	if c.Solver.Deadline <= 0 {
		return fmt.Errorf("solver.deadline must be positive, got %s", c.Solver.Deadline)
	}
	if c.Audit.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("audit.max_consecutive_failures must be >= 1, got %d", c.Audit.MaxConsecutiveFailures)
	}
	return nil
}
