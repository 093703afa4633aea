// Package config loads the delegate's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration for a delegate process
type Config struct {
	// Delegate identity registered on the chain
	Agent AgentConfig `yaml:"agent" json:"agent"`

	// Organizations the scheduler runs cycles for
	Organizations []string `yaml:"organizations" json:"organizations"`

	// Schedule is a cron spec or descriptor such as "@every 1h"
	Schedule string `yaml:"schedule" json:"schedule"`

	Cycle    CycleConfig    `yaml:"cycle" json:"cycle"`
	Voting   VotingConfig   `yaml:"voting" json:"voting"`
	Learning LearningConfig `yaml:"learning" json:"learning"`
	Decision DecisionConfig `yaml:"decision" json:"decision"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Sources  SourcesConfig  `yaml:"sources" json:"sources"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Events   EventsConfig   `yaml:"events" json:"events"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// AgentConfig identifies the delegate.
type AgentConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	AgentID string `yaml:"agent_id" json:"agent_id"`
}

// CycleConfig bounds a governance cycle.
type CycleConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	ChainTimeout time.Duration `yaml:"chain_timeout" json:"chain_timeout"`
	MaxProposals int           `yaml:"max_proposals" json:"max_proposals"`
	Concurrency  int           `yaml:"concurrency" json:"concurrency"` // organizations processed at once, 0 for unlimited
}

// VotingConfig controls when votes are cast without a human.
type VotingConfig struct {
	Autonomous          bool          `yaml:"autonomous" json:"autonomous"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	ApprovalTimeout     time.Duration `yaml:"approval_timeout" json:"approval_timeout"`
}

// LearningConfig holds the moving-average constants and seeded values.
type LearningConfig struct {
	PreferenceRetention float64       `yaml:"preference_retention" json:"preference_retention"`
	AccuracyRetention   float64       `yaml:"accuracy_retention" json:"accuracy_retention"`
	Values              []ValueConfig `yaml:"values" json:"values"`
}

// ValueConfig seeds a preference pattern at startup.
type ValueConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Category    string  `yaml:"category" json:"category"`
	Description string  `yaml:"description" json:"description"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
}

// Decision backends.
const (
	BackendHeuristic = "heuristic"
	BackendModel     = "model"
)

// DecisionConfig selects the decision backend.
type DecisionConfig struct {
	Backend         string `yaml:"backend" json:"backend"`
	Fallback        bool   `yaml:"fallback" json:"fallback"` // fall back to the heuristic when the model fails
	MaxPromptTokens int    `yaml:"max_prompt_tokens" json:"max_prompt_tokens"`
}

// SourcesConfig configures where proposals and sentiment come from.
type SourcesConfig struct {
	// Fixture is a YAML fixture file; empty uses the built-in sample data
	Fixture string   `yaml:"fixture" json:"fixture"`
	Allow   []string `yaml:"allow" json:"allow"`
	Ignore  []string `yaml:"ignore" json:"ignore"`
}

// StorageConfig locates persistent state. Empty paths keep that state in memory only.
type StorageConfig struct {
	JournalPath  string `yaml:"journal_path" json:"journal_path"`
	ArchiveDir   string `yaml:"archive_dir" json:"archive_dir"`
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// EventsConfig configures NATS event publishing. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" json:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
	// Dir holds session log files; empty uses ~/.govdelegate/logs
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:    "EternalGov",
			Address: "0x0000000000000000000000000000000000000000",
		},
		Organizations: []string{"uniswap", "aave", "compound"},
		Schedule:      "@every 1h",
		Cycle: CycleConfig{
			FetchTimeout: 30 * time.Second,
			ChainTimeout: 30 * time.Second,
			MaxProposals: 3,
		},
		Voting: VotingConfig{
			Autonomous:          false,
			ConfidenceThreshold: 0.5,
			ApprovalTimeout:     24 * time.Hour,
		},
		Learning: LearningConfig{
			PreferenceRetention: 0.7,
			AccuracyRetention:   0.8,
		},
		Decision: DecisionConfig{
			Backend:         BackendHeuristic,
			Fallback:        true,
			MaxPromptTokens: 1500,
		},
		LLM: LLMConfig{
			Model: DefaultModel,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Events: EventsConfig{
			SubjectPrefix: "govdelegate.events",
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Load reads path over DefaultConfig and validates the result. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := cfg.decode(raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays raw onto c, rejecting unknown keys.
func (c *Config) decode(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolvePaths makes relative file paths relative to the config file's directory.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{
		&c.Sources.Fixture,
		&c.Storage.JournalPath,
		&c.Storage.ArchiveDir,
		&c.Storage.ArtifactsDir,
		&c.Logging.Dir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Schedule == "" {
		return fmt.Errorf("schedule is required")
	}

	if c.Cycle.FetchTimeout < 0 || c.Cycle.ChainTimeout < 0 {
		return fmt.Errorf("cycle timeouts cannot be negative")
	}

	if c.Cycle.MaxProposals < 0 {
		return fmt.Errorf("max_proposals cannot be negative")
	}

	if c.Cycle.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}

	if c.Voting.ConfidenceThreshold < 0 || c.Voting.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %v", c.Voting.ConfidenceThreshold)
	}

	if c.Voting.ApprovalTimeout < 0 {
		return fmt.Errorf("approval_timeout cannot be negative")
	}

	for name, r := range map[string]float64{
		"preference_retention": c.Learning.PreferenceRetention,
		"accuracy_retention":   c.Learning.AccuracyRetention,
	} {
		if r < 0 || r >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %v", name, r)
		}
	}

	for i, v := range c.Learning.Values {
		if v.Name == "" {
			return fmt.Errorf("learning.values[%d]: name is required", i)
		}
		if v.Confidence < 0 || v.Confidence > 1 {
			return fmt.Errorf("learning.values[%d]: confidence must be between 0 and 1", i)
		}
	}

	if c.Decision.Backend != BackendHeuristic && c.Decision.Backend != BackendModel {
		return fmt.Errorf("invalid decision backend: %s (must be '%s' or '%s')", c.Decision.Backend, BackendHeuristic, BackendModel)
	}

	if c.Decision.MaxPromptTokens < 0 {
		return fmt.Errorf("max_prompt_tokens cannot be negative")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}
