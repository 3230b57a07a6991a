// Package config provides configuration loading for gated.
//
// Configuration is loaded from a YAML file and overridden by GATED_*
// environment variables. Stage definitions, secrets, and notification
// targets are all read once at startup and treated as read-only for the
// process lifetime; there is no in-place mutation after Load returns.
package config

import (
	"fmt"
	"time"
)

// Execution modes for the pipeline scheduler.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Config holds the complete gated configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logging  LoggingConfig  `koanf:"logging"`
	Stages   []StageSpec    `koanf:"stages"`
}

// ServerConfig holds HTTP gateway configuration.
type ServerConfig struct {
	ListenAddr      string   `koanf:"listen_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
	WebhookSecret   Secret   `koanf:"webhook_secret"`

	// AllowUnsigned accepts webhook requests without a signature header.
	// Default false: strict mode, unsigned requests are rejected with 401.
	AllowUnsigned bool `koanf:"allow_unsigned"`
}

// PipelineConfig holds scheduler and registry configuration.
type PipelineConfig struct {
	Mode                string   `koanf:"mode"`
	MaxConcurrentRuns   int      `koanf:"max_concurrent_runs"`
	MaxConcurrentStages int      `koanf:"max_concurrent_stages"`
	HistorySize         int      `koanf:"history_size"`
	DefaultTimeout      Duration `koanf:"default_timeout"`

	// ReportDir, when set, receives one {runId}.json audit file per
	// completed run. Append-only; gated never reads these back.
	ReportDir string `koanf:"report_dir"`
}

// NotifyConfig holds outbound notification configuration.
type NotifyConfig struct {
	WebhookURLs []string `koanf:"webhook_urls"`
	Timeout     Duration `koanf:"timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StageSpec describes one validation stage. Stage specs are static
// configuration: loaded once, immutable at runtime.
type StageSpec struct {
	Name    string `koanf:"name"`
	Command []string `koanf:"command"`

	// Critical stages block the run on failure; advisory stages only warn.
	Critical bool `koanf:"critical"`

	Timeout Duration `koanf:"timeout"`

	// Fast marks the stage as part of the pre-commit subset.
	Fast bool `koanf:"fast"`

	// Env is an optional per-stage environment overlay.
	Env map[string]string `koanf:"env"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8787"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(20 * time.Second)
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Pipeline.Mode == "" {
		cfg.Pipeline.Mode = ModeSequential
	}
	if cfg.Pipeline.MaxConcurrentRuns == 0 {
		cfg.Pipeline.MaxConcurrentRuns = 2
	}
	if cfg.Pipeline.MaxConcurrentStages == 0 {
		cfg.Pipeline.MaxConcurrentStages = 4
	}
	if cfg.Pipeline.HistorySize == 0 {
		cfg.Pipeline.HistorySize = 64
	}
	if cfg.Pipeline.DefaultTimeout == 0 {
		cfg.Pipeline.DefaultTimeout = Duration(2 * time.Minute)
	}

	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = Duration(5 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Stages without an explicit timeout inherit the pipeline default.
	for i := range cfg.Stages {
		if cfg.Stages[i].Timeout == 0 {
			cfg.Stages[i].Timeout = cfg.Pipeline.DefaultTimeout
		}
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive")
	}

	if c.Pipeline.Mode != ModeSequential && c.Pipeline.Mode != ModeParallel {
		return fmt.Errorf("pipeline mode must be %q or %q, got %q",
			ModeSequential, ModeParallel, c.Pipeline.Mode)
	}
	if c.Pipeline.MaxConcurrentRuns < 1 {
		return fmt.Errorf("pipeline max_concurrent_runs must be >= 1, got %d", c.Pipeline.MaxConcurrentRuns)
	}
	if c.Pipeline.MaxConcurrentStages < 1 {
		return fmt.Errorf("pipeline max_concurrent_stages must be >= 1, got %d", c.Pipeline.MaxConcurrentStages)
	}
	if c.Pipeline.HistorySize < 1 {
		return fmt.Errorf("pipeline history_size must be >= 1, got %d", c.Pipeline.HistorySize)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Stages))
	for _, stage := range c.Stages {
		if stage.Name == "" {
			return fmt.Errorf("stage name cannot be empty")
		}
		if seen[stage.Name] {
			return fmt.Errorf("duplicate stage name %q", stage.Name)
		}
		seen[stage.Name] = true

		if len(stage.Command) == 0 || stage.Command[0] == "" {
			return fmt.Errorf("stage %q has no command", stage.Name)
		}
		if stage.Timeout.Duration() <= 0 {
			return fmt.Errorf("stage %q timeout must be positive", stage.Name)
		}
	}

	return nil
}

// FastStages returns the subset of stages marked fast, in declared order.
func (c *Config) FastStages() []StageSpec {
	var out []StageSpec
	for _, s := range c.Stages {
		if s.Fast {
			out = append(out, s)
		}
	}
	return out
}

// SelectStages returns the named stages in declared (not requested) order.
// Unknown names are an error so a typo never silently skips a check.
func (c *Config) SelectStages(names []string) ([]StageSpec, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []StageSpec
	for _, s := range c.Stages {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown stage %q", n)
	}
	return out, nil
}
