// Package config loads ralph settings from a YAML file, an optional .env
// file, and RALPH_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/martinemde/ralph/adapters"
	"github.com/martinemde/ralph/orchestrator"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RALPH_"

// Config represents the main configuration.
type Config struct {
	PrimaryTool        string                     `yaml:"primary_tool"`
	CompletionPromise  string                     `yaml:"completion_promise"`
	MaxIterations      int                        `yaml:"max_iterations"`
	MaxRuntime         time.Duration              `yaml:"max_runtime,omitempty"`
	IterationTimeout   time.Duration              `yaml:"iteration_timeout,omitempty"`
	PromptFile         string                     `yaml:"prompt_file,omitempty"`
	WorkingDir         string                     `yaml:"working_dir,omitempty"`
	Model              string                     `yaml:"model,omitempty"`
	CheckpointInterval int                        `yaml:"checkpoint_interval,omitempty"`
	StallWindow        int                        `yaml:"stall_window,omitempty"`
	OutputLimit        int                        `yaml:"output_limit,omitempty"`
	LogLevel           string                     `yaml:"log_level,omitempty"`
	Retry              orchestrator.FailurePolicy `yaml:"retry"`
	Adapters           []adapters.Spec            `yaml:"adapters,omitempty"`
}

// envOverrides lists the settings that may come from the environment.
// Zero values mean "not set"; MaxRetries is a pointer because zero retries
// is meaningful.
type envOverrides struct {
	PrimaryTool        string        `env:"PRIMARY_TOOL"`
	CompletionPromise  string        `env:"COMPLETION_PROMISE"`
	MaxIterations      int           `env:"MAX_ITERATIONS"`
	MaxRuntime         time.Duration `env:"MAX_RUNTIME"`
	IterationTimeout   time.Duration `env:"ITERATION_TIMEOUT"`
	MaxRetries         *int          `env:"MAX_RETRIES"`
	PromptFile         string        `env:"PROMPT_FILE"`
	WorkingDir         string        `env:"WORKING_DIR"`
	Model              string        `env:"MODEL"`
	CheckpointInterval int           `env:"CHECKPOINT_INTERVAL"`
	LogLevel           string        `env:"LOG_LEVEL"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	oc := orchestrator.DefaultConfig()
	return &Config{
		PrimaryTool:       oc.PrimaryTool,
		CompletionPromise: oc.CompletionPromise,
		MaxIterations:     oc.MaxIterations,
		PromptFile:        "PROMPT.md",
		StallWindow:       oc.StallWindow,
		LogLevel:          "INFO",
		Retry:             orchestrator.DefaultFailurePolicy(),
		Adapters:          adapters.DefaultSpecs(),
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays RALPH_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	setString(&c.PrimaryTool, o.PrimaryTool)
	setString(&c.CompletionPromise, o.CompletionPromise)
	setString(&c.PromptFile, o.PromptFile)
	setString(&c.WorkingDir, o.WorkingDir)
	setString(&c.Model, o.Model)
	setString(&c.LogLevel, o.LogLevel)
	if o.MaxIterations != 0 {
		c.MaxIterations = o.MaxIterations
	}
	if o.MaxRuntime != 0 {
		c.MaxRuntime = o.MaxRuntime
	}
	if o.IterationTimeout != 0 {
		c.IterationTimeout = o.IterationTimeout
	}
	if o.CheckpointInterval != 0 {
		c.CheckpointInterval = o.CheckpointInterval
	}
	if o.MaxRetries != nil {
		c.Retry.MaxRetries = *o.MaxRetries
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Load is the usual entry point: defaults, then the YAML file at path (if
// any), then .env, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PrimaryTool) == "" {
		errs = append(errs, errors.New("primary_tool is required"))
	}
	if c.CompletionPromise != "" && strings.TrimSpace(c.CompletionPromise) == "" {
		errs = append(errs, errors.New("completion_promise must not be blank"))
	}
	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations))
	}
	if c.MaxRuntime < 0 {
		errs = append(errs, fmt.Errorf("max_runtime must not be negative, got %s", c.MaxRuntime))
	}
	if c.IterationTimeout < 0 {
		errs = append(errs, fmt.Errorf("iteration_timeout must not be negative, got %s", c.IterationTimeout))
	}
	if c.CheckpointInterval < 0 {
		errs = append(errs, fmt.Errorf("checkpoint_interval must not be negative, got %d", c.CheckpointInterval))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries))
	}

	seen := make(map[string]bool)
	primaryEnabled := false
	for i, spec := range c.AdapterSpecs() {
		name := spec.AdapterName()
		if name == "" {
			errs = append(errs, fmt.Errorf("adapters[%d]: name or kind is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("adapters[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if name == c.PrimaryTool && !spec.Disabled {
			primaryEnabled = true
		}
	}
	if c.PrimaryTool != "" && !primaryEnabled {
		errs = append(errs, fmt.Errorf("primary_tool %q is not an enabled adapter", c.PrimaryTool))
	}
	return errors.Join(errs...)
}

// AdapterSpecs returns the configured adapters, or the defaults when none
// are configured.
func (c *Config) AdapterSpecs() []adapters.Spec {
	if len(c.Adapters) == 0 {
		return adapters.DefaultSpecs()
	}
	return c.Adapters
}

// OrchestratorConfig converts c into the orchestrator's settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	retry := c.Retry
	return orchestrator.Config{
		PrimaryTool:        c.PrimaryTool,
		CompletionPromise:  c.CompletionPromise,
		MaxIterations:      c.MaxIterations,
		MaxRuntime:         c.MaxRuntime,
		IterationTimeout:   c.IterationTimeout,
		Retry:              &retry,
		PromptFile:         c.PromptFile,
		WorkingDir:         c.WorkingDir,
		Model:              c.Model,
		CheckpointInterval: c.CheckpointInterval,
		StallWindow:        c.StallWindow,
		OutputLimit:        c.OutputLimit,
	}
}
