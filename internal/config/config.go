// Package config loads the aide configuration: YAML file merged with
// environment overrides, validated at startup, reloadable at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all aide configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model provider configuration
	Model ModelConfig `yaml:"model"`

	// Filesystem sandbox configuration
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Process execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Memory store and context assembly
	Memory MemoryConfig `yaml:"memory"`

	// Conversation loop settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the hosted model client.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai, zai, xai, openrouter, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// SandboxConfig configures the path allowlist.
type SandboxConfig struct {
	// AllowedPaths are extra roots beyond the conservative defaults.
	AllowedPaths []string `yaml:"allowed_paths"`

	// AllowFullFilesystem opts into the permissive posture (root "/").
	AllowFullFilesystem bool `yaml:"allow_full_filesystem"`
}

// ExecutionConfig configures the process executor.
type ExecutionConfig struct {
	// DefaultTimeout for commands
	DefaultTimeout string `yaml:"default_timeout"`

	// MaxTimeout caps per-command timeouts
	MaxTimeout string `yaml:"max_timeout"`

	// MaxOutputBytes caps captured output per stream
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Working directory
	WorkingDirectory string `yaml:"working_directory"`

	// Environment variables to pass through
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}

// MemoryConfig configures the memory store and context builder.
type MemoryConfig struct {
	// Enabled turns memory retrieval on.
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite file location.
	DatabasePath string `yaml:"database_path"`

	// ContextBudget is the max assembled context length in characters.
	ContextBudget int `yaml:"context_budget"`

	// RecentTurns, EpisodeLimit and FactLimit bound each retrieval tier.
	RecentTurns  int `yaml:"recent_turns"`
	EpisodeLimit int `yaml:"episode_limit"`
	FactLimit    int `yaml:"fact_limit"`
}

// OrchestratorConfig configures the conversation loop.
type OrchestratorConfig struct {
	// SystemPrompt overrides the built-in system message.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTurns bounds model calls per run.
	MaxTurns int `yaml:"max_turns"`

	// ToolTimeout is the per-tool execution cap.
	ToolTimeout string `yaml:"tool_timeout"`
}

// LoggingConfig configures the file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "aide",
		Version: "0.3.0",

		Model: ModelConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.1,
			Timeout:     "120s",
		},

		Sandbox: SandboxConfig{},

		Execution: ExecutionConfig{
			DefaultTimeout:   "30s",
			MaxTimeout:       "10m",
			MaxOutputBytes:   10 * 1024 * 1024,
			WorkingDirectory: ".",
			AllowedEnvVars:   []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "DISPLAY"},
		},

		Memory: MemoryConfig{
			Enabled:       true,
			DatabasePath:  "data/aide.db",
			ContextBudget: 8000,
			RecentTurns:   10,
			EpisodeLimit:  5,
			FactLimit:     10,
		},

		Orchestrator: OrchestratorConfig{
			MaxTurns:    10,
			ToolTimeout: "2m",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location (.aide/config.yaml
// under the current working directory).
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".aide", "config.yaml")
	}
	return filepath.Join(cwd, ".aide", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies AIDE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("AIDE_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if provider := os.Getenv("AIDE_PROVIDER"); provider != "" {
		c.Model.Provider = provider
	}
	if model := os.Getenv("AIDE_MODEL"); model != "" {
		c.Model.Model = model
	}
	if url := os.Getenv("AIDE_BASE_URL"); url != "" {
		c.Model.BaseURL = url
	}
	if path := os.Getenv("AIDE_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if paths := os.Getenv("AIDE_ALLOWED_PATHS"); paths != "" {
		for _, p := range strings.Split(paths, ":") {
			if p = strings.TrimSpace(p); p != "" {
				c.Sandbox.AllowedPaths = append(c.Sandbox.AllowedPaths, p)
			}
		}
	}

	// Provider-specific keys, lowest priority.
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "gemini":
			c.Model.APIKey = os.Getenv("GEMINI_API_KEY")
		case "xai":
			c.Model.APIKey = os.Getenv("XAI_API_KEY")
		case "zai":
			c.Model.APIKey = os.Getenv("ZAI_API_KEY")
		default:
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// GetModelTimeout returns the model timeout as a duration.
func (c *Config) GetModelTimeout() time.Duration {
	d, err := time.ParseDuration(c.Model.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetExecutionTimeout returns the default execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.DefaultTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetMaxExecutionTimeout returns the execution timeout cap as a duration.
func (c *Config) GetMaxExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.MaxTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetToolTimeout returns the per-tool timeout as a duration.
func (c *Config) GetToolTimeout() time.Duration {
	d, err := time.ParseDuration(c.Orchestrator.ToolTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ValidProviders lists all supported model providers.
var ValidProviders = []string{"openai", "zai", "xai", "openrouter", "gemini"}

// Validate validates the configuration. A missing API key is a fatal
// startup error.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model API key not configured (set AIDE_API_KEY or model.api_key)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Model.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid model provider: %s (valid: %v)", c.Model.Provider, ValidProviders)
	}

	if c.Orchestrator.MaxTurns < 0 {
		return fmt.Errorf("orchestrator.max_turns must not be negative")
	}

	return nil
}
