// Package config loads the weft.yaml runtime configuration: model
// selection, loop limits, tool permissions, bus location, and task
// limits. Everything has a default; an absent file is a valid
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/weftwork/weft/pkg/paths"
	"github.com/weftwork/weft/pkg/permissions"
)

// FileName is the runtime configuration file looked up in the working
// directory and in the user config directory, in that order.
const FileName = "weft.yaml"

type Config struct {
	Model       ModelConfig        `yaml:"model"`
	Loop        LoopConfig         `yaml:"loop"`
	Permissions permissions.Config `yaml:"permissions"`
	Bus         BusConfig          `yaml:"bus"`
	Tasks       TasksConfig        `yaml:"tasks"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// MaxTokens caps output tokens per model turn.
	MaxTokens int64 `yaml:"max_tokens,omitempty"`
	// ContextWindow is the model's context size in tokens, used for the
	// context usage warning. 0 disables the warning.
	ContextWindow int64 `yaml:"context_window,omitempty"`
}

type LoopConfig struct {
	MaxIterations int         `yaml:"max_iterations,omitempty"`
	Retry         RetryConfig `yaml:"retry,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
	Multiplier  float64       `yaml:"multiplier,omitempty"`
}

type BusConfig struct {
	// Path is the SQLite database file backing the event bus.
	Path string `yaml:"path,omitempty"`
	// PollInterval is the subscriber fallback poll interval.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

type TasksConfig struct {
	// OutputLimit caps each background task's accumulated output, in
	// bytes.
	OutputLimit int `yaml:"output_limit,omitempty"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			MaxTokens:     8192,
			ContextWindow: 200000,
		},
		Loop: LoopConfig{
			MaxIterations: 100,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Multiplier:  2.0,
			},
		},
		Bus: BusConfig{
			Path:         filepath.Join(paths.GetDataDir(), "bus.db"),
			PollInterval: 500 * time.Millisecond,
		},
		Tasks: TasksConfig{
			OutputLimit: 1 << 20,
		},
	}
}

// Load reads the configuration at path. An empty path searches the
// working directory and then the user config directory; with no file
// found anywhere the defaults are returned. Values present in the file
// override defaults field by field.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
		if path == "" {
			return &cfg, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func findConfigFile() string {
	candidates := []string{FileName, filepath.Join(paths.GetConfigDir(), FileName)}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	case "":
		return errors.New("model.provider is required")
	default:
		return fmt.Errorf("unknown model.provider %q (supported: anthropic, openai)", c.Model.Provider)
	}
	if c.Model.Model == "" {
		return errors.New("model.model is required")
	}
	if c.Model.MaxTokens < 0 {
		return errors.New("model.max_tokens must not be negative")
	}
	if c.Model.ContextWindow < 0 {
		return errors.New("model.context_window must not be negative")
	}
	if c.Loop.MaxIterations <= 0 {
		return errors.New("loop.max_iterations must be positive")
	}
	if c.Loop.Retry.MaxAttempts < 0 {
		return errors.New("loop.retry.max_attempts must not be negative")
	}
	if c.Loop.Retry.BaseDelay <= 0 || c.Loop.Retry.MaxDelay < c.Loop.Retry.BaseDelay {
		return errors.New("loop.retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Loop.Retry.Multiplier < 1 {
		return errors.New("loop.retry.multiplier must be at least 1")
	}
	if c.Bus.Path == "" {
		return errors.New("bus.path is required")
	}
	if c.Bus.PollInterval <= 0 {
		return errors.New("bus.poll_interval must be positive")
	}
	if c.Tasks.OutputLimit <= 0 {
		return errors.New("tasks.output_limit must be positive")
	}
	return nil
}
