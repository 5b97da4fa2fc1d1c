package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	// An empty path with no file anywhere nearby falls back to defaults.
	t.Chdir(t.TempDir())
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 100, cfg.Loop.MaxIterations)
	assert.Equal(t, 5, cfg.Loop.Retry.MaxAttempts)
}

func TestLoadOverridesDefaultsFieldByField(t *testing.T) {
	path := writeConfig(t, `
model:
  provider: openai
  model: gpt-4o
  max_tokens: 4096
loop:
  max_iterations: 10
  retry:
    max_attempts: 2
    base_delay: 100ms
    max_delay: 5s
    multiplier: 3.0
permissions:
  allow:
    - "shell:command=ls*"
  deny:
    - "shell:command=sudo*"
bus:
  poll_interval: 1s
tasks:
  output_limit: 4096
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, int64(4096), cfg.Model.MaxTokens)
	// Unset fields keep their defaults.
	assert.Equal(t, int64(200000), cfg.Model.ContextWindow)

	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, 100*time.Millisecond, cfg.Loop.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Loop.Retry.MaxDelay)
	assert.Equal(t, 3.0, cfg.Loop.Retry.Multiplier)

	assert.Equal(t, []string{"shell:command=ls*"}, cfg.Permissions.Allow)
	assert.Equal(t, time.Second, cfg.Bus.PollInterval)
	assert.Equal(t, 4096, cfg.Tasks.OutputLimit)
	assert.NotEmpty(t, cfg.Bus.Path)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
model:
  provider: bedrock
  model: something
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model.provider")
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	path := writeConfig(t, `
model:
  provider: anthropic
  model: claude-sonnet-4-5
future_feature:
  enabled: true
`)

	_, err := Load(path)
	require.NoError(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing model", func(c *Config) { c.Model.Model = "" }},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }},
		{"inverted delays", func(c *Config) { c.Loop.Retry.MaxDelay = c.Loop.Retry.BaseDelay / 2 }},
		{"multiplier below one", func(c *Config) { c.Loop.Retry.Multiplier = 0.5 }},
		{"empty bus path", func(c *Config) { c.Bus.Path = "" }},
		{"zero output limit", func(c *Config) { c.Tasks.OutputLimit = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
