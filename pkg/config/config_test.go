package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "base", cfg.Sandbox.Template)
	assert.Equal(t, 2, cfg.Sandbox.MaxPerUser)
	assert.Equal(t, 100, cfg.Sandbox.MaxTotal)
	assert.Equal(t, 500*time.Second, cfg.Sandbox.IdleTimeout)
	assert.Equal(t, 900*time.Second, cfg.Sandbox.MaxAge)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxd.yaml")
	content := `
server:
  port: 9090
sandbox:
  template: node
  max_sandboxes_per_user: 5
  max_total_sandboxes: 50
cache:
  enabled: false
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "node", cfg.Sandbox.Template)
	assert.Equal(t, 5, cfg.Sandbox.MaxPerUser)
	assert.Equal(t, 50, cfg.Sandbox.MaxTotal)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 500*time.Second, cfg.Sandbox.IdleTimeout)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigAPIKeyFromEnv(t *testing.T) {
	t.Setenv("E2B_API_KEY", "e2b_test_key_12345")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "e2b_test_key_12345", cfg.Sandbox.APIKey)
}

func TestSaveAndReloadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Sandbox.Template = "python"

	path := filepath.Join(t.TempDir(), "out", "sandboxd.yaml")
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
	assert.Equal(t, "python", loaded.Sandbox.Template)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"zero per-user quota", func(c *Config) { c.Sandbox.MaxPerUser = 0 }, "max_sandboxes_per_user"},
		{"total below per-user", func(c *Config) {
			c.Sandbox.MaxPerUser = 10
			c.Sandbox.MaxTotal = 5
		}, "max_total_sandboxes"},
		{"zero idle timeout", func(c *Config) { c.Sandbox.IdleTimeout = 0 }, "idle_timeout"},
		{"zero max age", func(c *Config) { c.Sandbox.MaxAge = 0 }, "max_sandbox_age"},
		{"zero retries", func(c *Config) { c.Sandbox.MaxRetries = 0 }, "max_retries"},
		{"empty journal path disables journaling", func(c *Config) { c.Sandbox.JournalPath = "" }, ""},
		{"journal path with trailing separator", func(c *Config) {
			c.Sandbox.JournalPath = "/var/lib/sandboxd/"
		}, "journal_path"},
		{"journal path is a directory", func(c *Config) { c.Sandbox.JournalPath = os.TempDir() }, "journal_path"},
		{"cache enabled without url", func(c *Config) { c.Cache.URL = "" }, "cache url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad tracer", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, "invalid tracing exporter"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, "tracing endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIsToolEnabled(t *testing.T) {
	cfg := DefaultConfig()

	// Empty enabled list means everything is on.
	assert.True(t, cfg.IsToolEnabled("write_file"))

	cfg.Tools.DisabledTools = []string{"run_command"}
	assert.False(t, cfg.IsToolEnabled("run_command"))
	assert.True(t, cfg.IsToolEnabled("write_file"))

	cfg.Tools.EnabledTools = []string{"read_file"}
	assert.True(t, cfg.IsToolEnabled("read_file"))
	assert.False(t, cfg.IsToolEnabled("write_file"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "none", MaskAPIKey(""))
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "e2b_...6789", MaskAPIKey("e2b_abcdef123456789"))
}
