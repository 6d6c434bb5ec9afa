// Package config loads and validates the sandboxd configuration from
// yaml files, environment variables and flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full sandboxd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Sandbox SandboxConfig `yaml:"sandbox" mapstructure:"sandbox"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tools   ToolsConfig   `yaml:"tools" mapstructure:"tools"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address      string        `yaml:"address" mapstructure:"address"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// SandboxConfig holds remote sandbox and lifecycle settings.
type SandboxConfig struct {
	// APIKey for the sandbox service. Falls back to the E2B_API_KEY
	// environment variable when empty.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	Template string `yaml:"template" mapstructure:"template"`
	Domain   string `yaml:"domain" mapstructure:"domain"`
	APIURL   string `yaml:"api_url" mapstructure:"api_url"`

	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxPerUser       int           `yaml:"max_sandboxes_per_user" mapstructure:"max_sandboxes_per_user"`
	MaxTotal         int           `yaml:"max_total_sandboxes" mapstructure:"max_total_sandboxes"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxAge           time.Duration `yaml:"max_sandbox_age" mapstructure:"max_sandbox_age"`
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	FreshWindow      time.Duration `yaml:"fresh_window" mapstructure:"fresh_window"`
	HealthTimeout    time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout" mapstructure:"reconnect_timeout"`
	ReapInterval     time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`

	// JournalPath is the sqlite lifecycle journal. Empty disables it.
	JournalPath string `yaml:"journal_path" mapstructure:"journal_path"`
}

// CacheConfig holds distributed cache settings.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ToolsConfig controls which agent tools are exposed.
type ToolsConfig struct {
	EnabledTools  []string `yaml:"enabled_tools" mapstructure:"enabled_tools"`
	DisabledTools []string `yaml:"disabled_tools" mapstructure:"disabled_tools"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	Exporter    string `yaml:"exporter" mapstructure:"exporter"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Template:         "base",
			Domain:           "e2b.app",
			Timeout:          500 * time.Second,
			MaxPerUser:       2,
			MaxTotal:         100,
			IdleTimeout:      500 * time.Second,
			MaxAge:           900 * time.Second,
			MaxRetries:       2,
			RetryDelay:       time.Second,
			FreshWindow:      30 * time.Second,
			HealthTimeout:    3 * time.Second,
			ReconnectTimeout: 5 * time.Second,
			ReapInterval:     30 * time.Second,
			JournalPath:      "/var/lib/sandboxd/journal.db",
		},
		Cache: CacheConfig{
			Enabled: true,
			URL:     "redis://localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tools: ToolsConfig{
			EnabledTools:  []string{},
			DisabledTools: []string{},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sandboxd",
			Exporter:    "stdout",
		},
	}
}

// LoadConfig loads configuration from an optional file plus SANDBOXD_*
// environment variables, layered over the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sandboxd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/sandboxd")
		v.AddConfigPath("/etc/sandboxd")
	}

	v.SetEnvPrefix("SANDBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults plus env cover it.
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Sandbox.APIKey == "" {
		config.Sandbox.APIKey = os.Getenv("E2B_API_KEY")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration as yaml.
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Sandbox.MaxPerUser < 1 {
		return fmt.Errorf("max_sandboxes_per_user must be at least 1")
	}
	if c.Sandbox.MaxTotal < c.Sandbox.MaxPerUser {
		return fmt.Errorf("max_total_sandboxes (%d) must be >= max_sandboxes_per_user (%d)",
			c.Sandbox.MaxTotal, c.Sandbox.MaxPerUser)
	}
	if c.Sandbox.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.Sandbox.MaxAge <= 0 {
		return fmt.Errorf("max_sandbox_age must be positive")
	}
	if c.Sandbox.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if c.Sandbox.FreshWindow < 0 {
		return fmt.Errorf("fresh_window cannot be negative")
	}
	// Empty journal_path disables journaling. A non-empty path must be a
	// file path, not a directory.
	if p := c.Sandbox.JournalPath; p != "" {
		if strings.HasSuffix(p, string(os.PathSeparator)) {
			return fmt.Errorf("journal_path must be a file path, not a directory: %s", p)
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return fmt.Errorf("journal_path must be a file path, not a directory: %s", p)
		}
	}

	if c.Cache.Enabled && c.Cache.URL == "" {
		return fmt.Errorf("cache url cannot be empty when cache is enabled")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		validExporters := map[string]bool{"stdout": true, "otlp": true}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing exporter: %s (must be stdout or otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint required for otlp exporter")
		}
	}

	return nil
}

// IsToolEnabled checks the enable/disable lists; an empty enabled list
// means every tool is on unless explicitly disabled.
func (c *Config) IsToolEnabled(toolName string) bool {
	for _, disabled := range c.Tools.DisabledTools {
		if disabled == toolName {
			return false
		}
	}

	if len(c.Tools.EnabledTools) == 0 {
		return true
	}

	for _, enabled := range c.Tools.EnabledTools {
		if enabled == toolName {
			return true
		}
	}

	return false
}

// MaskAPIKey renders an API key safe for logs: first and last four
// characters only.
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}
