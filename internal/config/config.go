// ABOUTME: Configuration loading and parsing for helix-chat
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete helix-chat configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Models    ModelsConfig              `yaml:"models"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Streaming StreamingConfig           `yaml:"streaming"`
	Turns     TurnsConfig               `yaml:"turns"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// ServerConfig holds server identity configuration
type ServerConfig struct {
	// AccountID is the account all conversations and credentials belong to.
	AccountID string `yaml:"account_id"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ModelsConfig points at the TOML model capability table
type ModelsConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig holds one upstream provider's credentials
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StreamingConfig holds stream delivery tuning
type StreamingConfig struct {
	FlushInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	FlushIntervalRaw string `yaml:"flush_interval"`
}

// TurnsConfig holds per-turn execution tuning
type TurnsConfig struct {
	CallTimeout time.Duration `yaml:"-"`

	CallTimeoutRaw string `yaml:"call_timeout"`
	HistoryLimit   int    `yaml:"history_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Models.Path == "" {
		return fmt.Errorf("models.path is required")
	}
	if c.Streaming.FlushInterval < 0 {
		return fmt.Errorf("streaming.flush_interval must not be negative")
	}
	if c.Turns.HistoryLimit < 0 {
		return fmt.Errorf("turns.history_limit must not be negative")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			return fmt.Errorf("providers.%s.api_key is required", name)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Streaming.FlushIntervalRaw != "" {
		cfg.Streaming.FlushInterval, err = time.ParseDuration(cfg.Streaming.FlushIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing flush_interval %q: %w", cfg.Streaming.FlushIntervalRaw, err)
		}
	}

	if cfg.Turns.CallTimeoutRaw != "" {
		cfg.Turns.CallTimeout, err = time.ParseDuration(cfg.Turns.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Turns.CallTimeoutRaw, err)
		}
	}

	return nil
}
