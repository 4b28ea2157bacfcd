// ABOUTME: Configuration loading and parsing for coven-line
// ABOUTME: Supports YAML or TOML files with environment variable expansion, overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvChannelAccessToken = "CHANNEL_ACCESS_TOKEN"
	EnvDestinationUserID  = "DESTINATION_USER_ID"
)

// Config represents the complete coven-line configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	LINE      LINEConfig      `yaml:"line" toml:"line"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // serve publicly over HTTPS via Funnel
}

// DatabaseConfig holds tool-call history configuration. An empty path
// disables history.
type DatabaseConfig struct {
	Path      string        `yaml:"path" toml:"path"`
	Retention time.Duration `yaml:"-" toml:"-"`

	RetentionRaw string `yaml:"retention" toml:"retention"`
}

// LINEConfig holds LINE Messaging API configuration
type LINEConfig struct {
	ChannelAccessToken string        `yaml:"channel_access_token" toml:"channel_access_token"`
	DestinationUserID  string        `yaml:"destination_user_id" toml:"destination_user_id"`
	BaseURL            string        `yaml:"base_url" toml:"base_url"`
	RetryMax           int           `yaml:"retry_max" toml:"retry_max"`
	Timeout            time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// MCPConfig holds session and tool-call timing configuration
type MCPConfig struct {
	CallTimeout       time.Duration `yaml:"-" toml:"-"`
	CompletionTimeout time.Duration `yaml:"-" toml:"-"`
	KeepaliveInterval time.Duration `yaml:"-" toml:"-"`
	ReplayWindow      time.Duration `yaml:"-" toml:"-"`
	ChannelBuffer     int           `yaml:"channel_buffer" toml:"channel_buffer"`

	// Raw string values for unmarshaling
	CallTimeoutRaw       string `yaml:"call_timeout" toml:"call_timeout"`
	CompletionTimeoutRaw string `yaml:"completion_timeout" toml:"completion_timeout"`
	KeepaliveIntervalRaw string `yaml:"keepalive_interval" toml:"keepalive_interval"`
	ReplayWindowRaw      string `yaml:"replay_window" toml:"replay_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults.
const (
	DefaultLINEBaseURL       = "https://api.line.me"
	DefaultLINETimeout       = 10 * time.Second
	DefaultLINERetryMax      = 2
	DefaultCallTimeout       = 30 * time.Second
	DefaultCompletionTimeout = 60 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultReplayWindow      = 10 * time.Minute
	DefaultChannelBuffer     = 64
	DefaultMetricsPath       = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// CHANNEL_ACCESS_TOKEN and DESTINATION_USER_ID override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatForPath(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, expands, overrides, defaults and validates raw config data.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvChannelAccessToken); v != "" {
		cfg.LINE.ChannelAccessToken = v
	}
	if v := os.Getenv(EnvDestinationUserID); v != "" {
		cfg.LINE.DestinationUserID = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LINE.BaseURL == "" {
		cfg.LINE.BaseURL = DefaultLINEBaseURL
	}
	if cfg.LINE.Timeout == 0 {
		cfg.LINE.Timeout = DefaultLINETimeout
	}
	if cfg.LINE.RetryMax == 0 {
		cfg.LINE.RetryMax = DefaultLINERetryMax
	}
	if cfg.MCP.CallTimeout == 0 {
		cfg.MCP.CallTimeout = DefaultCallTimeout
	}
	if cfg.MCP.CompletionTimeout == 0 {
		cfg.MCP.CompletionTimeout = DefaultCompletionTimeout
		if cfg.MCP.CompletionTimeout <= cfg.MCP.CallTimeout {
			cfg.MCP.CompletionTimeout = 2 * cfg.MCP.CallTimeout
		}
	}
	if cfg.MCP.KeepaliveInterval == 0 {
		cfg.MCP.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.MCP.ReplayWindow == 0 {
		cfg.MCP.ReplayWindow = DefaultReplayWindow
	}
	if cfg.MCP.ChannelBuffer == 0 {
		cfg.MCP.ChannelBuffer = DefaultChannelBuffer
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.LINE.RetryMax < 0 {
		return fmt.Errorf("line.retry_max must not be negative")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"line.timeout", c.LINE.Timeout},
		{"mcp.call_timeout", c.MCP.CallTimeout},
		{"mcp.completion_timeout", c.MCP.CompletionTimeout},
		{"mcp.keepalive_interval", c.MCP.KeepaliveInterval},
		{"mcp.replay_window", c.MCP.ReplayWindow},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	// The waiter must outlast the handler it waits on.
	if c.MCP.CallTimeout > 0 && c.MCP.CompletionTimeout > 0 && c.MCP.CompletionTimeout <= c.MCP.CallTimeout {
		return fmt.Errorf("mcp.completion_timeout (%s) must be greater than mcp.call_timeout (%s)",
			c.MCP.CompletionTimeout, c.MCP.CallTimeout)
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must not be negative")
	}

	if c.MCP.ChannelBuffer < 0 {
		return fmt.Errorf("mcp.channel_buffer must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// Warnings lists problems that do not stop the server from starting but
// will make tool calls fail.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.LINE.ChannelAccessToken == "" {
		warnings = append(warnings, fmt.Sprintf(
			"line.channel_access_token is not set (or %s); every messaging tool call will fail", EnvChannelAccessToken))
	}
	if c.LINE.DestinationUserID == "" {
		warnings = append(warnings, fmt.Sprintf(
			"line.destination_user_id is not set (or %s); push and profile tools will require userId", EnvDestinationUserID))
	}
	return warnings
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
		{"line.timeout", cfg.LINE.TimeoutRaw, &cfg.LINE.Timeout},
		{"mcp.call_timeout", cfg.MCP.CallTimeoutRaw, &cfg.MCP.CallTimeout},
		{"mcp.completion_timeout", cfg.MCP.CompletionTimeoutRaw, &cfg.MCP.CompletionTimeout},
		{"mcp.keepalive_interval", cfg.MCP.KeepaliveIntervalRaw, &cfg.MCP.KeepaliveInterval},
		{"mcp.replay_window", cfg.MCP.ReplayWindowRaw, &cfg.MCP.ReplayWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
