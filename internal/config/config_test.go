// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion and overrides, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearLINEEnv keeps the developer's shell from leaking into a test.
func clearLINEEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvChannelAccessToken, "")
	t.Setenv(EnvDestinationUserID, "")
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:3000"

database:
  path: "./history.db"
  retention: "720h"

line:
  channel_access_token: "token-abc"
  destination_user_id: "U123"
  retry_max: 3
  timeout: "5s"

mcp:
  call_timeout: "20s"
  completion_timeout: "45s"
  keepalive_interval: "15s"
  replay_window: "5m"
  channel_buffer: 8

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:3000")
	}
	if cfg.Database.Path != "./history.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./history.db")
	}
	if cfg.Database.Retention != 720*time.Hour {
		t.Errorf("Database.Retention = %v, want %v", cfg.Database.Retention, 720*time.Hour)
	}
	if cfg.LINE.ChannelAccessToken != "token-abc" {
		t.Errorf("LINE.ChannelAccessToken = %q, want %q", cfg.LINE.ChannelAccessToken, "token-abc")
	}
	if cfg.LINE.DestinationUserID != "U123" {
		t.Errorf("LINE.DestinationUserID = %q, want %q", cfg.LINE.DestinationUserID, "U123")
	}
	if cfg.LINE.RetryMax != 3 {
		t.Errorf("LINE.RetryMax = %d, want 3", cfg.LINE.RetryMax)
	}
	if cfg.LINE.Timeout != 5*time.Second {
		t.Errorf("LINE.Timeout = %v, want %v", cfg.LINE.Timeout, 5*time.Second)
	}
	if cfg.LINE.BaseURL != DefaultLINEBaseURL {
		t.Errorf("LINE.BaseURL = %q, want default %q", cfg.LINE.BaseURL, DefaultLINEBaseURL)
	}
	if cfg.MCP.CallTimeout != 20*time.Second {
		t.Errorf("MCP.CallTimeout = %v, want %v", cfg.MCP.CallTimeout, 20*time.Second)
	}
	if cfg.MCP.CompletionTimeout != 45*time.Second {
		t.Errorf("MCP.CompletionTimeout = %v, want %v", cfg.MCP.CompletionTimeout, 45*time.Second)
	}
	if cfg.MCP.KeepaliveInterval != 15*time.Second {
		t.Errorf("MCP.KeepaliveInterval = %v, want %v", cfg.MCP.KeepaliveInterval, 15*time.Second)
	}
	if cfg.MCP.ReplayWindow != 5*time.Minute {
		t.Errorf("MCP.ReplayWindow = %v, want %v", cfg.MCP.ReplayWindow, 5*time.Minute)
	}
	if cfg.MCP.ChannelBuffer != 8 {
		t.Errorf("MCP.ChannelBuffer = %d, want 8", cfg.MCP.ChannelBuffer)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/prom" {
		t.Errorf("Metrics = %+v, want enabled at /prom", cfg.Metrics)
	}
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("Warnings() = %v, want none", w)
	}
}

func TestLoad_TOMLConfig(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.toml", `
[server]
http_addr = "0.0.0.0:3000"

[line]
channel_access_token = "toml-token"
timeout = "3s"

[mcp]
completion_timeout = "90s"

[metrics]
enabled = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3000")
	}
	if cfg.LINE.ChannelAccessToken != "toml-token" {
		t.Errorf("LINE.ChannelAccessToken = %q, want %q", cfg.LINE.ChannelAccessToken, "toml-token")
	}
	if cfg.LINE.Timeout != 3*time.Second {
		t.Errorf("LINE.Timeout = %v, want %v", cfg.LINE.Timeout, 3*time.Second)
	}
	if cfg.MCP.CompletionTimeout != 90*time.Second {
		t.Errorf("MCP.CompletionTimeout = %v, want %v", cfg.MCP.CompletionTimeout, 90*time.Second)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
}

func TestLoad_CompletionTimeoutFollowsCallTimeout(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
mcp:
  call_timeout: "90s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MCP.CompletionTimeout != 180*time.Second {
		t.Errorf("MCP.CompletionTimeout = %v, want %v", cfg.MCP.CompletionTimeout, 180*time.Second)
	}

	path = writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
mcp:
  call_timeout: "5s"
  completion_timeout: "50ms"
`)
	_, err = Load(path)
	if err == nil {
		t.Fatal("Load() expected error for completion_timeout <= call_timeout")
	}
	if !strings.Contains(err.Error(), "mcp.completion_timeout") {
		t.Errorf("error = %q, want it to name mcp.completion_timeout", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MCP.CallTimeout != DefaultCallTimeout {
		t.Errorf("MCP.CallTimeout = %v, want %v", cfg.MCP.CallTimeout, DefaultCallTimeout)
	}
	if cfg.MCP.CompletionTimeout != DefaultCompletionTimeout {
		t.Errorf("MCP.CompletionTimeout = %v, want %v", cfg.MCP.CompletionTimeout, DefaultCompletionTimeout)
	}
	if cfg.MCP.KeepaliveInterval != DefaultKeepaliveInterval {
		t.Errorf("MCP.KeepaliveInterval = %v, want %v", cfg.MCP.KeepaliveInterval, DefaultKeepaliveInterval)
	}
	if cfg.MCP.ReplayWindow != DefaultReplayWindow {
		t.Errorf("MCP.ReplayWindow = %v, want %v", cfg.MCP.ReplayWindow, DefaultReplayWindow)
	}
	if cfg.MCP.ChannelBuffer != DefaultChannelBuffer {
		t.Errorf("MCP.ChannelBuffer = %d, want %d", cfg.MCP.ChannelBuffer, DefaultChannelBuffer)
	}
	if cfg.LINE.RetryMax != DefaultLINERetryMax {
		t.Errorf("LINE.RetryMax = %d, want %d", cfg.LINE.RetryMax, DefaultLINERetryMax)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty (history disabled)", cfg.Database.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearLINEEnv(t)
	t.Setenv("TEST_LINE_TOKEN", "expanded-token")
	t.Setenv("TEST_DB_PATH", "/tmp/expanded.db")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
database:
  path: "${TEST_DB_PATH}"
line:
  channel_access_token: "${TEST_LINE_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LINE.ChannelAccessToken != "expanded-token" {
		t.Errorf("LINE.ChannelAccessToken = %q, want %q", cfg.LINE.ChannelAccessToken, "expanded-token")
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/expanded.db")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvChannelAccessToken, "env-token")
	t.Setenv(EnvDestinationUserID, "Uenv")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
line:
  channel_access_token: "file-token"
  destination_user_id: "Ufile"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LINE.ChannelAccessToken != "env-token" {
		t.Errorf("LINE.ChannelAccessToken = %q, want env override %q", cfg.LINE.ChannelAccessToken, "env-token")
	}
	if cfg.LINE.DestinationUserID != "Uenv" {
		t.Errorf("LINE.DestinationUserID = %q, want env override %q", cfg.LINE.DestinationUserID, "Uenv")
	}
}

func TestLoad_MissingCredentialsAreWarnings(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() should not fail on missing credentials, got %v", err)
	}

	warnings := cfg.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Warnings() = %v, want 2 entries", warnings)
	}
	if !strings.Contains(warnings[0], EnvChannelAccessToken) {
		t.Errorf("first warning %q should mention %s", warnings[0], EnvChannelAccessToken)
	}
	if !strings.Contains(warnings[1], EnvDestinationUserID) {
		t.Errorf("second warning %q should mention %s", warnings[1], EnvDestinationUserID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %q, want it to mention reading config file", err)
	}
}

func TestLoad_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "server:\n  http_addr: [unclosed\n"},
		{"toml", "config.toml", "[server\nhttp_addr = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() expected parse error, got nil")
			}
			if !strings.Contains(err.Error(), "parsing config file") {
				t.Errorf("error = %q, want it to mention parsing config file", err)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":3000"
mcp:
  completion_timeout: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "mcp.completion_timeout") {
		t.Errorf("error = %q, want it to name mcp.completion_timeout", err)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	clearLINEEnv(t)

	path := writeConfig(t, "config.yaml", `
line:
  channel_access_token: "abc"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "server.http_addr is required") {
		t.Errorf("error = %q, want it to mention server.http_addr", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR_FOR_TEST}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{HTTPAddr: ":3000"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: DefaultMetricsPath},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		wantErrSubstr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "tailscale enabled allows empty http_addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "coven-line"}
			},
		},
		{
			name: "tailscale enabled requires hostname",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: true}
			},
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale with all options set",
			mutate: func(c *Config) {
				c.Tailscale = TailscaleConfig{
					Enabled:   true,
					Hostname:  "coven-line",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
					Funnel:    true,
				}
			},
		},
		{
			name:          "tailscale disabled requires http_addr",
			mutate:        func(c *Config) { c.Server.HTTPAddr = "" },
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name:          "negative retry max",
			mutate:        func(c *Config) { c.LINE.RetryMax = -1 },
			wantErrSubstr: "line.retry_max",
		},
		{
			name:          "negative completion timeout",
			mutate:        func(c *Config) { c.MCP.CompletionTimeout = -time.Second },
			wantErrSubstr: "mcp.completion_timeout",
		},
		{
			name: "completion timeout equal to call timeout",
			mutate: func(c *Config) {
				c.MCP.CallTimeout = 30 * time.Second
				c.MCP.CompletionTimeout = 30 * time.Second
			},
			wantErrSubstr: "must be greater than mcp.call_timeout",
		},
		{
			name: "completion timeout shorter than call timeout",
			mutate: func(c *Config) {
				c.MCP.CallTimeout = 5 * time.Second
				c.MCP.CompletionTimeout = 50 * time.Millisecond
			},
			wantErrSubstr: "mcp.completion_timeout",
		},
		{
			name: "completion timeout longer than call timeout",
			mutate: func(c *Config) {
				c.MCP.CallTimeout = 30 * time.Second
				c.MCP.CompletionTimeout = 31 * time.Second
			},
		},
		{
			name:          "negative retention",
			mutate:        func(c *Config) { c.Database.Retention = -time.Hour },
			wantErrSubstr: "database.retention",
		},
		{
			name:          "unknown log level",
			mutate:        func(c *Config) { c.Logging.Level = "loud" },
			wantErrSubstr: "logging.level",
		},
		{
			name:          "unknown log format",
			mutate:        func(c *Config) { c.Logging.Format = "xml" },
			wantErrSubstr: "logging.format",
		},
		{
			name: "metrics path must be absolute",
			mutate: func(c *Config) {
				c.Metrics = MetricsConfig{Enabled: true, Path: "metrics"}
			},
			wantErrSubstr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErrSubstr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}
