// ABOUTME: Interactive init command that writes a starter config file
// ABOUTME: Prompts for listen address, LINE credentials, history, Tailscale and logging

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers collects everything runInit asks for.
type initAnswers struct {
	httpAddr           string
	channelAccessToken string
	destinationUserID  string
	dbPath             string

	tailscaleEnabled bool
	tsHostname       string
	tsAuthKey        string
	tsEphemeral      bool
	tsFunnel         bool

	logLevel      string
	logFormat     string
	enableMetrics bool
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-line configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "line.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, "HTTP address", "127.0.0.1:3000")

	fmt.Println("\n--- LINE Configuration ---")
	a.channelAccessToken = prompt(reader, "Channel access token (leave empty to use CHANNEL_ACCESS_TOKEN)", "")
	a.destinationUserID = prompt(reader, "Default destination user ID (leave empty to use DESTINATION_USER_ID)", "")

	fmt.Println("\n--- History ---")
	a.dbPath = prompt(reader, "SQLite database path (\"none\" to disable)", defaultDbPath)
	if strings.EqualFold(a.dbPath, "none") {
		a.dbPath = ""
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	a.tailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.tailscaleEnabled {
		a.tsHostname = prompt(reader, "Tailscale hostname", "coven-line")
		a.tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")
	a.enableMetrics = yes(prompt(reader, "Expose Prometheus metrics?", "yes"))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may hold a channel access token.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-line serve\n")

	return nil
}

// renderConfig produces the YAML written by runInit.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-line configuration\n")
	cfg.WriteString("# Generated by coven-line init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("line:\n")
	if a.channelAccessToken != "" {
		cfg.WriteString(fmt.Sprintf("  channel_access_token: %q\n", a.channelAccessToken))
	} else {
		cfg.WriteString("  # channel_access_token comes from CHANNEL_ACCESS_TOKEN\n")
	}
	if a.destinationUserID != "" {
		cfg.WriteString(fmt.Sprintf("  destination_user_id: %q\n", a.destinationUserID))
	}
	cfg.WriteString("  retry_max: 2\n")
	cfg.WriteString("  timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.dbPath))
	cfg.WriteString("  retention: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.tailscaleEnabled))
	if a.tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.tsHostname))
		if a.tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("mcp:\n")
	cfg.WriteString("  call_timeout: \"30s\"\n")
	cfg.WriteString("  completion_timeout: \"60s\"\n")
	cfg.WriteString("  keepalive_interval: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.enableMetrics))
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
