// ABOUTME: Entry point for coven-line, an MCP server exposing LINE Messaging API tools
// ABOUTME: Subcommands serve, init, health and history

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-line/internal/config"
	"github.com/2389/coven-line/internal/gateway"
	"github.com/2389/coven-line/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _ _
  ___ _____   _____ _ __        | (_)_ __   ___
 / __/ _ \ \ / / _ \ '_ \ _____ | | | '_ \ / _ \
| (_| (_) \ V /  __/ | | |_____|| | | | | |  __/
 \___\___/ \_/ \___|_| |_|      |_|_|_| |_|\___|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_LINE_CONFIG env var > XDG_CONFIG_HOME/coven/line.yaml > ~/.config/coven/line.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_LINE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "line.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "line.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-line <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the MCP server")
		fmt.Println("  init                           Create a new config file interactively")
		fmt.Println("  health                         Check server health")
		fmt.Println("  history [--limit N] [--session ID]")
		fmt.Println("                                 Show recent tool calls")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	green.Print("    ▶ ")
	if cfg.Database.Path != "" {
		fmt.Printf("History:   %s\n", cfg.Database.Path)
	} else {
		fmt.Printf("History:   ")
		gray.Println("disabled")
	}

	green.Print("    ▶ ")
	fmt.Printf("LINE:      ")
	if cfg.LINE.ChannelAccessToken != "" {
		fmt.Println("token configured")
	} else {
		yellow.Println("no channel access token")
	}

	fmt.Println()

	logger.Info("starting coven-line",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	green.Print("    ▶ ")
	fmt.Printf("SSE:       %s\n\n", gw.SSEEndpoint())

	return gw.Run(ctx)
}

// baseURL returns the address the CLI uses to reach a running server.
func baseURL(cfg *config.Config) string {
	if envURL := os.Getenv("COVEN_LINE_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(cfg)+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	color.New(color.FgGreen).Print("healthy")
	fmt.Printf(" (version %s)\n", health.Version)
	return nil
}

// historyArgs are the flags accepted by the history command.
type historyArgs struct {
	limit     int
	sessionID string
	tool      string
	failed    bool
}

// parseHistoryArgs supports both "--flag value" and "--flag=value" formats.
func parseHistoryArgs(args []string) (historyArgs, error) {
	out := historyArgs{limit: 20}

	value := func(i *int, name string) (string, error) {
		arg := args[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, _, _ := strings.Cut(arg, "=")
		switch name {
		case "--limit", "-n":
			v, err := value(&i, name)
			if err != nil {
				return out, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return out, fmt.Errorf("invalid limit: %s", v)
			}
			out.limit = n
		case "--session", "-s":
			v, err := value(&i, name)
			if err != nil {
				return out, err
			}
			out.sessionID = v
		case "--tool", "-t":
			v, err := value(&i, name)
			if err != nil {
				return out, err
			}
			out.tool = v
		case "--failed":
			out.failed = true
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return out, nil
}

func (a historyArgs) filter() store.ToolCallFilter {
	f := store.ToolCallFilter{Limit: a.limit}
	if a.sessionID != "" {
		f.SessionID = &a.sessionID
	}
	if a.tool != "" {
		f.ToolName = &a.tool
	}
	if a.failed {
		status := store.ToolCallFailed
		f.Status = &status
	}
	return f
}

// runHistory reads the history database directly, so it works while the
// server is stopped.
func runHistory(ctx context.Context, args []string) error {
	opts, err := parseHistoryArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("tool-call history is disabled (set database.path)")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	calls, err := s.ListToolCalls(ctx, opts.filter())
	if err != nil {
		return fmt.Errorf("listing tool calls: %w", err)
	}

	if len(calls) == 0 {
		fmt.Println("No tool calls recorded.")
		return nil
	}
	for _, c := range calls {
		fmt.Println(formatToolCall(c))
	}
	return nil
}

// formatToolCall renders one history line.
func formatToolCall(c store.ToolCall) string {
	var status string
	if c.Status == store.ToolCallFailed {
		status = color.RedString("✗")
	} else {
		status = color.GreenString("✓")
	}

	line := fmt.Sprintf("%s %s %-24s %6dms  session=%s id=%s",
		color.HiBlackString(c.StartedAt.Local().Format("2006-01-02 15:04:05")),
		status,
		c.ToolName,
		c.DurationMS,
		shortID(c.SessionID),
		c.RequestID,
	)
	if c.Error != "" {
		line += "\n    " + color.RedString(c.Error)
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
