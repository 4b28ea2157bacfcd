// ABOUTME: Gateway orchestrator that wires config, LINE client, tool registry and MCP server
// ABOUTME: Manages the HTTP listener (TCP or tailnet), history store and shutdown ordering

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-line/internal/builtins"
	"github.com/2389/coven-line/internal/config"
	"github.com/2389/coven-line/internal/dedupe"
	"github.com/2389/coven-line/internal/lineapi"
	"github.com/2389/coven-line/internal/mcp"
	"github.com/2389/coven-line/internal/metrics"
	"github.com/2389/coven-line/internal/packs"
	"github.com/2389/coven-line/internal/session"
	"github.com/2389/coven-line/internal/store"
)

// Gateway orchestrates the coven-line server components.
type Gateway struct {
	config      *config.Config
	version     string
	logger      *slog.Logger
	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// store is nil when history is disabled
	store store.Store

	table        *session.Table
	dedupe       *dedupe.Cache
	metrics      *metrics.Metrics
	packRegistry *packs.Registry
	coordinator  *mcp.Coordinator
	mcpServer    *mcp.Server

	// sseEndpoint is the public URL clients should open, e.g. "http://127.0.0.1:3000/sse"
	sseEndpoint string

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the history store, or returns nil when no path is configured.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_LINE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		logger.Info("tool-call history disabled (no database.path)")
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	if cfg.Database.Retention > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := s.PruneToolCalls(ctx, time.Now().Add(-cfg.Database.Retention))
		if err != nil {
			logger.Warn("failed to prune tool-call history", "error", err)
		} else if n > 0 {
			logger.Info("pruned tool-call history", "removed", n, "retention", cfg.Database.Retention)
		}
	}
	return s, nil
}

// determineSSEEndpoint resolves the public SSE URL from env or config.
// Priority: COVEN_LINE_URL env > derived from config.
func determineSSEEndpoint(cfg *config.Config) string {
	if envURL := os.Getenv("COVEN_LINE_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/") + "/sse"
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname + "/sse"
		}
		return "http://" + cfg.Tailscale.Hostname + "/sse"
	}
	return "http://" + cfg.Server.HTTPAddr + "/sse"
}

// newLINEClient builds the LINE Messaging API client from config.
func newLINEClient(cfg *config.Config, logger *slog.Logger) *lineapi.Client {
	return lineapi.NewClient(lineapi.Config{
		AccessToken: cfg.LINE.ChannelAccessToken,
		BaseURL:     cfg.LINE.BaseURL,
		Timeout:     cfg.LINE.Timeout,
		RetryMax:    cfg.LINE.RetryMax,
		Logger:      logger,
	})
}

// New creates a new Gateway instance with the given configuration.
// Missing LINE credentials are logged, not fatal.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	sqlStore, err := initStore(cfg, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		version:     version,
		logger:      logger.With("component", "gateway"),
		table:       session.NewTable(logger.With("component", "sessions")),
		dedupe:      dedupe.New(cfg.MCP.ReplayWindow, dedupe.DefaultMaxSize),
		sseEndpoint: determineSSEEndpoint(cfg),
	}
	var recorder mcp.Recorder
	if sqlStore != nil {
		gw.store = sqlStore
		recorder = sqlStore
	}
	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
	}

	gw.packRegistry = packs.NewRegistry(logger.With("component", "pack-registry"))
	lineClient := newLINEClient(cfg, logger.With("component", "lineapi"))
	if err := builtins.RegisterMessagingPack(gw.packRegistry, lineClient, builtins.MessagingDefaults{
		DestinationUserID: cfg.LINE.DestinationUserID,
	}); err != nil {
		gw.closeOnError()
		return nil, err
	}

	gw.coordinator, err = mcp.NewCoordinator(mcp.CoordinatorConfig{
		Table:             gw.table,
		Registry:          gw.packRegistry,
		Dedupe:            gw.dedupe,
		Metrics:           gw.metrics,
		Recorder:          recorder,
		Logger:            logger.With("component", "coordinator"),
		CallTimeout:       cfg.MCP.CallTimeout,
		CompletionTimeout: cfg.MCP.CompletionTimeout,
	})
	if err != nil {
		gw.closeOnError()
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Coordinator:       gw.coordinator,
		Registry:          gw.packRegistry,
		Logger:            logger.With("component", "mcp"),
		ServerName:        "coven-line",
		Version:           version,
		KeepaliveInterval: cfg.MCP.KeepaliveInterval,
		ChannelBuffer:     cfg.MCP.ChannelBuffer,
	})
	if err != nil {
		gw.closeOnError()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes mounts the MCP transport and the operational endpoints.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", g.handleWelcome)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/tool-calls", g.handleToolCalls)
	if g.metrics != nil {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}
	g.mcpServer.RegisterRoutes(mux)
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// SSEEndpoint returns the URL clients should open.
func (g *Gateway) SSEEndpoint() string {
	return g.sseEndpoint
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "sse_endpoint", g.sseEndpoint)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-line", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it for HTTP.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateSSEEndpointFromStatus(status, tsCfg.Funnel)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updateSSEEndpointFromStatus switches the advertised endpoint to the tailnet DNS name.
func (g *Gateway) updateSSEEndpointFromStatus(status *ipnstate.Status, funnel bool) {
	if os.Getenv("COVEN_LINE_URL") != "" {
		return
	}
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	scheme := "http://"
	if funnel {
		scheme = "https://"
	}
	newEndpoint := scheme + strings.TrimSuffix(status.Self.DNSName, ".") + "/sse"
	if newEndpoint != g.sseEndpoint {
		g.logger.Info("updated SSE endpoint to use Tailscale DNS name", "old", g.sseEndpoint, "new", newEndpoint)
		g.sseEndpoint = newEndpoint
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes optional components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.packRegistry != nil {
		g.packRegistry.Close()
	}
}

// closeOnError releases what New opened before it failed.
func (g *Gateway) closeOnError() {
	if g.store != nil {
		_ = g.store.Close()
	}
	g.closeOptionalComponents()
}

// Shutdown closes every session, stops the HTTP server and releases resources.
// Sessions go first: open SSE streams never become idle, so the HTTP server
// would otherwise wait out the whole deadline.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.mcpServer != nil {
		errs = appendCloseError(errs, "MCP shutdown", g.mcpServer.Close(ctx))
	}
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	g.closeOptionalComponents()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
