// ABOUTME: MCP HTTP+SSE transport: GET /sse opens a session stream, POST /messages carries JSON-RPC.
// ABOUTME: Responses travel on the stream; the POST status reports delivery.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/coven-line/internal/packs"
	"github.com/2389/coven-line/internal/session"
)

// DefaultKeepaliveInterval is how often an idle stream gets a comment line.
const DefaultKeepaliveInterval = 30 * time.Second

// Config holds configuration for the MCP server.
type Config struct {
	Coordinator *Coordinator
	Registry    *packs.Registry
	Logger      *slog.Logger

	ServerName string
	Version    string

	// KeepaliveInterval between ": keepalive" comments on idle streams.
	KeepaliveInterval time.Duration
	// MessagesPath is advertised to clients in the endpoint event.
	MessagesPath string
	// ChannelBuffer is the per-session outbound queue size.
	ChannelBuffer int
}

// Server implements the MCP HTTP+SSE endpoints.
type Server struct {
	coordinator  *Coordinator
	registry     *packs.Registry
	logger       *slog.Logger
	serverName   string
	version      string
	keepalive    time.Duration
	messagesPath string
	bufferSize   int
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		coordinator:  cfg.Coordinator,
		registry:     cfg.Registry,
		logger:       logger,
		serverName:   cfg.ServerName,
		version:      cfg.Version,
		keepalive:    cfg.KeepaliveInterval,
		messagesPath: cfg.MessagesPath,
		bufferSize:   cfg.ChannelBuffer,
	}
	if s.serverName == "" {
		s.serverName = "coven-line"
	}
	if s.version == "" {
		s.version = "dev"
	}
	if s.keepalive <= 0 {
		s.keepalive = DefaultKeepaliveInterval
	}
	if s.messagesPath == "" {
		s.messagesPath = "/messages"
	}
	return s, nil
}

// RegisterRoutes registers the SSE and message endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc(s.messagesPath, s.handleMessages)
}

// Close closes every session and waits for in-flight calls to settle.
// Call before shutting down the HTTP server since open streams never idle.
func (s *Server) Close(ctx context.Context) error {
	return s.coordinator.Shutdown(ctx)
}

// handleSSE opens a session and streams its events until the client leaves,
// a write fails, or the session is closed.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := session.NewChannel(s.bufferSize)
	sess, err := s.coordinator.Open(ch)
	if err != nil {
		s.logger.Debug("rejecting stream", "error", err)
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.coordinator.Close(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logger := s.logger.With("session_id", sess.ID, "remote_addr", r.RemoteAddr)

	endpoint := s.messagesPath + "?sessionId=" + url.QueryEscape(sess.ID)
	if err := writeSSEEvent(w, "endpoint", []byte(endpoint)); err != nil {
		logger.Debug("failed to write endpoint event", "error", err)
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("client disconnected")
			return

		case <-ch.Done():
			s.drain(w, flusher, ch)
			return

		case ev := <-ch.Events():
			if err := writeSSEEvent(w, ev.Name, ev.Data); err != nil {
				logger.Debug("stream write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				logger.Debug("keepalive write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// drain writes whatever is still queued after the session closed.
func (s *Server) drain(w http.ResponseWriter, flusher http.Flusher, ch *session.Channel) {
	for {
		select {
		case ev := <-ch.Events():
			if err := writeSSEEvent(w, ev.Name, ev.Data); err != nil {
				return
			}
		default:
			flusher.Flush()
			return
		}
	}
}

// handleMessages accepts one JSON-RPC message for an open session.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := sessionIDFromQuery(r.URL.Query())
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	if !s.coordinator.HasSession(sessionID) {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxRequestBodySize {
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.JSONRPC != "2.0" {
		http.Error(w, "invalid JSON-RPC version", http.StatusBadRequest)
		return
	}

	logger := s.logger.With("session_id", sessionID, "method", req.Method)
	logger.Debug("MCP request", "is_notification", req.IsNotification())

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
		return
	}

	ctx := r.Context()
	switch req.Method {
	case "initialize":
		err = s.coordinator.Respond(ctx, sessionID, req.ID, MCPInitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      MCPServerInfo{Name: s.serverName, Version: s.version},
		})
	case "ping":
		err = s.coordinator.Respond(ctx, sessionID, req.ID, map[string]any{})
	case "tools/list":
		err = s.coordinator.Respond(ctx, sessionID, req.ID, s.listTools())
	case "tools/call":
		err = s.handleToolsCall(ctx, sessionID, req)
	default:
		err = s.coordinator.RespondError(ctx, sessionID, req.ID, JSONRPCMethodNotFound, "method not found: "+req.Method)
	}

	if err != nil {
		status := statusForError(err)
		logger.Info("MCP request failed", "status", status, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Accepted")
}

func (s *Server) handleToolsCall(ctx context.Context, sessionID string, req JSONRPCRequest) error {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.coordinator.RespondError(ctx, sessionID, req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return s.coordinator.RespondError(ctx, sessionID, req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	return s.coordinator.Submit(ctx, Invocation{
		SessionID: sessionID,
		RequestID: req.ID,
		Name:      params.Name,
		Arguments: params.Arguments,
	})
}

func (s *Server) listTools() MCPListToolsResult {
	defs := s.registry.ListTools()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(defs))}
	for i, def := range defs {
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		result.Tools[i] = MCPToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}
	}
	return result
}

// sessionIDFromQuery accepts sessionId, or session as an alias.
func sessionIDFromQuery(q url.Values) string {
	if id := q.Get("sessionId"); id != "" {
		return id
	}
	return q.Get("session")
}

// statusForError maps coordinator errors onto the POST's HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSuchSession),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrChannelClosed):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyPending),
		errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeSSEEvent writes one event. Data must not contain newlines.
func writeSSEEvent(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
