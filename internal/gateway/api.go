// ABOUTME: HTTP handlers for the operational endpoints beside the MCP transport
// ABOUTME: Welcome text, health check and the tool-call history API

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-line/internal/store"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ToolCallResponse is one entry of GET /api/tool-calls.
type ToolCallResponse struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	RequestID  json.RawMessage `json:"request_id,omitempty"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
}

// ToolCallsResponse is the body of GET /api/tool-calls.
type ToolCallsResponse struct {
	ToolCalls []ToolCallResponse `json:"tool_calls"`
	Count     int                `json:"count"`
}

// handleWelcome describes the endpoints in plain text.
func (g *Gateway) handleWelcome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "coven-line %s: LINE Messaging API tools over MCP\n\n", g.version)
	fmt.Fprintf(w, "  GET  /sse                     open an MCP session (%s)\n", g.sseEndpoint)
	fmt.Fprintln(w, "  POST /messages?sessionId=ID   send JSON-RPC for that session")
	fmt.Fprintln(w, "  GET  /health                  liveness")
	fmt.Fprintln(w, "  GET  /api/tool-calls          recent tool calls")
	if g.metrics != nil {
		fmt.Fprintf(w, "  GET  %-25s Prometheus metrics\n", g.config.Metrics.Path)
	}
}

// handleHealth returns 200 OK with the running version.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Version: g.version})
}

// handleToolCalls lists recent tool calls, newest first.
// Supports ?limit=N, ?session_id=S, ?tool=T and ?status=succeeded|failed.
func (g *Gateway) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.store == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "tool-call history is disabled")
		return
	}

	filter, err := parseToolCallFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	calls, err := g.store.ListToolCalls(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list tool calls", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list tool calls")
		return
	}

	response := ToolCallsResponse{ToolCalls: make([]ToolCallResponse, 0, len(calls))}
	for _, c := range calls {
		response.ToolCalls = append(response.ToolCalls, toToolCallResponse(c))
	}
	response.Count = len(response.ToolCalls)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func parseToolCallFilter(r *http.Request) (store.ToolCallFilter, error) {
	q := r.URL.Query()
	var f store.ToolCallFilter

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = limit
	}
	if v := q.Get("session_id"); v != "" {
		f.SessionID = &v
	}
	if v := q.Get("tool"); v != "" {
		f.ToolName = &v
	}
	if v := q.Get("status"); v != "" {
		status := store.ToolCallStatus(v)
		if status != store.ToolCallSucceeded && status != store.ToolCallFailed {
			return f, fmt.Errorf("invalid status %q", v)
		}
		f.Status = &status
	}
	return f, nil
}

func toToolCallResponse(c store.ToolCall) ToolCallResponse {
	return ToolCallResponse{
		ID:         c.ID,
		SessionID:  c.SessionID,
		RequestID:  rawJSON(c.RequestID),
		ToolName:   c.ToolName,
		Arguments:  rawJSON(c.Arguments),
		Status:     string(c.Status),
		Output:     rawJSON(c.Output),
		Error:      c.Error,
		StartedAt:  c.StartedAt,
		DurationMS: c.DurationMS,
	}
}

// rawJSON embeds s as-is when it is valid JSON, and as a string otherwise.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
