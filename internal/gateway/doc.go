// Package gateway wires the coven-line server together.
//
// # Overview
//
// New builds every component from a config.Config: the LINE client, the
// tool registry with the messaging pack, the session table, the replay
// cache, the optional history store and metrics, the MCP coordinator and
// server. Run serves HTTP on a TCP address or a tsnet listener until its
// context ends.
//
// # HTTP Endpoints
//
//	GET  /                  plain-text welcome
//	GET  /health            {"status":"ok","version":"..."}
//	GET  /sse               MCP session stream
//	POST /messages          MCP JSON-RPC for a session
//	GET  /metrics           Prometheus exposition (metrics.enabled)
//	GET  /api/tool-calls    recent tool calls (database.path)
//
// /api/tool-calls accepts limit, session_id, tool and status query
// parameters and answers 503 when history is disabled.
//
// # Shutdown
//
// Shutdown closes every MCP session first, then stops the HTTP server, the
// tailnet node and the store. Streams are closed before the HTTP server
// drains connections, so open streams never hold the deadline.
package gateway
