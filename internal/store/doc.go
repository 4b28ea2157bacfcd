// Package store persists tool-call history in SQLite.
//
// # Architecture
//
// Store is the interface the MCP coordinator records through. SQLiteStore
// implements it on top of modernc.org/sqlite (pure Go, no cgo) in WAL mode.
//
// # Data Model
//
// Each completed tools/call becomes one ToolCall row holding the session ID,
// the client's JSON-RPC id, the tool name, the raw arguments, and either the
// raw output or the error message. Sessions themselves are never persisted.
//
// # Queries
//
// ListToolCalls returns rows newest first and filters by session, tool,
// status and start time. PruneToolCalls trims old rows.
package store
