// ABOUTME: Built-in tool types: definitions, handlers, and packs.
// ABOUTME: Tools execute in-process and return raw JSON results.

package packs

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDefinition describes a tool as advertised to clients.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolHandler executes a built-in tool.
// It receives the validated tool input as JSON and returns the result as JSON.
type ToolHandler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// BuiltinTool represents a tool that executes in the server process.
type BuiltinTool struct {
	Definition ToolDefinition
	Handler    ToolHandler
}

// BuiltinPack is a collection of built-in tools with a pack ID.
type BuiltinPack struct {
	ID    string
	Tools []*BuiltinTool
}

// builtinEntry stores a builtin tool with its pack ID and compiled schema.
type builtinEntry struct {
	Tool   *BuiltinTool
	PackID string
	schema *jsonschema.Schema
}
