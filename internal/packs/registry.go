// ABOUTME: Thread-safe registry of built-in tools and their compiled input schemas.
// ABOUTME: Handles pack registration, collision detection, lookup and argument validation.

package packs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrToolCollision indicates a tool name already exists in another pack.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidSchema indicates a tool's input schema failed to compile.
var ErrInvalidSchema = errors.New("invalid input schema")

// ErrUnknownTool indicates the requested tool is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments indicates tool arguments do not satisfy the input schema.
var ErrInvalidArguments = errors.New("invalid arguments")

// Registry maintains the registered built-in tools.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]*builtinEntry // tool name -> entry
	logger   *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		builtins: make(map[string]*builtinEntry),
		logger:   logger,
	}
}

// RegisterBuiltinPack registers a pack of built-in tools.
// Returns ErrToolCollision if any tool name is already registered and
// ErrInvalidSchema if a schema does not compile. Nothing is registered on error.
func (r *Registry) RegisterBuiltinPack(pack *BuiltinPack) error {
	compiled := make(map[string]*jsonschema.Schema, len(pack.Tools))
	for _, tool := range pack.Tools {
		name := tool.Definition.Name
		if _, dup := compiled[name]; dup {
			return fmt.Errorf("%w: tool '%s' defined twice in pack '%s'", ErrToolCollision, name, pack.ID)
		}
		schema, err := compileSchema(name, tool.Definition.InputSchema)
		if err != nil {
			return fmt.Errorf("%w: tool '%s': %v", ErrInvalidSchema, name, err)
		}
		compiled[name] = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range pack.Tools {
		if existing, exists := r.builtins[tool.Definition.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, tool.Definition.Name, existing.PackID)
		}
	}

	for _, tool := range pack.Tools {
		r.builtins[tool.Definition.Name] = &builtinEntry{
			Tool:   tool,
			PackID: pack.ID,
			schema: compiled[tool.Definition.Name],
		}
	}

	r.logger.Info("=== BUILTIN PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_tools", len(r.builtins),
	)

	return nil
}

// compileSchema compiles a tool's JSON Schema. An empty schema accepts any object.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	url := "mem://tools/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// GetBuiltinTool returns a builtin tool by name, or nil if not found.
func (r *Registry) GetBuiltinTool(name string) *BuiltinTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.builtins[name]; ok {
		return entry.Tool
	}
	return nil
}

// HasTool reports whether a tool with the given name is registered.
func (r *Registry) HasTool(name string) bool {
	return r.GetBuiltinTool(name) != nil
}

// Resolve looks up a tool and validates args against its input schema.
// Empty or null args are treated as an empty object.
func (r *Registry) Resolve(name string, args json.RawMessage) (*BuiltinTool, error) {
	r.mu.RLock()
	entry, ok := r.builtins[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var value any
	if err := json.Unmarshal(normalizeArgs(args), &value); err != nil {
		return nil, fmt.Errorf("%w: arguments are not valid JSON", ErrInvalidArguments)
	}
	if err := entry.schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, describeValidationError(err))
	}

	return entry.Tool, nil
}

// normalizeArgs maps missing arguments to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage("{}")
	}
	return trimmed
}

// describeValidationError flattens a schema validation error into the leaf
// messages, each prefixed with the offending instance location.
func describeValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)

	if len(msgs) == 0 {
		return ve.Message
	}
	return strings.Join(msgs, "; ")
}

// ListTools returns all tool definitions sorted by name.
func (r *Registry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.builtins))
	for _, entry := range r.builtins {
		defs = append(defs, entry.Tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// BuiltinPackInfo contains information about a registered builtin pack for display.
type BuiltinPackInfo struct {
	ID        string
	ToolNames []string
}

// ListBuiltinPacks returns information about all registered builtin packs.
func (r *Registry) ListBuiltinPacks() []BuiltinPackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packTools := make(map[string][]string)
	for name, entry := range r.builtins {
		packTools[entry.PackID] = append(packTools[entry.PackID], name)
	}

	result := make([]BuiltinPackInfo, 0, len(packTools))
	for packID, names := range packTools {
		sort.Strings(names)
		result = append(result, BuiltinPackInfo{ID: packID, ToolNames: names})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Close clears the registry. Called during graceful shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.builtins)
	r.builtins = make(map[string]*builtinEntry)

	r.logger.Info("registry closed", "builtins_cleared", count)
}
