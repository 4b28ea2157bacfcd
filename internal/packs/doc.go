// Package packs provides the tool registry behind the MCP server.
//
// # Overview
//
// Tools are grouped into packs. A pack is a named collection of BuiltinTools,
// each pairing a ToolDefinition (name, description, JSON Schema for input)
// with a ToolHandler that does the work in-process.
//
// # Architecture
//
//   - Registry: holds every registered tool and its compiled input schema
//   - Resolve: looks up a tool and validates arguments against its schema
//   - Execute: runs a resolved tool and folds any failure into a Result
//   - Dispatch: Resolve followed by Execute
//
// # Validation
//
// Input schemas are compiled once at registration. Resolve rejects unknown
// tool names with ErrUnknownTool and schema violations (wrong types, missing
// required fields, exceeded maxLength, and so on) with ErrInvalidArguments.
//
// # Results
//
// Handlers return raw JSON or an error. Execute never panics and never returns
// a transport error: handler errors and panics become a failed Result, which
// the caller delivers to the client like any other result.
//
// # Usage
//
//	registry := packs.NewRegistry(logger)
//	if err := registry.RegisterBuiltinPack(builtins.MessagingPack(client, defaults)); err != nil {
//	    return err
//	}
//	result := registry.Dispatch(ctx, "get_profile", json.RawMessage(`{"userId":"U1"}`))
package packs
