// ABOUTME: Dispatches tool calls to built-in handlers and folds failures into results.
// ABOUTME: Handler errors and panics never escape as transport-level errors.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of one tool call: raw JSON output or an error.
type Result struct {
	Output json.RawMessage
	Err    error
}

// IsError reports whether the call failed.
func (r Result) IsError() bool {
	return r.Err != nil
}

// Failure builds a failed Result.
func Failure(err error) Result {
	return Result{Err: err}
}

// Dispatch resolves the named tool, validates args and executes it.
// Unknown tools and invalid arguments come back as failed Results.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) Result {
	tool, err := r.Resolve(name, args)
	if err != nil {
		r.logger.Debug("tool rejected",
			"tool_name", name,
			"error", err,
		)
		return Failure(err)
	}
	return r.Execute(ctx, tool, args)
}

// Execute runs a resolved tool. Errors and panics become failed Results.
func (r *Registry) Execute(ctx context.Context, tool *BuiltinTool, args json.RawMessage) (result Result) {
	name := tool.Definition.Name

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("builtin tool panicked",
				"tool_name", name,
				"panic", p,
			)
			result = Failure(fmt.Errorf("tool %s panicked: %v", name, p))
		}
	}()

	r.logger.Info("→ dispatching to builtin", "tool_name", name)

	output, err := tool.Handler(ctx, normalizeArgs(args))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("tool execution timed out: %w", err)
		}
		r.logger.Warn("builtin tool error",
			"tool_name", name,
			"error", err,
		)
		return Failure(err)
	}
	if len(output) == 0 {
		output = json.RawMessage("{}")
	}

	r.logger.Info("← builtin responded", "tool_name", name)
	return Result{Output: output}
}
