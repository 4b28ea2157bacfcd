// ABOUTME: Store types for the tool-call history.
// ABOUTME: Defines the ToolCall record, its filter, and the Store interface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ToolCallStatus is the outcome of a tool call.
type ToolCallStatus string

const (
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
)

// ToolCall is one completed tool invocation.
type ToolCall struct {
	ID         string // UUID v4
	SessionID  string // session the call arrived on
	RequestID  string // JSON-RPC id as sent by the client
	ToolName   string
	Arguments  string // raw JSON arguments
	Status     ToolCallStatus
	Output     string // raw JSON output on success
	Error      string // error message on failure
	StartedAt  time.Time
	DurationMS int64
}

// ToolCallFilter narrows ListToolCalls.
type ToolCallFilter struct {
	SessionID *string
	ToolName  *string
	Status    *ToolCallStatus
	Since     *time.Time
	Limit     int // default 50, max 500
}

// Store persists tool-call history.
type Store interface {
	RecordToolCall(ctx context.Context, call *ToolCall) error
	GetToolCall(ctx context.Context, id string) (*ToolCall, error)
	ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCall, error)
	PruneToolCalls(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
