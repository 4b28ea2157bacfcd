// ABOUTME: Tool-call history methods: record, fetch, list with filters, prune.
// ABOUTME: Timestamps are stored as RFC3339Nano UTC strings so they sort lexically.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordToolCall inserts a completed call. Generates ID and StartedAt if unset.
func (s *SQLiteStore) RecordToolCall(ctx context.Context, c *ToolCall) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.Arguments == "" {
		c.Arguments = "{}"
	}

	query := `
		INSERT INTO tool_calls (call_id, session_id, request_id, tool_name, arguments, status, output, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.SessionID,
		c.RequestID,
		c.ToolName,
		c.Arguments,
		string(c.Status),
		nullString(c.Output),
		nullString(c.Error),
		formatTime(c.StartedAt),
		c.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call",
		"id", c.ID,
		"session_id", c.SessionID,
		"tool_name", c.ToolName,
		"status", c.Status,
	)
	return nil
}

const toolCallColumns = `call_id, session_id, request_id, tool_name, arguments, status, output, error, started_at, duration_ms`

// GetToolCall returns one call by ID, or ErrNotFound.
func (s *SQLiteStore) GetToolCall(ctx context.Context, id string) (*ToolCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE call_id = ?`, id)
	c, err := scanToolCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListToolCalls returns calls newest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCall, error) {
	var sinceStr, statusStr *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		sinceStr = &v
	}
	if f.Status != nil {
		v := string(*f.Status)
		statusStr = &v
	}

	query := `
		SELECT ` + toolCallColumns + `
		FROM tool_calls
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR tool_name = ?)
		  AND (? IS NULL OR status = ?)
		  AND (? IS NULL OR started_at >= ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		f.SessionID, f.SessionID,
		f.ToolName, f.ToolName,
		statusStr, statusStr,
		sinceStr, sinceStr,
		NormalizeToolCallLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	calls := []ToolCall{}
	for rows.Next() {
		c, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return calls, nil
}

// PruneToolCalls deletes calls started before the cutoff.
func (s *SQLiteStore) PruneToolCalls(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_calls WHERE started_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning tool calls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned tool calls: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned tool calls", "count", n)
	}
	return n, nil
}

// NormalizeToolCallLimit applies default (50) and cap (500) to a list limit.
func NormalizeToolCallLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

func scanToolCall(scanner interface{ Scan(dest ...any) error }) (ToolCall, error) {
	var c ToolCall
	var status, startedAt string
	var output, errMsg sql.NullString

	if err := scanner.Scan(
		&c.ID,
		&c.SessionID,
		&c.RequestID,
		&c.ToolName,
		&c.Arguments,
		&status,
		&output,
		&errMsg,
		&startedAt,
		&c.DurationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scanning tool call: %w", err)
	}

	c.Status = ToolCallStatus(status)
	c.Output = output.String
	c.Error = errMsg.String

	var err error
	c.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return c, fmt.Errorf("parsing started_at: %w", err)
	}
	return c, nil
}

// formatTime uses a fixed-width layout so string comparison matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
