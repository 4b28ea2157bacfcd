// ABOUTME: Tests for the SQLite tool-call history store
// ABOUTME: Covers schema setup, record/get, filtered listing, ordering, limits and pruning

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.RecordToolCall(context.Background(), &ToolCall{
		SessionID: "s1", RequestID: "1", ToolName: "get_profile", Status: ToolCallSucceeded,
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	calls, err := s.ListToolCalls(context.Background(), ToolCallFilter{})
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestRunMigrations_AddsDurationColumn(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE tool_calls (
		call_id TEXT PRIMARY KEY, session_id TEXT NOT NULL, request_id TEXT NOT NULL,
		tool_name TEXT NOT NULL, arguments TEXT NOT NULL DEFAULT '{}', status TEXT NOT NULL,
		output TEXT, error TEXT, started_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	call := &ToolCall{SessionID: "s1", RequestID: "1", ToolName: "t", Status: ToolCallSucceeded, DurationMS: 42}
	require.NoError(t, s.RecordToolCall(context.Background(), call))

	got, err := s.GetToolCall(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.DurationMS)
}

func TestRecordAndGetToolCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := &ToolCall{
		SessionID:  "sess-1",
		RequestID:  `"req-1"`,
		ToolName:   "push_text_message",
		Arguments:  `{"message":{"type":"text","text":"hi"}}`,
		Status:     ToolCallFailed,
		Error:      "messaging API returned 500: boom",
		DurationMS: 12,
	}
	require.NoError(t, s.RecordToolCall(ctx, call))
	assert.NotEmpty(t, call.ID)
	assert.False(t, call.StartedAt.IsZero())

	got, err := s.GetToolCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, call.SessionID, got.SessionID)
	assert.Equal(t, call.RequestID, got.RequestID)
	assert.Equal(t, call.ToolName, got.ToolName)
	assert.Equal(t, call.Arguments, got.Arguments)
	assert.Equal(t, ToolCallFailed, got.Status)
	assert.Equal(t, call.Error, got.Error)
	assert.Empty(t, got.Output)
	assert.Equal(t, int64(12), got.DurationMS)
	assert.True(t, call.StartedAt.Equal(got.StartedAt))
}

func TestRecordToolCall_DefaultsArguments(t *testing.T) {
	s := newTestStore(t)

	call := &ToolCall{SessionID: "s", RequestID: "1", ToolName: "get_message_quota", Status: ToolCallSucceeded, Output: `{}`}
	require.NoError(t, s.RecordToolCall(context.Background(), call))

	got, err := s.GetToolCall(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, "{}", got.Arguments)
	assert.Equal(t, "{}", got.Output)
}

func TestRecordToolCall_RejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordToolCall(context.Background(), &ToolCall{SessionID: "s", RequestID: "1", ToolName: "t", Status: "exploded"})
	assert.Error(t, err)
}

func TestGetToolCall_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetToolCall(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListToolCalls_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []ToolCall{
		{SessionID: "a", RequestID: "1", ToolName: "get_profile", Status: ToolCallSucceeded, StartedAt: base},
		{SessionID: "a", RequestID: "2", ToolName: "push_text_message", Status: ToolCallFailed, StartedAt: base.Add(time.Minute)},
		{SessionID: "b", RequestID: "1", ToolName: "get_profile", Status: ToolCallSucceeded, StartedAt: base.Add(2 * time.Minute)},
		{SessionID: "b", RequestID: "2", ToolName: "get_profile", Status: ToolCallFailed, StartedAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, s.RecordToolCall(ctx, &seed[i]))
	}

	sessionA := "a"
	profile := "get_profile"
	failed := ToolCallFailed
	since := base.Add(90 * time.Second)

	tests := []struct {
		name   string
		filter ToolCallFilter
		want   []string // session:request, newest first
	}{
		{name: "all", filter: ToolCallFilter{}, want: []string{"b:2", "b:1", "a:2", "a:1"}},
		{name: "by session", filter: ToolCallFilter{SessionID: &sessionA}, want: []string{"a:2", "a:1"}},
		{name: "by tool", filter: ToolCallFilter{ToolName: &profile}, want: []string{"b:2", "b:1", "a:1"}},
		{name: "by status", filter: ToolCallFilter{Status: &failed}, want: []string{"b:2", "a:2"}},
		{name: "since", filter: ToolCallFilter{Since: &since}, want: []string{"b:2", "b:1"}},
		{name: "combined", filter: ToolCallFilter{ToolName: &profile, Status: &failed}, want: []string{"b:2"}},
		{name: "limit", filter: ToolCallFilter{Limit: 2}, want: []string{"b:2", "b:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, err := s.ListToolCalls(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, len(calls))
			for i, c := range calls {
				got[i] = c.SessionID + ":" + c.RequestID
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListToolCalls_EmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)

	calls, err := s.ListToolCalls(context.Background(), ToolCallFilter{})
	require.NoError(t, err)
	assert.NotNil(t, calls)
	assert.Empty(t, calls)
}

func TestListToolCalls_SubsecondOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 900ms sorts after 100ms only with a fixed-width fraction.
	require.NoError(t, s.RecordToolCall(ctx, &ToolCall{SessionID: "s", RequestID: "late", ToolName: "t", Status: ToolCallSucceeded, StartedAt: base.Add(900 * time.Millisecond)}))
	require.NoError(t, s.RecordToolCall(ctx, &ToolCall{SessionID: "s", RequestID: "early", ToolName: "t", Status: ToolCallSucceeded, StartedAt: base.Add(100 * time.Millisecond)}))
	require.NoError(t, s.RecordToolCall(ctx, &ToolCall{SessionID: "s", RequestID: "whole", ToolName: "t", Status: ToolCallSucceeded, StartedAt: base.Add(time.Second)}))

	calls, err := s.ListToolCalls(ctx, ToolCallFilter{})
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, "whole", calls[0].RequestID)
	assert.Equal(t, "late", calls[1].RequestID)
	assert.Equal(t, "early", calls[2].RequestID)
}

func TestPruneToolCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordToolCall(ctx, &ToolCall{
			SessionID: "s", RequestID: string(rune('a' + i)), ToolName: "t",
			Status: ToolCallSucceeded, StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	n, err := s.PruneToolCalls(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	calls, err := s.ListToolCalls(ctx, ToolCallFilter{})
	require.NoError(t, err)
	assert.Len(t, calls, 3)
}

func TestNormalizeToolCallLimit(t *testing.T) {
	assert.Equal(t, 50, NormalizeToolCallLimit(0))
	assert.Equal(t, 50, NormalizeToolCallLimit(-3))
	assert.Equal(t, 10, NormalizeToolCallLimit(10))
	assert.Equal(t, 500, NormalizeToolCallLimit(10000))
}

// newTestStore creates a new SQLite store in a temporary directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
