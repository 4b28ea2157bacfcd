// ABOUTME: Thread-safe table of open sessions and their pending completions.
// ABOUTME: Close removes the session and releases any waiter in one critical section.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSuchSession indicates the session ID is unknown or already closed.
var ErrNoSuchSession = errors.New("no such session")

// ErrAlreadyPending indicates a tool call is already in flight for the session.
var ErrAlreadyPending = errors.New("invocation already pending")

// ErrSessionClosed is the completion error when a session closes mid-flight.
var ErrSessionClosed = errors.New("session closed")

// ErrTableClosed indicates the table was shut down and accepts no new sessions.
var ErrTableClosed = errors.New("session table closed")

// Session is an open client stream.
type Session struct {
	ID        string
	Channel   *Channel
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

type entry struct {
	session *Session
	pending *Completion
}

// Table maps session IDs to open sessions.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
	logger   *slog.Logger
}

// NewTable creates an empty table. Pass nil logger for default.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		sessions: make(map[string]*entry),
		logger:   logger,
	}
}

// Open stores ch under a freshly generated session ID. After CloseAll it
// closes ch and returns ErrTableClosed.
func (t *Table) Open(ch *Channel) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        uuid.New().String(),
		Channel:   ch,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ch.Close()
		cancel()
		return nil, ErrTableClosed
	}
	t.sessions[sess.ID] = &entry{session: sess}
	total := len(t.sessions)
	t.mu.Unlock()

	t.logger.Debug("session opened", "session_id", sess.ID, "total_sessions", total)
	return sess, nil
}

// Lookup returns the open session for id.
func (t *Table) Lookup(id string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	if !ok {
		return nil, ErrNoSuchSession
	}
	return e.session, nil
}

// Close removes the session, closes its channel and releases any pending
// completion with ErrSessionClosed. Returns false if the session was not open.
func (t *Table) Close(id string) bool {
	t.mu.Lock()
	e, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.sessions, id)
	t.closeEntryLocked(e)
	total := len(t.sessions)
	t.mu.Unlock()

	t.logger.Debug("session closed", "session_id", id, "total_sessions", total)
	return true
}

// closeEntryLocked tears down an entry already removed from the map.
// Must be called with mu held.
func (t *Table) closeEntryLocked(e *entry) {
	e.session.Channel.Close()
	e.session.cancel()
	if e.pending != nil {
		e.pending.fire(ErrSessionClosed)
		e.pending = nil
	}
}

// RegisterPending records a new completion for the session.
func (t *Table) RegisterPending(id string) (*Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	if !ok {
		return nil, ErrNoSuchSession
	}
	if e.pending != nil {
		return nil, ErrAlreadyPending
	}

	c := newCompletion()
	e.pending = c
	return c, nil
}

// ResolvePending fires c and clears the session's pending slot. It is a no-op
// if the session has closed or c is no longer the session's current completion.
func (t *Table) ResolvePending(id string, c *Completion) {
	if c == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	if !ok || e.pending != c {
		return
	}
	e.pending = nil
	c.fire(nil)
}

// ExpirePending releases the waiter on c with err. The slot stays occupied
// until the executor calls ResolvePending or the session closes, so a call
// that is still running keeps later calls out.
func (t *Table) ExpirePending(id string, c *Completion, err error) {
	if c == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	if !ok || e.pending != c {
		return
	}
	c.fire(err)
}

// Pending reports whether a completion is registered for the session.
func (t *Table) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[id]
	return ok && e.pending != nil
}

// Count returns the number of open sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll closes every session and returns how many were open. Later
// Open calls fail with ErrTableClosed. Called during shutdown.
func (t *Table) CloseAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	count := len(t.sessions)
	for id, e := range t.sessions {
		delete(t.sessions, id)
		t.closeEntryLocked(e)
	}

	t.logger.Info("session table closed", "sessions_closed", count)
	return count
}
