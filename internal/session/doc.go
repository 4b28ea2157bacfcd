// Package session tracks open client streams and the in-flight tool call for each.
//
// # Overview
//
// A client opens a long-lived SSE stream and receives a session ID. Tool calls
// arrive later on separate short-lived POST requests that carry that ID. The
// Table maps session IDs to their outbound Channel and to at most one pending
// Completion, the one-shot signal a POST handler waits on while its tool runs.
//
// # Lifecycle
//
//	ch := session.NewChannel(64)
//	sess, err := table.Open(ch)       // OPEN
//	c, err := table.RegisterPending(sess.ID)
//	...                               // AWAITING_RESULT
//	table.ResolvePending(sess.ID, c)  // OPEN again
//	table.Close(sess.ID)              // CLOSED, releases any waiter
//
// Close removes the entry, closes the channel, cancels the session context and
// releases the pending completion inside one critical section, so nothing can
// dispatch into a channel whose stream has already gone away.
//
// # Busy Sessions
//
// RegisterPending rejects a second call with ErrAlreadyPending while one is in
// flight. Completions are matched by identity, so a stale resolver can never
// release a different caller's wait. ExpirePending lets a waiter give up
// without freeing the slot; only the executor's ResolvePending or Close does.
//
// After CloseAll the table refuses new sessions with ErrTableClosed.
package session
