// ABOUTME: Tests for the session table, channels, and completions.
// ABOUTME: Covers lifecycle, busy rejection, close-while-pending, and concurrency.

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	return NewTable(nil)
}

func mustOpen(t *testing.T, table *Table, ch *Channel) *Session {
	t.Helper()
	sess, err := table.Open(ch)
	require.NoError(t, err)
	return sess
}

func TestTable_OpenLookupClose(t *testing.T) {
	table := newTestTable()

	ch := NewChannel(4)
	sess := mustOpen(t, table, ch)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, table.Count())

	got, err := table.Lookup(sess.ID)
	require.NoError(t, err)
	assert.Same(t, ch, got.Channel)

	assert.True(t, table.Close(sess.ID))
	assert.True(t, ch.Closed())
	assert.Error(t, sess.Context().Err(), "session context should be cancelled")

	_, err = table.Lookup(sess.ID)
	assert.ErrorIs(t, err, ErrNoSuchSession)
	assert.Equal(t, 0, table.Count())
}

func TestTable_OpenGeneratesUniqueIDs(t *testing.T) {
	table := newTestTable()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		sess := mustOpen(t, table, NewChannel(1))
		_, dup := seen[sess.ID]
		require.False(t, dup, "duplicate session id %s", sess.ID)
		seen[sess.ID] = struct{}{}
	}
}

func TestTable_CloseIsIdempotent(t *testing.T) {
	table := newTestTable()
	sess := mustOpen(t, table, NewChannel(1))

	assert.True(t, table.Close(sess.ID))
	assert.False(t, table.Close(sess.ID))
	assert.False(t, table.Close("missing"))
}

func TestTable_RegisterPending(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		table := newTestTable()
		_, err := table.RegisterPending("missing")
		assert.ErrorIs(t, err, ErrNoSuchSession)
	})

	t.Run("second registration is rejected", func(t *testing.T) {
		table := newTestTable()
		sess := mustOpen(t, table, NewChannel(1))

		c, err := table.RegisterPending(sess.ID)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.True(t, table.Pending(sess.ID))

		_, err = table.RegisterPending(sess.ID)
		assert.ErrorIs(t, err, ErrAlreadyPending)
	})

	t.Run("slot frees after resolve", func(t *testing.T) {
		table := newTestTable()
		sess := mustOpen(t, table, NewChannel(1))

		c, err := table.RegisterPending(sess.ID)
		require.NoError(t, err)
		table.ResolvePending(sess.ID, c)

		select {
		case <-c.Done():
		default:
			t.Fatal("completion should have fired")
		}
		assert.NoError(t, c.Err())
		assert.False(t, table.Pending(sess.ID))

		_, err = table.RegisterPending(sess.ID)
		assert.NoError(t, err)
	})
}

func TestTable_ExpiredCompletionHoldsSlot(t *testing.T) {
	table := newTestTable()
	sess := mustOpen(t, table, NewChannel(1))

	first, err := table.RegisterPending(sess.ID)
	require.NoError(t, err)
	table.ExpirePending(sess.ID, first, context.DeadlineExceeded)
	assert.ErrorIs(t, first.Err(), context.DeadlineExceeded)

	// The executor has not finished, so the session is still busy.
	assert.True(t, table.Pending(sess.ID))
	_, err = table.RegisterPending(sess.ID)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	table.ResolvePending(sess.ID, first)
	assert.False(t, table.Pending(sess.ID))
	assert.ErrorIs(t, first.Err(), context.DeadlineExceeded, "first fire wins")

	second, err := table.RegisterPending(sess.ID)
	require.NoError(t, err)

	// A late resolver for the first call must not release the second caller.
	table.ResolvePending(sess.ID, first)
	table.ExpirePending(sess.ID, first, context.Canceled)
	select {
	case <-second.Done():
		t.Fatal("second completion released by stale handle")
	default:
	}
	assert.True(t, table.Pending(sess.ID))
}

func TestTable_CloseClearsExpiredSlot(t *testing.T) {
	table := newTestTable()
	sess := mustOpen(t, table, NewChannel(1))

	c, err := table.RegisterPending(sess.ID)
	require.NoError(t, err)
	table.ExpirePending(sess.ID, c, context.DeadlineExceeded)

	assert.True(t, table.Close(sess.ID))
	assert.False(t, table.Pending(sess.ID))
	assert.ErrorIs(t, c.Err(), context.DeadlineExceeded)
}

func TestTable_ResolveAfterCloseIsNoop(t *testing.T) {
	table := newTestTable()
	sess := mustOpen(t, table, NewChannel(1))

	c, err := table.RegisterPending(sess.ID)
	require.NoError(t, err)

	table.Close(sess.ID)
	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrSessionClosed)

	assert.NotPanics(t, func() { table.ResolvePending(sess.ID, c) })
	assert.ErrorIs(t, c.Err(), ErrSessionClosed, "first fire wins")
}

func TestTable_CloseReleasesWaiter(t *testing.T) {
	table := newTestTable()
	sess := mustOpen(t, table, NewChannel(1))

	c, err := table.RegisterPending(sess.ID)
	require.NoError(t, err)

	released := make(chan error, 1)
	go func() {
		<-c.Done()
		released <- c.Err()
	}()

	table.Close(sess.ID)

	select {
	case err := <-released:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by close")
	}
}

func TestTable_CloseAll(t *testing.T) {
	table := newTestTable()
	a := mustOpen(t, table, NewChannel(1))
	b := mustOpen(t, table, NewChannel(1))

	c, err := table.RegisterPending(a.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, table.CloseAll())

	assert.Equal(t, 0, table.Count())
	assert.True(t, a.Channel.Closed())
	assert.True(t, b.Channel.Closed())
	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrSessionClosed)

	late := NewChannel(1)
	sess, err := table.Open(late)
	assert.ErrorIs(t, err, ErrTableClosed)
	assert.Nil(t, sess)
	assert.True(t, late.Closed(), "rejected channel is closed")
	assert.Equal(t, 0, table.Count())
}

func TestTable_ConcurrentResolveAndClose(t *testing.T) {
	table := newTestTable()

	for i := 0; i < 200; i++ {
		sess := mustOpen(t, table, NewChannel(1))
		c, err := table.RegisterPending(sess.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			table.ResolvePending(sess.ID, c)
		}()
		go func() {
			defer wg.Done()
			table.Close(sess.ID)
		}()
		wg.Wait()

		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatal("completion never fired")
		}
	}
	assert.Equal(t, 0, table.Count())
}

func TestChannel_SendAfterClose(t *testing.T) {
	ch := NewChannel(2)
	ch.Close()
	ch.Close()

	err := ch.Send(context.Background(), Event{Name: "message", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannel_SendBlocksUntilContextDone(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Send(context.Background(), Event{Name: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.Send(ctx, Event{Name: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ev := <-ch.Events()
	assert.Equal(t, "a", ev.Name)
}

func TestChannel_CloseUnblocksSender(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Send(context.Background(), Event{Name: "fill"}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- ch.Send(context.Background(), Event{Name: "blocked"})
	}()

	time.Sleep(10 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("sender was not released by close")
	}
}
