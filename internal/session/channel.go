// ABOUTME: Outbound event queue for a single client stream.
// ABOUTME: Producers enqueue events; the SSE writer drains them until the channel closes.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrChannelClosed indicates the stream behind the channel has gone away.
var ErrChannelClosed = errors.New("channel closed")

// DefaultBufferSize is the number of events a channel holds before Send blocks.
const DefaultBufferSize = 64

// Event is a single server-to-client message.
type Event struct {
	Name string
	Data json.RawMessage
}

// Channel is the server-to-client half of a session.
type Channel struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewChannel creates a channel buffering up to size events.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Channel{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues an event. It blocks while the buffer is full and returns
// ErrChannelClosed once the channel is closed, or ctx.Err() if ctx ends first.
func (c *Channel) Send(ctx context.Context, ev Event) error {
	// Check closed first so a closed channel with buffer space still rejects.
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the queue drained by the stream writer.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close marks the channel closed. Safe to call multiple times.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
