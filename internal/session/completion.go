// ABOUTME: One-shot completion signal for an in-flight tool call.
// ABOUTME: Fired exactly once, either by the executor or by the session closing.

package session

import "sync"

// Completion is a one-shot signal owned by a session's pending slot.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed when the completion fires.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err reports why the completion fired. Nil means the call finished normally.
// Only meaningful after Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// fire records err and closes done. Later calls are ignored.
func (c *Completion) fire(err error) bool {
	fired := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		fired = true
	})
	return fired
}
