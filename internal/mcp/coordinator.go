// ABOUTME: Connection coordinator tying POSTed tool calls to their session's SSE stream.
// ABOUTME: Holds each call's POST open until the result is on the stream or the session closes.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-line/internal/dedupe"
	"github.com/2389/coven-line/internal/metrics"
	"github.com/2389/coven-line/internal/packs"
	"github.com/2389/coven-line/internal/session"
	"github.com/2389/coven-line/internal/store"
)

// ErrDuplicateRequest indicates the JSON-RPC id was already executed on the session.
var ErrDuplicateRequest = errors.New("duplicate request id")

// ErrCompletionTimeout indicates the tool call did not finish within the
// completion timeout. The session stays busy until the handler returns.
var ErrCompletionTimeout = errors.New("tool call did not complete in time")

var errSessionBusy = errors.New("session busy: another tool call is in progress")

// Default timeouts.
const (
	DefaultCallTimeout       = packs.DefaultTimeout
	DefaultCompletionTimeout = 60 * time.Second
)

// Invocation is one tools/call request bound to a session.
type Invocation struct {
	SessionID string
	RequestID json.RawMessage
	Name      string
	Arguments json.RawMessage
}

// Recorder persists completed tool calls.
type Recorder interface {
	RecordToolCall(ctx context.Context, call *store.ToolCall) error
}

// CoordinatorConfig holds the coordinator's collaborators.
type CoordinatorConfig struct {
	Table    *session.Table
	Registry *packs.Registry
	Dedupe   *dedupe.Cache    // optional
	Metrics  *metrics.Metrics // optional
	Recorder Recorder         // optional
	Logger   *slog.Logger

	CallTimeout       time.Duration
	CompletionTimeout time.Duration
}

// Coordinator runs the per-session state machine: OPEN, AWAITING_RESULT
// while a call is pending, and CLOSED once the stream goes away.
type Coordinator struct {
	table    *session.Table
	registry *packs.Registry
	dedupe   *dedupe.Cache
	metrics  *metrics.Metrics
	recorder Recorder
	logger   *slog.Logger

	callTimeout       time.Duration
	completionTimeout time.Duration

	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Table == nil {
		return nil, errors.New("session table is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	completionTimeout := cfg.CompletionTimeout
	if completionTimeout <= 0 {
		completionTimeout = DefaultCompletionTimeout
	}
	if completionTimeout <= callTimeout {
		logger.Warn("completion timeout must exceed call timeout, raising it",
			"call_timeout", callTimeout,
			"completion_timeout", completionTimeout,
		)
		completionTimeout = 2 * callTimeout
	}

	return &Coordinator{
		table:             cfg.Table,
		registry:          cfg.Registry,
		dedupe:            cfg.Dedupe,
		metrics:           cfg.Metrics,
		recorder:          cfg.Recorder,
		logger:            logger,
		callTimeout:       callTimeout,
		completionTimeout: completionTimeout,
	}, nil
}

// Open registers a new session for ch. Once Shutdown has started it fails
// with session.ErrTableClosed.
func (c *Coordinator) Open(ch *session.Channel) (*session.Session, error) {
	sess, err := c.table.Open(ch)
	if err != nil {
		return nil, err
	}
	c.metrics.SessionOpened()
	c.logger.Info("session opened", "session_id", sess.ID)
	return sess, nil
}

// Close tears down the session. Any POST waiting on it is released.
func (c *Coordinator) Close(id string) {
	if !c.table.Close(id) {
		return
	}
	c.metrics.SessionClosed()
	if c.dedupe != nil {
		c.dedupe.ForgetPrefix(dedupe.RequestKey(id, nil))
	}
	c.logger.Info("session closed", "session_id", id)
}

// Shutdown closes every session, then waits for in-flight executions to
// finish recording or for ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	n := c.table.CloseAll()
	for i := 0; i < n; i++ {
		c.metrics.SessionClosed()
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight tool calls: %w", ctx.Err())
	}
}

// HasSession reports whether id names an open session.
func (c *Coordinator) HasSession(id string) bool {
	_, err := c.table.Lookup(id)
	return err == nil
}

// Sessions returns the number of open sessions.
func (c *Coordinator) Sessions() int {
	return c.table.Count()
}

// Respond pushes a JSON-RPC result onto the session's stream.
func (c *Coordinator) Respond(ctx context.Context, sessionID string, id json.RawMessage, result any) error {
	sess, err := c.table.Lookup(sessionID)
	if err != nil {
		return err
	}
	return c.push(ctx, sess, resultResponse(id, result))
}

// RespondError pushes a JSON-RPC error onto the session's stream.
func (c *Coordinator) RespondError(ctx context.Context, sessionID string, id json.RawMessage, code int, message string) error {
	sess, err := c.table.Lookup(sessionID)
	if err != nil {
		return err
	}
	return c.push(ctx, sess, errorResponse(id, code, message))
}

// Submit runs a tool call on the session and returns once its result has
// been pushed onto the stream.
//
// Unknown tools and invalid arguments produce a failure result and a nil
// error. A session that already has a call in flight gets a busy failure
// result and ErrAlreadyPending. A replayed request id gets
// ErrDuplicateRequest. If the session closes first the error is
// session.ErrSessionClosed.
func (c *Coordinator) Submit(ctx context.Context, inv Invocation) error {
	sess, err := c.table.Lookup(inv.SessionID)
	if err != nil {
		return err
	}

	logger := c.logger.With("session_id", sess.ID, "tool_name", inv.Name, "request_id", string(inv.RequestID))

	tool, err := c.registry.Resolve(inv.Name, inv.Arguments)
	if err != nil {
		logger.Debug("tool call rejected", "error", err)
		c.metrics.RecordRejected(metrics.ReasonInvalid)
		return c.pushToolResult(ctx, sess, inv.RequestID, failureResult(err))
	}

	completion, err := c.table.RegisterPending(sess.ID)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyPending) {
			// A reused id already has its own response; never send a second.
			if c.dedupe != nil && c.dedupe.Seen(dedupe.RequestKey(sess.ID, inv.RequestID)) {
				logger.Warn("request id reused while session busy, rejecting tool call")
				c.metrics.RecordRejected(metrics.ReasonDuplicate)
				return ErrDuplicateRequest
			}
			logger.Warn("session busy, rejecting tool call")
			c.metrics.RecordRejected(metrics.ReasonBusy)
			if pushErr := c.pushToolResult(ctx, sess, inv.RequestID, failureResult(errSessionBusy)); pushErr != nil {
				logger.Debug("failed to push busy result", "error", pushErr)
			}
		}
		return err
	}

	if c.dedupe != nil && c.dedupe.CheckAndMark(dedupe.RequestKey(sess.ID, inv.RequestID)) {
		c.table.ResolvePending(sess.ID, completion)
		logger.Warn("duplicate request id, rejecting tool call")
		c.metrics.RecordRejected(metrics.ReasonDuplicate)
		if pushErr := c.pushToolResult(ctx, sess, inv.RequestID, failureResult(ErrDuplicateRequest)); pushErr != nil {
			logger.Debug("failed to push duplicate result", "error", pushErr)
		}
		return ErrDuplicateRequest
	}

	c.inflight.Add(1)
	go c.execute(sess, completion, tool, inv, logger)

	return c.await(ctx, sess, completion, logger)
}

// execute runs the tool, pushes its result and resolves the completion.
// Execution is bounded by the session's lifetime, not the POST's. A result
// that arrives after the waiter gave up is recorded but not pushed.
func (c *Coordinator) execute(sess *session.Session, completion *session.Completion, tool *packs.BuiltinTool, inv Invocation, logger *slog.Logger) {
	defer c.inflight.Done()

	start := time.Now()
	execCtx, cancel := context.WithTimeout(sess.Context(), c.callTimeout)
	result := c.registry.Execute(execCtx, tool, inv.Arguments)
	cancel()
	elapsed := time.Since(start)

	if expired(completion) {
		logger.Warn("dropping tool result after completion timeout", "elapsed", elapsed)
	} else if err := c.pushToolResult(sess.Context(), sess, inv.RequestID, toolResult(result)); err != nil {
		logger.Debug("tool result not delivered", "error", err)
	}
	c.table.ResolvePending(sess.ID, completion)

	c.metrics.RecordToolCall(inv.Name, result.IsError(), elapsed)
	c.record(sess.ID, inv, result, start, elapsed, logger)
}

// await blocks until the completion fires, the completion timeout passes,
// or the caller goes away.
func (c *Coordinator) await(ctx context.Context, sess *session.Session, completion *session.Completion, logger *slog.Logger) error {
	timer := time.NewTimer(c.completionTimeout)
	defer timer.Stop()

	select {
	case <-completion.Done():
	case <-timer.C:
		c.table.ExpirePending(sess.ID, completion, ErrCompletionTimeout)
		<-completion.Done()
	case <-ctx.Done():
		return ctx.Err()
	}

	err := completion.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCompletionTimeout):
		logger.Error("tool call exceeded completion timeout", "timeout", c.completionTimeout)
		c.metrics.RecordRejected(metrics.ReasonTimeout)
	case errors.Is(err, session.ErrSessionClosed):
		logger.Info("session closed while tool call was in flight")
		c.metrics.RecordRejected(metrics.ReasonClosed)
	}
	return err
}

// expired reports whether the waiter on completion already gave up.
func expired(completion *session.Completion) bool {
	select {
	case <-completion.Done():
		return errors.Is(completion.Err(), ErrCompletionTimeout)
	default:
		return false
	}
}

func (c *Coordinator) record(sessionID string, inv Invocation, result packs.Result, start time.Time, elapsed time.Duration, logger *slog.Logger) {
	if c.recorder == nil {
		return
	}

	call := &store.ToolCall{
		SessionID:  sessionID,
		RequestID:  string(inv.RequestID),
		ToolName:   inv.Name,
		Arguments:  string(inv.Arguments),
		Status:     store.ToolCallSucceeded,
		Output:     string(result.Output),
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
	}
	if result.IsError() {
		call.Status = store.ToolCallFailed
		call.Error = result.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.RecordToolCall(ctx, call); err != nil {
		logger.Warn("failed to record tool call", "error", err)
	}
}

func (c *Coordinator) pushToolResult(ctx context.Context, sess *session.Session, id json.RawMessage, result MCPCallToolResult) error {
	return c.push(ctx, sess, resultResponse(id, result))
}

func (c *Coordinator) push(ctx context.Context, sess *session.Session, resp JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return sess.Channel.Send(ctx, session.Event{Name: "message", Data: data})
}
