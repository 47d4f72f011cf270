// Package agent implements the conversational decision loop.
//
// A turn runs:
//
//	history + tool schemas → language model → tool call or text →
//	execute approved tool calls, append results → repeat until the model
//	answers in text, a confirmation-required call suspends the turn, or
//	an error terminates it.
//
// Confirmation-required calls are checkpointed as a durable PendingAction on
// the thread, so a suspended turn survives a restart and resumes through
// Confirm/Cancel rather than an in-memory continuation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/gate"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// DefaultMaxTurns bounds the model ↔ tool iterations within one user turn.
const DefaultMaxTurns = 10

// Machine-readable reasons carried on error events.
const (
	ReasonModelError = "model_invocation_error"
	ReasonToolError  = "tool_execution_error"
	ReasonTurnLimit  = "turn_limit_exceeded"
)

var (
	// ErrTurnInProgress is returned when a second message arrives for a
	// thread whose turn is still running. Turns are never interleaved.
	ErrTurnInProgress = errors.New("a turn is already in progress for this thread")

	// ErrAwaitingConfirmation is returned when a new message arrives while
	// the thread has an unresolved pending action.
	ErrAwaitingConfirmation = errors.New("thread is awaiting confirmation of a pending action")

	// ErrNoPendingAction is returned by Confirm/Cancel when the thread has
	// nothing to resolve.
	ErrNoPendingAction = errors.New("no pending action for this thread")

	// ErrTraceMismatch is returned when a confirmation names a trace id
	// that does not match the outstanding pending action.
	ErrTraceMismatch = errors.New("trace id does not match the pending action")
)

// CancelledSummary is the synthetic result recorded when a pending action
// is cancelled.
const CancelledSummary = "Action cancelled."

// Loop drives conversation turns for all threads. One in-flight turn per
// thread; a second message is rejected, not queued.
type Loop struct {
	store    store.Store
	model    llm.Client
	registry *tools.Registry
	gate     *gate.Gate
	maxTurns int

	mu     sync.Mutex
	active map[string]bool // thread id → turn in flight
}

// NewLoop wires the agent loop. The registry and gate are injected values
// constructed at startup.
func NewLoop(s store.Store, model llm.Client, registry *tools.Registry, g *gate.Gate, maxTurns int) *Loop {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Loop{
		store:    s,
		model:    model,
		registry: registry,
		gate:     g,
		maxTurns: maxTurns,
		active:   make(map[string]bool),
	}
}

func (l *Loop) acquire(threadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[threadID] {
		return false
	}
	l.active[threadID] = true
	return true
}

func (l *Loop) release(threadID string) {
	l.mu.Lock()
	delete(l.active, threadID)
	l.mu.Unlock()
}

// RunTurn appends the user message to the thread (creating the thread on
// first contact) and starts a turn. Events are delivered on the returned
// channel in production order; the channel closes when the turn reaches a
// terminal state or suspends awaiting confirmation. Cancelling ctx stops
// event production promptly and leaves the thread resumable from its last
// appended history entry.
func (l *Loop) RunTurn(ctx context.Context, threadID, userID, text string) (<-chan models.AgentEvent, error) {
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}
	if !l.acquire(threadID) {
		return nil, ErrTurnInProgress
	}

	thread, err := l.loadOrCreateThread(ctx, threadID, userID)
	if err != nil {
		l.release(threadID)
		return nil, err
	}
	if thread.Pending != nil {
		l.release(threadID)
		return nil, ErrAwaitingConfirmation
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendMessage(ctx, threadID, userMsg); err != nil {
		l.release(threadID)
		return nil, fmt.Errorf("append user message: %w", err)
	}
	thread.Messages = append(thread.Messages, userMsg)

	ch := make(chan models.AgentEvent, 16)
	go func() {
		// release before close, so a caller that sees the stream end can
		// immediately confirm or send the next message
		defer close(ch)
		defer l.release(threadID)

		t := l.newTurn(thread, func(ev models.AgentEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- ev:
				return true
			}
		})
		t.run(ctx)
	}()
	return ch, nil
}

// Confirm executes the thread's pending action and resumes the loop with
// the result appended; the executed tool's result is returned synchronously.
// The resumed portion of the turn streams nowhere — its events are recorded
// on the assistant message for the thread timeline.
func (l *Loop) Confirm(ctx context.Context, threadID, traceID string) (*models.ToolResult, error) {
	return l.resolvePending(ctx, threadID, traceID, true)
}

// Cancel discards the thread's pending action and records the synthetic
// "Action cancelled." assistant message. The underlying tool never runs.
func (l *Loop) Cancel(ctx context.Context, threadID, traceID string) (*models.ToolResult, error) {
	return l.resolvePending(ctx, threadID, traceID, false)
}

func (l *Loop) resolvePending(ctx context.Context, threadID, traceID string, approve bool) (*models.ToolResult, error) {
	if !l.acquire(threadID) {
		return nil, ErrTurnInProgress
	}
	defer l.release(threadID)

	thread, err := l.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Pending == nil {
		return nil, ErrNoPendingAction
	}
	if traceID != "" && thread.Pending.TraceID != traceID {
		return nil, ErrTraceMismatch
	}
	pending := *thread.Pending

	if !approve {
		if err := l.store.SetPendingAction(ctx, threadID, nil); err != nil {
			return nil, fmt.Errorf("clear pending action: %w", err)
		}
		result := &models.ToolResult{Summary: CancelledSummary}
		msg := models.Message{
			ID:       uuid.NewString(),
			ThreadID: threadID,
			Role:     models.RoleAssistant,
			Content:  CancelledSummary,
			Events: []models.AgentEvent{
				{Type: models.EventToolResult, Tool: pending.Tool, Result: result},
				{Type: models.EventMessage, Message: CancelledSummary},
				{Type: models.EventDone},
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.AppendMessage(ctx, threadID, msg); err != nil {
			return nil, fmt.Errorf("append cancellation: %w", err)
		}
		log.Info().Str("thread", threadID).Str("tool", pending.Tool).Msg("Pending action cancelled")
		return result, nil
	}

	tool, ok := l.registry.Get(pending.Tool)
	if !ok {
		return nil, fmt.Errorf("pending action names unknown tool %q", pending.Tool)
	}
	result, err := tool.Execute(ctx, thread.UserID, pending.Args)
	if err != nil {
		// The action failed; clear the checkpoint so the thread is not
		// stuck re-confirming a broken call.
		if clearErr := l.store.SetPendingAction(ctx, threadID, nil); clearErr != nil {
			log.Error().Err(clearErr).Str("thread", threadID).Msg("Failed to clear pending action after tool error")
		}
		return nil, fmt.Errorf("execute %s: %w", pending.Tool, err)
	}
	if err := l.store.SetPendingAction(ctx, threadID, nil); err != nil {
		return nil, fmt.Errorf("clear pending action: %w", err)
	}

	log.Info().Str("thread", threadID).Str("tool", pending.Tool).Msg("Pending action confirmed and executed")

	// Resume the loop with the result appended; events are collected onto
	// the assistant message instead of streamed.
	t := l.newTurn(thread, func(models.AgentEvent) bool { return true })
	t.traceID = pending.TraceID
	t.seedToolResult(pending.Tool, pending.Args, result)
	t.run(ctx)

	return result, nil
}

func (l *Loop) loadOrCreateThread(ctx context.Context, threadID, userID string) (*models.ConversationThread, error) {
	thread, err := l.store.GetThread(ctx, threadID)
	if err == nil {
		return thread, nil
	}
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, err
	}

	now := time.Now().UTC()
	thread = &models.ConversationThread{
		ID:        threadID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	log.Info().Str("thread", threadID).Str("user", userID).Msg("Conversation thread created")
	return thread, nil
}
