package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// emitter delivers one event to the consumer. A false return means the
// consumer is gone and the turn must unwind without further effects.
type emitter func(models.AgentEvent) bool

const systemPrompt = `You are TaskPilot, an assistant that manages the user's tasks.
Use the provided tools to read and change tasks. Ask for nothing you can
look up yourself. When you have completed the request, answer in plain text.`

// turn holds the state of one in-flight conversation turn.
type turn struct {
	loop    *Loop
	thread  *models.ConversationThread
	emit    emitter
	traceID string

	history []llm.ChatMessage
	events  []models.AgentEvent
	content strings.Builder
	payload map[string]interface{}

	// confirmed marks a resumed turn whose tool already executed; its
	// record must reach the timeline even if the rest of the turn fails
	confirmed bool
}

func (l *Loop) newTurn(thread *models.ConversationThread, emit emitter) *turn {
	return &turn{
		loop:    l,
		thread:  thread,
		emit:    emit,
		traceID: uuid.NewString(),
		history: buildHistory(thread),
	}
}

// record stores the event on the turn and forwards it to the consumer.
func (t *turn) record(ev models.AgentEvent) bool {
	t.events = append(t.events, ev)
	return t.emit(ev)
}

// seedToolResult pre-loads a confirmed tool execution into the turn, so the
// resumed loop continues from the result rather than re-requesting the call.
func (t *turn) seedToolResult(tool string, args map[string]interface{}, result *models.ToolResult) {
	t.confirmed = true
	t.events = append(t.events,
		models.AgentEvent{Type: models.EventToolRequest, Tool: tool, Args: args, ConfirmationRequired: true, TraceID: t.traceID},
		models.AgentEvent{Type: models.EventToolResult, Tool: tool, Result: result},
	)
	t.payload = result.Payload
	t.history = append(t.history, llm.ChatMessage{
		Role:    "tool",
		Content: "[Tool: " + tool + "] " + result.Summary,
	})
}

// run drives the turn to a terminal state: a final text answer (done), a
// suspension on a confirmation-required tool call, or an error.
func (t *turn) run(ctx context.Context) {
	for iteration := 1; iteration <= t.loop.maxTurns; iteration++ {
		if !t.record(models.AgentEvent{Type: models.EventThinking, Text: "Deciding next step"}) {
			return
		}

		completion, err := t.loop.model.Complete(ctx, llm.CompletionRequest{
			Messages: t.history,
			Tools:    t.loop.registry.Definitions(),
		}, t.onChunk)
		if err != nil {
			if ctx.Err() != nil {
				return // consumer aborted; no error event, turn stays resumable
			}
			t.fail(ReasonModelError, "The assistant is temporarily unavailable. Please try again.", err)
			return
		}

		if completion.ToolCall == nil {
			t.finish(completion.Text)
			return
		}

		if done := t.handleToolCall(ctx, completion.ToolCall); done {
			return
		}
	}

	t.fail(ReasonTurnLimit, "The request needed too many steps to complete.", nil)
}

// onChunk forwards streamed text deltas as message_chunk events.
func (t *turn) onChunk(delta string) error {
	if !t.record(models.AgentEvent{Type: models.EventMessageChunk, Delta: delta}) {
		return context.Canceled
	}
	t.content.WriteString(delta)
	return nil
}

// handleToolCall dispatches one requested tool call. It returns true when
// the turn is over (suspended or errored) and false when the loop should
// ask the model again.
func (t *turn) handleToolCall(ctx context.Context, tc *llm.ToolCall) bool {
	tool, ok := t.loop.registry.Get(tc.Name)
	if !ok {
		t.fail(ReasonToolError, "The assistant requested an unknown action.", nil)
		return true
	}

	needsConfirm := t.loop.gate.RequiresConfirmation(tc.Name, tc.Args)
	if !t.record(models.AgentEvent{
		Type:                 models.EventToolRequest,
		Tool:                 tc.Name,
		Args:                 tc.Args,
		ConfirmationRequired: needsConfirm,
		TraceID:              t.traceID,
	}) {
		return true
	}

	if needsConfirm {
		pending := &models.PendingAction{
			Tool:        tc.Name,
			Args:        tc.Args,
			TraceID:     t.traceID,
			RequestedAt: time.Now().UTC(),
		}
		if err := t.loop.store.SetPendingAction(ctx, t.thread.ID, pending); err != nil {
			t.fail(ReasonToolError, "Could not checkpoint the requested action.", err)
			return true
		}
		// Suspend: no further events until confirm/cancel arrives
		// out-of-band. The stream closes without a terminal event.
		log.Info().
			Str("thread", t.thread.ID).
			Str("tool", tc.Name).
			Str("trace_id", t.traceID).
			Msg("Turn suspended awaiting confirmation")
		return true
	}

	if !t.record(models.AgentEvent{Type: models.EventStep, Text: "Running " + tc.Name}) {
		return true
	}
	result, err := tool.Execute(ctx, t.thread.UserID, tc.Args)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		t.fail(ReasonToolError, "Something went wrong while performing that action.", err)
		return true
	}
	t.payload = result.Payload
	if !t.record(models.AgentEvent{Type: models.EventToolResult, Tool: tc.Name, Result: result}) {
		return true
	}

	t.history = append(t.history, llm.ChatMessage{
		Role:    "tool",
		Content: "[Tool: " + tc.Name + "] " + result.Summary,
	})
	return false
}

// finish emits the terminal done event and persists the assistant message.
// When text arrived as chunks the deltas already carry the full content, so
// no complete-message event is emitted on top of them.
func (t *turn) finish(text string) {
	if t.content.Len() == 0 && text != "" {
		if !t.record(models.AgentEvent{Type: models.EventMessage, Message: text, Payload: t.payload}) {
			return
		}
		t.content.WriteString(text)
	}
	if !t.record(models.AgentEvent{Type: models.EventDone}) {
		return
	}
	t.persistAssistant()
}

// fail emits the single terminal error event. Nothing is persisted — the
// next user message retries from the last appended history entry — except
// for a resumed turn whose confirmed tool already ran: that mutation
// happened, so its events are kept on the timeline.
func (t *turn) fail(reason, message string, err error) {
	log.Warn().
		Err(err).
		Str("thread", t.thread.ID).
		Str("reason", reason).
		Msg("Turn failed")
	t.record(models.AgentEvent{Type: models.EventError, Message: message, Reason: reason})
	if t.confirmed {
		t.persistAssistant()
	}
}

func (t *turn) persistAssistant() {
	msg := models.Message{
		ID:        uuid.NewString(),
		ThreadID:  t.thread.ID,
		Role:      models.RoleAssistant,
		Content:   t.content.String(),
		Events:    t.events,
		Payload:   t.payload,
		CreatedAt: time.Now().UTC(),
	}
	// The turn is semantically complete; persist even if the caller's
	// request context is gone by now.
	if err := t.loop.store.AppendMessage(context.Background(), t.thread.ID, msg); err != nil {
		log.Error().Err(err).Str("thread", t.thread.ID).Msg("Failed to persist assistant message")
	}
}

// buildHistory converts the thread's stored messages into the model's
// prompt shape. Tool results recorded on assistant messages are replayed as
// tool-role entries so the model sees what its earlier calls returned.
func buildHistory(thread *models.ConversationThread) []llm.ChatMessage {
	history := []llm.ChatMessage{{Role: "system", Content: systemPrompt}}
	for _, msg := range thread.Messages {
		switch msg.Role {
		case models.RoleUser:
			history = append(history, llm.ChatMessage{Role: "user", Content: msg.Content})
		case models.RoleAssistant:
			for _, ev := range msg.Events {
				if ev.Type == models.EventToolResult && ev.Result != nil {
					history = append(history, llm.ChatMessage{
						Role:    "tool",
						Content: "[Tool: " + ev.Tool + "] " + ev.Result.Summary,
					})
				}
			}
			if msg.Content != "" {
				history = append(history, llm.ChatMessage{Role: "assistant", Content: msg.Content})
			}
		}
	}
	return history
}
