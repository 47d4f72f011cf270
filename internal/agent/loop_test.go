package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/gate"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/internal/tools"
	"github.com/taskpilot/taskpilot/pkg/models"
)

func newTestLoop(t *testing.T, s store.Store, model llm.Client, maxTurns int) *Loop {
	t.Helper()
	registry := tools.NewRegistry(tools.TaskTools(s)...)
	g, err := gate.New(registry, gate.DefaultRules()...)
	if err != nil {
		t.Fatalf("gate compile failed: %v", err)
	}
	return NewLoop(s, model, registry, g, maxTurns)
}

func collect(t *testing.T, ch <-chan models.AgentEvent) []models.AgentEvent {
	t.Helper()
	var events []models.AgentEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out collecting events")
		}
	}
}

func eventTypes(events []models.AgentEvent) []models.AgentEventType {
	types := make([]models.AgentEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestTurnStreamsTextAndPersists(t *testing.T) {
	s := store.NewMemoryStore()
	model := llm.NewScripted(llm.Step{Chunks: []string{"You have ", "3 open ", "tasks."}})
	loop := newTestLoop(t, s, model, 0)

	ch, err := loop.RunTurn(context.Background(), "th1", "u1", "how many tasks?")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	events := collect(t, ch)

	// exactly one terminal event, and it is the last one
	var terminals int
	for _, ev := range events {
		if ev.Type == models.EventDone || ev.Type == models.EventError {
			terminals++
		}
	}
	if terminals != 1 || events[len(events)-1].Type != models.EventDone {
		t.Fatalf("expected single trailing done, got %v", eventTypes(events))
	}

	// concatenated deltas equal the persisted assistant content
	var concat strings.Builder
	for _, ev := range events {
		concat.WriteString(ev.Delta)
		concat.WriteString(ev.Message)
	}
	thread, err := s.GetThread(context.Background(), "th1")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if len(thread.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(thread.Messages))
	}
	assistant := thread.Messages[1]
	if assistant.Role != models.RoleAssistant {
		t.Fatalf("expected assistant message, got %s", assistant.Role)
	}
	if assistant.Content != "You have 3 open tasks." {
		t.Errorf("unexpected content %q", assistant.Content)
	}
	if concat.String() != assistant.Content {
		t.Errorf("delta concatenation %q != persisted content %q", concat.String(), assistant.Content)
	}
}

func TestTurnChunkedTextHasNoDuplicateMessageEvent(t *testing.T) {
	s := store.NewMemoryStore()
	model := llm.NewScripted(llm.Step{Chunks: []string{"Hello", " there"}})
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(context.Background(), "th1", "u1", "hi")
	for _, ev := range collect(t, ch) {
		if ev.Type == models.EventMessage {
			t.Errorf("complete message event duplicates streamed chunks: %+v", ev)
		}
	}
}

func TestTurnExecutesAutoConfirmedTool(t *testing.T) {
	s := store.NewMemoryStore()
	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "create_task", Args: map[string]interface{}{"title": "Buy milk"}}},
		llm.Step{Text: "Created it."},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, err := loop.RunTurn(context.Background(), "th1", "u1", "add a task to buy milk")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	events := collect(t, ch)

	var request, result bool
	for _, ev := range events {
		switch ev.Type {
		case models.EventToolRequest:
			request = true
			if ev.ConfirmationRequired {
				t.Error("create_task should not require confirmation")
			}
		case models.EventToolResult:
			result = true
		}
	}
	if !request || !result {
		t.Fatalf("expected tool_request and tool_result, got %v", eventTypes(events))
	}

	tasks, _ := s.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Fatalf("task not created: %+v", tasks)
	}
}

func TestTurnSuspendsOnConfirmationRequired(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Old notes"})

	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "delete_task", Args: map[string]interface{}{"task_id": "t1"}}},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, err := loop.RunTurn(ctx, "th1", "u1", "delete the notes task")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != models.EventToolRequest || !last.ConfirmationRequired {
		t.Fatalf("expected trailing confirmation-required tool_request, got %v", eventTypes(events))
	}
	if last.TraceID == "" {
		t.Error("tool_request missing trace id")
	}
	for _, ev := range events {
		if ev.Type == models.EventDone || ev.Type == models.EventError {
			t.Errorf("suspended turn must not emit terminal event %s", ev.Type)
		}
	}

	thread, _ := s.GetThread(ctx, "th1")
	if thread.Pending == nil || thread.Pending.Tool != "delete_task" {
		t.Fatalf("pending action not checkpointed: %+v", thread.Pending)
	}
	if thread.Pending.TraceID != last.TraceID {
		t.Error("checkpoint trace id does not match the emitted event")
	}
	if _, err := s.GetTask(ctx, "u1", "t1"); err != nil {
		t.Error("task must not be deleted before confirmation")
	}

	// a new message while suspended is rejected, not queued
	if _, err := loop.RunTurn(ctx, "th1", "u1", "never mind"); !errors.Is(err, ErrAwaitingConfirmation) {
		t.Errorf("expected ErrAwaitingConfirmation, got %v", err)
	}
}

func TestCancelPendingAction(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Old notes"})

	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "delete_task", Args: map[string]interface{}{"task_id": "t1"}}},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(ctx, "th1", "u1", "delete the notes task")
	collect(t, ch)

	thread, _ := s.GetThread(ctx, "th1")
	result, err := loop.Cancel(ctx, "th1", thread.Pending.TraceID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if result.Summary != CancelledSummary {
		t.Errorf("expected %q, got %q", CancelledSummary, result.Summary)
	}

	if _, err := s.GetTask(ctx, "u1", "t1"); err != nil {
		t.Error("cancelled delete must not remove the task")
	}

	thread, _ = s.GetThread(ctx, "th1")
	if thread.Pending != nil {
		t.Error("pending action not cleared after cancel")
	}
	last := thread.Messages[len(thread.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content != CancelledSummary {
		t.Errorf("expected synthetic cancellation message, got %+v", last)
	}
	if len(last.Events) == 0 || last.Events[len(last.Events)-1].Type != models.EventDone {
		t.Errorf("cancellation message should end with done, got %+v", last.Events)
	}

	// the checkpoint is consumed; a second resolve finds nothing
	if _, err := loop.Cancel(ctx, "th1", ""); !errors.Is(err, ErrNoPendingAction) {
		t.Errorf("expected ErrNoPendingAction, got %v", err)
	}
}

func TestConfirmExecutesPendingAndResumes(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Old notes"})

	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "delete_task", Args: map[string]interface{}{"task_id": "t1"}}},
		llm.Step{Text: "Done, the task is gone."},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(ctx, "th1", "u1", "delete the notes task")
	collect(t, ch)

	thread, _ := s.GetThread(ctx, "th1")
	result, err := loop.Confirm(ctx, "th1", thread.Pending.TraceID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !strings.Contains(result.Summary, "Deleted task") {
		t.Errorf("unexpected result summary %q", result.Summary)
	}

	if _, err := s.GetTask(ctx, "u1", "t1"); err == nil {
		t.Error("confirmed delete should remove the task")
	}

	thread, _ = s.GetThread(ctx, "th1")
	if thread.Pending != nil {
		t.Error("pending action not cleared after confirm")
	}
	last := thread.Messages[len(thread.Messages)-1]
	if last.Content != "Done, the task is gone." {
		t.Errorf("resumed turn content %q", last.Content)
	}
	if len(last.Events) == 0 || last.Events[len(last.Events)-1].Type != models.EventDone {
		t.Errorf("resumed turn should record a trailing done, got %+v", last.Events)
	}
}

func TestConfirmPersistsExecutionWhenResumeFails(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Old notes"})

	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "delete_task", Args: map[string]interface{}{"task_id": "t1"}}},
		llm.Step{Err: errors.New("upstream 500")},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(ctx, "th1", "u1", "delete the notes task")
	collect(t, ch)

	thread, _ := s.GetThread(ctx, "th1")
	result, err := loop.Confirm(ctx, "th1", thread.Pending.TraceID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !strings.Contains(result.Summary, "Deleted task") {
		t.Errorf("unexpected result summary %q", result.Summary)
	}
	if _, err := s.GetTask(ctx, "u1", "t1"); err == nil {
		t.Error("confirmed delete should remove the task")
	}

	// the executed tool must be on the timeline even though the resumed
	// model call failed
	thread, _ = s.GetThread(ctx, "th1")
	last := thread.Messages[len(thread.Messages)-1]
	if last.Role != models.RoleAssistant {
		t.Fatalf("expected an assistant record, got %s", last.Role)
	}
	var sawResult, sawError bool
	for _, ev := range last.Events {
		if ev.Type == models.EventToolResult && ev.Tool == "delete_task" {
			sawResult = true
		}
		if ev.Type == models.EventError {
			sawError = true
		}
	}
	if !sawResult || !sawError {
		t.Errorf("timeline missing the executed tool or the error: %+v", last.Events)
	}
}

func TestConfirmTraceMismatch(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Old notes"})

	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "delete_task", Args: map[string]interface{}{"task_id": "t1"}}},
	)
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(ctx, "th1", "u1", "delete it")
	collect(t, ch)

	if _, err := loop.Confirm(ctx, "th1", "not-the-trace"); !errors.Is(err, ErrTraceMismatch) {
		t.Fatalf("expected ErrTraceMismatch, got %v", err)
	}

	// the mismatch must not consume the checkpoint
	thread, _ := s.GetThread(ctx, "th1")
	if thread.Pending == nil {
		t.Error("pending action lost on trace mismatch")
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.CreateThread(ctx, &models.ConversationThread{ID: "th1", UserID: "u1"})

	loop := newTestLoop(t, s, llm.NewScripted(), 0)
	if _, err := loop.Confirm(ctx, "th1", ""); !errors.Is(err, ErrNoPendingAction) {
		t.Fatalf("expected ErrNoPendingAction, got %v", err)
	}
}

// blockingClient parks Complete until released, for in-flight turn tests.
type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Complete(ctx context.Context, _ llm.CompletionRequest, _ llm.ChunkFunc) (*llm.Completion, error) {
	select {
	case <-b.release:
		return &llm.Completion{Text: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingClient) CompleteJSON(_ context.Context, _ string) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func TestSecondMessageWhileTurnInFlight(t *testing.T) {
	s := store.NewMemoryStore()
	model := &blockingClient{release: make(chan struct{})}
	loop := newTestLoop(t, s, model, 0)

	ctx := context.Background()
	ch, err := loop.RunTurn(ctx, "th1", "u1", "first")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if _, err := loop.RunTurn(ctx, "th1", "u1", "second"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}

	close(model.release)
	collect(t, ch)

	// the slot frees up once the turn finishes
	ch2, err := loop.RunTurn(ctx, "th1", "u1", "third")
	if err != nil {
		t.Fatalf("RunTurn after completion failed: %v", err)
	}
	collect(t, ch2)
}

func TestModelErrorEmitsSingleErrorEvent(t *testing.T) {
	s := store.NewMemoryStore()
	model := llm.NewScripted(llm.Step{Err: errors.New("upstream 500")})
	loop := newTestLoop(t, s, model, 0)

	ch, _ := loop.RunTurn(context.Background(), "th1", "u1", "hello")
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != models.EventError || last.Reason != ReasonModelError {
		t.Fatalf("expected trailing model error, got %v", eventTypes(events))
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == models.EventError || ev.Type == models.EventDone {
			t.Error("terminal event must be unique")
		}
	}

	// nothing persisted beyond the user message
	thread, _ := s.GetThread(context.Background(), "th1")
	if len(thread.Messages) != 1 {
		t.Errorf("failed turn must not persist assistant output, got %d messages", len(thread.Messages))
	}
}

func TestTurnLimitExceeded(t *testing.T) {
	s := store.NewMemoryStore()
	model := llm.NewScripted(
		llm.Step{ToolCall: &llm.ToolCall{Name: "list_tasks", Args: nil}},
		llm.Step{ToolCall: &llm.ToolCall{Name: "list_tasks", Args: nil}},
	)
	loop := newTestLoop(t, s, model, 2)

	ch, _ := loop.RunTurn(context.Background(), "th1", "u1", "loop forever")
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != models.EventError || last.Reason != ReasonTurnLimit {
		t.Fatalf("expected turn limit error, got %v", eventTypes(events))
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	loop := newTestLoop(t, store.NewMemoryStore(), llm.NewScripted(), 0)
	if _, err := loop.RunTurn(context.Background(), "th1", "u1", ""); err == nil {
		t.Fatal("expected error for empty message")
	}
}
