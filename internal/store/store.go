// Package store provides the storage interface and implementations for
// TaskPilot. The in-memory store backs tests and zero-config local runs;
// the PostgreSQL store backs production.
package store

import (
	"context"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// Store is the primary storage interface. Handler and service code depends
// on this interface, making it easy to swap between in-memory (tests) and
// PostgreSQL (production) implementations.
type Store interface {
	TaskStore
	ThreadStore
	SuggestionStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or updates the schema. No-op for the memory store.
	Migrate(ctx context.Context) error
}

// ── Task Store ──────────────────────────────────────────────

// TaskFilter defines optional filters for listing tasks.
type TaskFilter struct {
	Query     string // substring match on title/description
	Completed *bool
	Quadrant  models.Quadrant
	Limit     int // max results (default 100)
}

type TaskStore interface {
	ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, userID, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// ── Thread Store ────────────────────────────────────────────

// ThreadStore persists conversation threads, their append-only message
// history, and the per-thread pending action checkpoint.
type ThreadStore interface {
	GetThread(ctx context.Context, id string) (*models.ConversationThread, error)
	CreateThread(ctx context.Context, thread *models.ConversationThread) error
	AppendMessage(ctx context.Context, threadID string, msg models.Message) error

	// SetPendingAction stores the thread's suspended tool call; nil clears it.
	// Keeping this durable is what makes a confirmation-suspended turn
	// resumable across process restarts.
	SetPendingAction(ctx context.Context, threadID string, action *models.PendingAction) error
}

// ── Suggestion Store ────────────────────────────────────────

type SuggestionStore interface {
	// ListPendingSuggestions returns a task's PENDING suggestions, newest first.
	ListPendingSuggestions(ctx context.Context, taskID string) ([]models.Suggestion, error)

	// ReplacePendingSuggestions deletes the task's PENDING suggestions and
	// inserts the new batch in a single transaction. Resolved suggestions
	// are never touched.
	ReplacePendingSuggestions(ctx context.Context, taskID string, suggestions []models.Suggestion) error

	// UpdateSuggestion persists a status change (approve/reject resolution).
	UpdateSuggestion(ctx context.Context, s *models.Suggestion) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
