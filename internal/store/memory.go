// Package store — in-memory Store implementation.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// MemoryStore implements Store with in-memory maps. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]*models.Task               // key: id
	threads     map[string]*models.ConversationThread // key: id
	suggestions map[string]*models.Suggestion         // key: id

	// insertion counter gives suggestions a stable newest-first order even
	// when CreatedAt timestamps collide inside one batch
	seq     uint64
	seqByID map[string]uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]*models.Task),
		threads:     make(map[string]*models.ConversationThread),
		suggestions: make(map[string]*models.Suggestion),
		seqByID:     make(map[string]uint64),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error    { return nil }
func (m *MemoryStore) Close() error                    { return nil }
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Tasks ───────────────────────────────────────────────────

func (m *MemoryStore) ListTasks(_ context.Context, userID string, filter TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var result []models.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if filter.Completed != nil && t.Completed != *filter.Completed {
			continue
		}
		if filter.Quadrant != "" && t.Quadrant != filter.Quadrant {
			continue
		}
		if filter.Query != "" {
			q := strings.ToLower(filter.Query)
			if !strings.Contains(strings.ToLower(t.Title), q) &&
				!strings.Contains(strings.ToLower(t.Description), q) {
				continue
			}
		}
		result = append(result, *t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetTask(_ context.Context, userID, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; !ok {
		return &ErrNotFound{Entity: "task", Key: task.ID}
	}
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	delete(m.tasks, id)
	return nil
}

// ── Threads ─────────────────────────────────────────────────

func (m *MemoryStore) GetThread(_ context.Context, id string) (*models.ConversationThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	th, ok := m.threads[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "thread", Key: id}
	}
	cp := *th
	cp.Messages = append([]models.Message(nil), th.Messages...)
	if th.Pending != nil {
		p := *th.Pending
		cp.Pending = &p
	}
	return &cp, nil
}

func (m *MemoryStore) CreateThread(_ context.Context, thread *models.ConversationThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *thread
	cp.Messages = append([]models.Message(nil), thread.Messages...)
	m.threads[thread.ID] = &cp
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, threadID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	th, ok := m.threads[threadID]
	if !ok {
		return &ErrNotFound{Entity: "thread", Key: threadID}
	}
	th.Messages = append(th.Messages, msg)
	th.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetPendingAction(_ context.Context, threadID string, action *models.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	th, ok := m.threads[threadID]
	if !ok {
		return &ErrNotFound{Entity: "thread", Key: threadID}
	}
	if action == nil {
		th.Pending = nil
	} else {
		cp := *action
		th.Pending = &cp
	}
	th.UpdatedAt = time.Now().UTC()
	return nil
}

// ── Suggestions ─────────────────────────────────────────────

func (m *MemoryStore) ListPendingSuggestions(_ context.Context, taskID string) ([]models.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Suggestion
	for _, s := range m.suggestions {
		if s.TaskID == taskID && s.Status == models.SuggestionPending {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.seqByID[result[i].ID] > m.seqByID[result[j].ID]
	})
	return result, nil
}

func (m *MemoryStore) ReplacePendingSuggestions(_ context.Context, taskID string, suggestions []models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.suggestions {
		if s.TaskID == taskID && s.Status == models.SuggestionPending {
			delete(m.suggestions, id)
			delete(m.seqByID, id)
		}
	}
	for i := range suggestions {
		cp := suggestions[i]
		m.seq++
		m.seqByID[cp.ID] = m.seq
		m.suggestions[cp.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) UpdateSuggestion(_ context.Context, s *models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.suggestions[s.ID]; !ok {
		return &ErrNotFound{Entity: "suggestion", Key: s.ID}
	}
	cp := *s
	m.suggestions[s.ID] = &cp
	return nil
}
