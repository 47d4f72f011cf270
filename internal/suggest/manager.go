// Package suggest implements the suggestion lifecycle: LLM analysis of a
// task into proposed field changes, persisted as pending suggestions, and
// the approve/reject operations that resolve them.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/taskpilot/taskpilot/internal/extsync"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// TypeAll is the sentinel matching every pending suggestion type.
const TypeAll = "all"

// DefaultBatchConcurrency bounds parallel analyses in AnalyzeBatch.
const DefaultBatchConcurrency = 4

// AnalysisError marks a failed analysis. On this error the task's existing
// suggestions are untouched — there is no partial delete-without-insert.
type AnalysisError struct {
	TaskID string
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for task %s: %v", e.TaskID, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Manager owns the suggestion lifecycle. Suggestion rows for one task are
// only ever mutated under that task's lock, which serializes concurrent
// analyze/approve/reject calls racing on the same task.
type Manager struct {
	store       store.Store
	model       llm.Client
	sync        *extsync.Adapter
	concurrency int

	mu    sync.Mutex
	locks map[string]*sync.Mutex // task id → lock
}

// NewManager wires the suggestion lifecycle manager.
func NewManager(s store.Store, model llm.Client, adapter *extsync.Adapter, concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Manager{
		store:       s,
		model:       model,
		sync:        adapter,
		concurrency: concurrency,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockTask returns the unlock func for the task-scoped mutex.
func (m *Manager) lockTask(taskID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[taskID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ── Analysis ────────────────────────────────────────────────

// llmSuggestion is the structured-output row the model returns.
type llmSuggestion struct {
	Type       string          `json:"type"`
	Current    json.RawMessage `json:"current"`
	Suggested  json.RawMessage `json:"suggested"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
}

type llmAnalysis struct {
	Analysis    string          `json:"analysis"`
	Suggestions []llmSuggestion `json:"suggestions"`
}

// Analyze generates fresh suggestions for one task. The task's PENDING
// suggestions are replaced in a single transaction; resolved suggestions
// are retained for history. Re-running analyze is idempotent in the sense
// that only the latest call's suggestions are ever pending.
func (m *Manager) Analyze(ctx context.Context, userID, taskID string) (*models.TaskAnalysis, error) {
	unlock := m.lockTask(taskID)
	defer unlock()

	task, err := m.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	prompt, err := m.buildPrompt(ctx, task)
	if err != nil {
		return nil, &AnalysisError{TaskID: taskID, Err: err}
	}

	raw, err := m.model.CompleteJSON(ctx, prompt)
	if err != nil {
		return nil, &AnalysisError{TaskID: taskID, Err: err}
	}

	var parsed llmAnalysis
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &AnalysisError{TaskID: taskID, Err: fmt.Errorf("unparsable model output: %w", err)}
	}

	now := time.Now().UTC()
	suggestions := make([]models.Suggestion, 0, len(parsed.Suggestions))
	for _, s := range parsed.Suggestions {
		typ := models.SuggestionType(s.Type)
		if !models.KnownSuggestionType(typ) {
			log.Warn().Str("task", taskID).Str("type", s.Type).Msg("Dropping suggestion of unknown type")
			continue
		}
		confidence := s.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		suggestions = append(suggestions, models.Suggestion{
			ID:             uuid.NewString(),
			TaskID:         taskID,
			Type:           typ,
			CurrentValue:   s.Current,
			SuggestedValue: s.Suggested,
			Reason:         s.Reason,
			Confidence:     confidence,
			Status:         models.SuggestionPending,
			CreatedAt:      now,
		})
	}

	if err := m.store.ReplacePendingSuggestions(ctx, taskID, suggestions); err != nil {
		return nil, &AnalysisError{TaskID: taskID, Err: fmt.Errorf("persist suggestions: %w", err)}
	}

	// stamp analyzed_at from a fresh read: the task may have changed while
	// the model call was in flight, and writing the old snapshot back
	// would revert those changes
	if fresh, err := m.store.GetTask(ctx, userID, taskID); err == nil {
		fresh.AnalyzedAt = &now
		if err := m.store.UpdateTask(ctx, fresh); err != nil {
			log.Error().Err(err).Str("task", taskID).Msg("Failed to stamp analyzed_at")
		}
	} else {
		log.Error().Err(err).Str("task", taskID).Msg("Failed to stamp analyzed_at")
	}

	log.Info().Str("task", taskID).Int("suggestions", len(suggestions)).Msg("Task analyzed")

	return &models.TaskAnalysis{
		TaskID:      taskID,
		Analysis:    parsed.Analysis,
		Suggestions: suggestions,
	}, nil
}

// AnalyzeBatch analyzes each task with bounded concurrency. Failures are
// isolated per task: one failing analysis never aborts or rolls back its
// siblings.
func (m *Manager) AnalyzeBatch(ctx context.Context, userID string, taskIDs []string) *models.BatchResult {
	results := make([]models.BatchItem, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, id := range taskIDs {
		i, id := i, id
		g.Go(func() error {
			analysis, err := m.Analyze(gctx, userID, id)
			if err != nil {
				results[i] = models.BatchItem{TaskID: id, Status: "error", Error: err.Error()}
				return nil // isolation: never fail the group
			}
			results[i] = models.BatchItem{TaskID: id, Status: "ok", Data: analysis}
			return nil
		})
	}
	g.Wait()

	out := &models.BatchResult{Total: len(taskIDs), Results: results}
	for _, r := range results {
		if r.Status == "ok" {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out
}

// GetPending returns the task's pending suggestions, newest first.
func (m *Manager) GetPending(ctx context.Context, userID, taskID string) ([]models.Suggestion, error) {
	if _, err := m.store.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return m.store.ListPendingSuggestions(ctx, taskID)
}

// ── Approve / Reject ────────────────────────────────────────

// Approve applies each matching pending suggestion's value to the task,
// marks it APPROVED, bumps the sync version once, and attempts a
// best-effort external push when the task is linked. No match is a no-op
// informational result, not an error.
func (m *Manager) Approve(ctx context.Context, userID, taskID string, types []string) (*models.ApproveResult, error) {
	unlock := m.lockTask(taskID)
	defer unlock()

	// read inside the lock: applying suggestions writes the whole task
	// back, so a pre-lock snapshot would clobber a concurrent approval
	task, err := m.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	matched, err := m.matchPending(ctx, taskID, types)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return &models.ApproveResult{TaskID: taskID, ApprovedTypes: []string{}, Message: "No pending suggestions to approve"}, nil
	}

	now := time.Now().UTC()
	approvedTypes := make([]string, 0, len(matched))
	for i := range matched {
		s := &matched[i]
		if err := applySuggestion(task, s); err != nil {
			return nil, fmt.Errorf("apply %s suggestion: %w", s.Type, err)
		}
		s.Status = models.SuggestionApproved
		s.ResolvedAt = &now
		s.ResolvedByUser = true
		if err := m.store.UpdateSuggestion(ctx, s); err != nil {
			return nil, fmt.Errorf("resolve suggestion %s: %w", s.ID, err)
		}
		approvedTypes = append(approvedTypes, string(s.Type))
	}

	task.SyncVersion++
	task.LastModifiedAt = now
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	synced := false
	if task.ExternalID != "" && m.sync != nil && m.sync.Enabled() {
		synced = m.sync.Push(ctx, task) == nil
	}

	log.Info().
		Str("task", taskID).
		Strs("types", approvedTypes).
		Bool("synced", synced).
		Msg("Suggestions approved")

	return &models.ApproveResult{
		TaskID:           taskID,
		ApprovedCount:    len(matched),
		ApprovedTypes:    approvedTypes,
		SyncedToExternal: synced,
	}, nil
}

// Reject marks each matching pending suggestion REJECTED. The task's fields
// are never touched.
func (m *Manager) Reject(ctx context.Context, userID, taskID string, types []string) (*models.RejectResult, error) {
	unlock := m.lockTask(taskID)
	defer unlock()

	if _, err := m.store.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}

	matched, err := m.matchPending(ctx, taskID, types)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return &models.RejectResult{TaskID: taskID, RejectedTypes: []string{}, Message: "No pending suggestions to reject"}, nil
	}

	now := time.Now().UTC()
	rejectedTypes := make([]string, 0, len(matched))
	for i := range matched {
		s := &matched[i]
		s.Status = models.SuggestionRejected
		s.ResolvedAt = &now
		s.ResolvedByUser = true
		if err := m.store.UpdateSuggestion(ctx, s); err != nil {
			return nil, fmt.Errorf("resolve suggestion %s: %w", s.ID, err)
		}
		rejectedTypes = append(rejectedTypes, string(s.Type))
	}

	log.Info().Str("task", taskID).Strs("types", rejectedTypes).Msg("Suggestions rejected")

	return &models.RejectResult{
		TaskID:        taskID,
		RejectedCount: len(matched),
		RejectedTypes: rejectedTypes,
	}, nil
}

// matchPending filters the task's pending suggestions by the requested
// types; the "all" sentinel matches everything.
func (m *Manager) matchPending(ctx context.Context, taskID string, types []string) ([]models.Suggestion, error) {
	pending, err := m.store.ListPendingSuggestions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	all := false
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		if t == TypeAll {
			all = true
		}
		wanted[t] = true
	}
	if all {
		return pending, nil
	}
	var matched []models.Suggestion
	for _, s := range pending {
		if wanted[string(s.Type)] {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// applySuggestion mutates exactly the task field named by the suggestion
// type. Approving a quadrant suggestion also clears the unsorted flag.
func applySuggestion(task *models.Task, s *models.Suggestion) error {
	switch s.Type {
	case models.SuggestionPriority:
		var priority int
		if err := json.Unmarshal(s.SuggestedValue, &priority); err != nil {
			return err
		}
		task.Priority = priority
	case models.SuggestionTags:
		var tags []string
		if err := json.Unmarshal(s.SuggestedValue, &tags); err != nil {
			return err
		}
		task.Tags = tags
	case models.SuggestionQuadrant:
		var quadrant string
		if err := json.Unmarshal(s.SuggestedValue, &quadrant); err != nil {
			return err
		}
		task.Quadrant = models.Quadrant(quadrant)
		task.Unsorted = false
	case models.SuggestionStartDate:
		var raw string
		if err := json.Unmarshal(s.SuggestedValue, &raw); err != nil {
			return err
		}
		parsed, err := parseDate(raw)
		if err != nil {
			return err
		}
		task.StartDate = &parsed
	default:
		return errors.New("unknown suggestion type " + string(s.Type))
	}
	return nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", raw)
}
