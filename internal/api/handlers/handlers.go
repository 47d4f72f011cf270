// Package handlers implements the HTTP API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/api/middleware"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/internal/suggest"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// Handlers holds dependencies for the HTTP endpoints.
type Handlers struct {
	store   store.Store
	loop    *agent.Loop
	suggest *suggest.Manager
	version string
}

// New creates a Handlers with all dependencies wired.
func New(s store.Store, loop *agent.Loop, mgr *suggest.Manager, version string) *Handlers {
	return &Handlers{
		store:   s,
		loop:    loop,
		suggest: mgr,
		version: version,
	}
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps storage-layer failures onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, nf.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// ── Health ──────────────────────────────────────────────────

// Health reports liveness plus store reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status})
}

// Version returns the build version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// ── Tasks ───────────────────────────────────────────────────

// ListTasks returns the acting user's tasks with optional filters.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	filter := store.TaskFilter{Query: r.URL.Query().Get("q")}
	if q := r.URL.Query().Get("quadrant"); q != "" {
		filter.Quadrant = models.Quadrant(q)
	}
	switch r.URL.Query().Get("completed") {
	case "true":
		v := true
		filter.Completed = &v
	case "false":
		v := false
		filter.Completed = &v
	}

	tasks, err := h.store.ListTasks(r.Context(), userID, filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// GetTask returns one task by id.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	task, err := h.store.GetTask(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// ── Suggestions ─────────────────────────────────────────────

// AnalyzeTask runs suggestion analysis for one task. Re-running replaces the
// task's pending suggestions with the fresh batch.
func (h *Handlers) AnalyzeTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID := chi.URLParam(r, "taskID")

	analysis, err := h.suggest.Analyze(r.Context(), userID, taskID)
	if err != nil {
		var ae *suggest.AnalysisError
		if errors.As(err, &ae) {
			respondError(w, http.StatusInternalServerError, ae.Error())
			return
		}
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

// AnalyzeBatch runs analysis over several tasks with bounded concurrency.
// Always 200: per-task outcomes are reported in the body.
func (h *Handlers) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.TaskIDs) == 0 {
		respondError(w, http.StatusBadRequest, "task_ids is required")
		return
	}

	respondJSON(w, http.StatusOK, h.suggest.AnalyzeBatch(r.Context(), userID, req.TaskIDs))
}

// GetSuggestions returns a task's pending suggestions, newest first.
func (h *Handlers) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID := chi.URLParam(r, "taskID")

	suggestions, err := h.suggest.GetPending(r.Context(), userID, taskID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":     taskID,
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// ApproveSuggestions applies the selected pending suggestions to the task.
func (h *Handlers) ApproveSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID := chi.URLParam(r, "taskID")

	types, ok := decodeSuggestionTypes(w, r)
	if !ok {
		return
	}

	result, err := h.suggest.Approve(r.Context(), userID, taskID, types)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RejectSuggestions marks the selected pending suggestions rejected without
// touching the task.
func (h *Handlers) RejectSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID := chi.URLParam(r, "taskID")

	types, ok := decodeSuggestionTypes(w, r)
	if !ok {
		return
	}

	result, err := h.suggest.Reject(r.Context(), userID, taskID, types)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func decodeSuggestionTypes(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req models.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if len(req.SuggestionTypes) == 0 {
		respondError(w, http.StatusBadRequest, "suggestion_types is required")
		return nil, false
	}
	for _, t := range req.SuggestionTypes {
		if t != suggest.TypeAll && !models.KnownSuggestionType(models.SuggestionType(t)) {
			respondError(w, http.StatusBadRequest, "Unknown suggestion type: "+t)
			return nil, false
		}
	}
	return req.SuggestionTypes, true
}
