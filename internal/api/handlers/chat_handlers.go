package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/api/middleware"
	"github.com/taskpilot/taskpilot/internal/stream"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// SendMessage appends a user message to the thread and streams the turn's
// events back as SSE. The stream closes after the terminal done or error
// event, or after a confirmation-required tool_request suspends the turn.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	userID := middleware.GetUserID(r.Context())

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	events, err := h.loop.RunTurn(r.Context(), threadID, userID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrTurnInProgress), errors.Is(err, agent.ErrAwaitingConfirmation):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondStoreError(w, err)
		}
		return
	}

	enc, err := stream.NewEncoder(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for ev := range events {
		if err := enc.WriteEvent(ev); err != nil {
			// Client went away; the loop notices via request context
			// cancellation and stops producing.
			log.Debug().Err(err).Str("thread", threadID).Msg("Event stream write failed")
			return
		}
	}
}

// ConfirmAction resolves the thread's pending action. Confirm true executes
// the suspended tool and returns its result; confirm false cancels it and
// returns the synthetic cancellation result. Either way the loop resumes
// server-side and the outcome lands on the thread timeline.
func (h *Handlers) ConfirmAction(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var req models.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var result *models.ToolResult
	var err error
	if req.Confirm {
		result, err = h.loop.Confirm(r.Context(), threadID, req.TraceID)
	} else {
		result, err = h.loop.Cancel(r.Context(), threadID, req.TraceID)
	}
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrNoPendingAction):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, agent.ErrTraceMismatch):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, agent.ErrTurnInProgress):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondStoreError(w, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"result":    result,
	})
}

// GetThread returns the thread's full message timeline and pending action.
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.store.GetThread(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, thread)
}
