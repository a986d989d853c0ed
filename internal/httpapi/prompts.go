package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/promptqueue/internal/policy"
	"github.com/ent0n29/promptqueue/internal/queue"
	"github.com/ent0n29/promptqueue/internal/transcript"
)

type submitRequest struct {
	ID          string `json:"id,omitempty"`
	Prompt      string `json:"prompt"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Position  int    `json:"position"`
	Ahead     int    `json:"ahead"`
}

type limitRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := policy.CheckPrompt(req.Prompt, s.cfg.MaxPromptRunes); err != nil {
		s.observeEnqueue("rejected")
		status := http.StatusBadRequest
		if errors.Is(err, policy.ErrPromptTooLong) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, "invalid_prompt", err.Error())
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	err := s.queue.Enqueue(id, queue.Payload{
		Prompt:      strings.TrimSpace(req.Prompt),
		UserID:      userID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		ChannelID:   strings.TrimSpace(req.ChannelID),
	})
	switch {
	case errors.Is(err, queue.ErrDuplicateID):
		s.observeEnqueue("duplicate")
		respondError(w, http.StatusConflict, "duplicate_request_id", err.Error())
		return
	case errors.Is(err, queue.ErrInvalidID):
		s.observeEnqueue("rejected")
		respondError(w, http.StatusBadRequest, "invalid_request_id", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}
	s.observeEnqueue("accepted")

	// The entry may already be admitted or even retired by the time we look.
	position := 0
	if entry, err := s.queue.Get(id); err == nil {
		position = entry.Position
	}
	log.Printf("httpapi: queued request %s for %s at position %d prompt=%q", id, userID, position, policy.LogSafe(req.Prompt, 80))

	ahead := position - s.scheduler.ConcurrencyLimit()
	if ahead < 0 {
		ahead = 0
	}
	respondJSON(w, http.StatusAccepted, submitResponse{RequestID: id, Position: position, Ahead: ahead})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if entry, err := s.queue.Get(id); err == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"source": "queue",
			"entry":  entry,
		})
		return
	}
	if s.transcripts != nil {
		t, err := s.transcripts.Get(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, map[string]any{
				"source":     "transcript",
				"transcript": t,
			})
			return
		}
		if !errors.Is(err, transcript.ErrNotFound) {
			respondError(w, http.StatusInternalServerError, "transcript_lookup_failed", err.Error())
			return
		}
	}
	respondError(w, http.StatusNotFound, "request_not_found", "unknown request id")
}

func (s *Server) handleQueueSnapshot(w http.ResponseWriter, _ *http.Request) {
	entries := s.queue.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"concurrency_limit": s.scheduler.ConcurrencyLimit(),
		"scheduler_running": s.scheduler.Running(),
		"processing":        s.queue.CountProcessing(),
		"entries":           entries,
	})
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be positive")
		return
	}
	s.scheduler.SetConcurrencyLimit(req.Limit)
	respondJSON(w, http.StatusOK, map[string]any{
		"concurrency_limit": s.scheduler.ConcurrencyLimit(),
	})
}

func (s *Server) handleUserTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := s.transcripts.Recent(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_lookup_failed", err.Error())
		return
	}
	if items == nil {
		items = []transcript.Transcript{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"transcripts": items,
	})
}

func (s *Server) observeEnqueue(result string) {
	if s.metrics != nil {
		s.metrics.Enqueues.WithLabelValues(result).Inc()
	}
}
