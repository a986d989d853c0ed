package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/promptqueue/internal/config"
	"github.com/ent0n29/promptqueue/internal/notify"
	"github.com/ent0n29/promptqueue/internal/observability"
	"github.com/ent0n29/promptqueue/internal/queue"
	"github.com/ent0n29/promptqueue/internal/transcript"
)

type Server struct {
	cfg         config.Config
	queue       *queue.Queue
	scheduler   *queue.Scheduler
	hub         *notify.Hub
	transcripts transcript.Store
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, q *queue.Queue, scheduler *queue.Scheduler, hub *notify.Hub, transcripts transcript.Store, metrics *observability.Metrics) *Server {
	if q != nil && hub != nil {
		// request_queued must reach subscribers before any event of the run.
		q.SetEnqueueHook(func(e queue.Entry) {
			hub.PublishQueued(e.ID, e.Position)
		})
	}
	return &Server{
		cfg:         cfg,
		queue:       q,
		scheduler:   scheduler,
		hub:         hub,
		transcripts: transcripts,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may follow another requester's events.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/prompts", s.handleSubmitPrompt)
	r.Get("/v1/prompts/{id}", s.handleGetPrompt)
	r.Get("/v1/queue", s.handleQueueSnapshot)
	r.Post("/v1/queue/limit", s.handleSetLimit)
	r.Get("/v1/users/{id}/transcripts", s.handleUserTranscripts)
	r.Get("/v1/surfaces/{id}", s.handleGetSurface)
	r.Delete("/v1/surfaces/{id}", s.handleDeleteSurface)
	r.Get("/v1/events/ws", s.handleEventsWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"scheduler_running": s.scheduler != nil && s.scheduler.Running(),
		"transcript_store":  s.transcriptStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil || s.scheduler == nil || s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "queue not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"inference_mode":    s.cfg.InferenceMode,
		"concurrency_limit": s.scheduler.ConcurrencyLimit(),
		"transcript_store":  s.transcriptStoreMode(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) transcriptStoreMode() string {
	switch {
	case s.transcripts == nil:
		return "disabled"
	case strings.TrimSpace(s.cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(s.cfg.TranscriptDir) != "":
		return "badger"
	default:
		return "in-memory"
	}
}
