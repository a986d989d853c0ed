package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/promptqueue/internal/notify"
	"github.com/ent0n29/promptqueue/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 120 * time.Second
	wsPingPeriod   = 30 * time.Second
)

func (s *Server) handleGetSurface(w http.ResponseWriter, r *http.Request) {
	view, err := s.hub.Surface(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSurface(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.DeleteSurface(strings.TrimSpace(chi.URLParam(r, "id"))); err != nil {
		if errors.Is(err, notify.ErrSurfaceUnavailable) {
			respondError(w, http.StatusNotFound, "surface_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEventsWS streams one request's events until a terminal event is sent
// or the client goes away. Clients should connect before submitting so no
// event is missed.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("request_id"))
	if requestID == "" {
		respondError(w, http.StatusBadRequest, "missing_request_id", "query parameter request_id is required")
		return
	}

	// Subscribe before the handshake completes so a client that submits right
	// after dialing cannot miss early events.
	events, unsubscribe := s.hub.Subscribe(requestID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only serve to notice the close and keep pongs flowing.
	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.observeWS(evt.Type, "write_error")
				return
			}
			s.observeWS(evt.Type, "sent")
			if evt.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(evt.Type)),
					time.Now().Add(wsWriteTimeout))
				return
			}
		}
	}
}

func (s *Server) observeWS(t protocol.MessageType, result string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(string(t), result).Inc()
	}
}
