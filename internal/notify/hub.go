package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/promptqueue/internal/protocol"
)

const subscriberBuffer = 256

type surface struct {
	id        string
	requestID string
	title     string
	units     []string
	closed    bool
	deleted   bool
	failure   string
	createdAt time.Time
	closedAt  time.Time
}

type unit struct {
	id      string
	surface string
	index   int
	text    string
}

// SurfaceView is a read-only copy of a surface and its pages.
type SurfaceView struct {
	ID        string    `json:"surface_id"`
	RequestID string    `json:"request_id"`
	Title     string    `json:"title"`
	Pages     []string  `json:"pages"`
	Closed    bool      `json:"closed"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Hub is the in-process Sink. It keeps surfaces in memory and fans every
// event out to websocket subscribers of the owning request.
type Hub struct {
	mu          sync.Mutex
	surfaces    map[string]*surface
	units       map[string]*unit
	byRequest   map[string]string
	subscribers map[string]map[int]chan protocol.Event
	nextSubID   int
}

func NewHub() *Hub {
	return &Hub{
		surfaces:    make(map[string]*surface),
		units:       make(map[string]*unit),
		byRequest:   make(map[string]string),
		subscribers: make(map[string]map[int]chan protocol.Event),
	}
}

// Subscribe streams events for one request until the returned func is called.
func (h *Hub) Subscribe(requestID string) (<-chan protocol.Event, func()) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		ch := make(chan protocol.Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan protocol.Event, subscriberBuffer)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[requestID]; !ok {
		h.subscribers[requestID] = make(map[int]chan protocol.Event)
	}
	h.subscribers[requestID][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[requestID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, requestID)
		}
	}
}

// PublishQueued announces a newly enqueued request and its starting position.
func (h *Hub) PublishQueued(requestID string, position int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(protocol.Event{
		Type:      protocol.TypeRequestQueued,
		RequestID: requestID,
		Position:  position,
	})
}

func (h *Hub) CreateSurface(_ context.Context, requestID, title string) (string, error) {
	if strings.TrimSpace(requestID) == "" {
		return "", fmt.Errorf("create surface: request id is required")
	}
	s := &surface{
		id:        uuid.NewString(),
		requestID: requestID,
		title:     title,
		createdAt: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.surfaces[s.id] = s
	h.byRequest[requestID] = s.id
	h.publishLocked(protocol.Event{
		Type:      protocol.TypeSurfaceCreated,
		RequestID: requestID,
		SurfaceID: s.id,
		Title:     title,
	})
	return s.id, nil
}

func (h *Hub) PublishPage(_ context.Context, surfaceID string, index int, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[surfaceID]
	if !ok || s.deleted {
		return "", fmt.Errorf("publish page %d: %w", index, ErrSurfaceUnavailable)
	}
	if index != len(s.units) {
		return "", fmt.Errorf("publish page %d: surface has %d pages", index, len(s.units))
	}
	u := &unit{id: uuid.NewString(), surface: s.id, index: index, text: text}
	h.units[u.id] = u
	s.units = append(s.units, u.id)
	h.publishLocked(protocol.Event{
		Type:      protocol.TypePagePublished,
		RequestID: s.requestID,
		SurfaceID: s.id,
		UnitID:    u.id,
		Index:     index,
		Text:      text,
	})
	return u.id, nil
}

func (h *Hub) UpdatePage(_ context.Context, unitID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.units[unitID]
	if !ok {
		return fmt.Errorf("update page %s: %w", unitID, ErrSurfaceUnavailable)
	}
	s, ok := h.surfaces[u.surface]
	if !ok || s.deleted {
		return fmt.Errorf("update page %s: %w", unitID, ErrSurfaceUnavailable)
	}
	u.text = text
	h.publishLocked(protocol.Event{
		Type:      protocol.TypePageUpdated,
		RequestID: s.requestID,
		SurfaceID: s.id,
		UnitID:    u.id,
		Index:     u.index,
		Text:      text,
	})
	return nil
}

func (h *Hub) CloseWorkingIndicator(_ context.Context, requestID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	evt := protocol.Event{Type: protocol.TypeWorkingClosed, RequestID: requestID}
	if s, ok := h.surfaces[h.byRequest[requestID]]; ok {
		if s.deleted {
			return fmt.Errorf("close working indicator: %w", ErrSurfaceUnavailable)
		}
		s.closed = true
		s.closedAt = time.Now().UTC()
		evt.SurfaceID = s.id
	}
	h.publishLocked(evt)
	return nil
}

// ReportFailure always reaches the request's subscribers; the surface only
// records the message when it is still available.
func (h *Hub) ReportFailure(_ context.Context, target Target, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	evt := protocol.Event{
		Type:      protocol.TypeRequestFailed,
		RequestID: target.RequestID,
		Message:   message,
	}
	if s, ok := h.surfaces[target.Surface]; ok && !s.deleted {
		s.failure = message
		s.closed = true
		s.closedAt = time.Now().UTC()
		evt.SurfaceID = s.id
	}
	h.publishLocked(evt)
	return nil
}

func (h *Hub) UpdatePosition(_ context.Context, requestID string, ahead int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(protocol.Event{
		Type:      protocol.TypeQueuePosition,
		RequestID: requestID,
		Ahead:     ahead,
	})
	return nil
}

// DeleteSurface simulates the surface being removed out from under a running
// request. Later publishes fail with ErrSurfaceUnavailable.
func (h *Hub) DeleteSurface(surfaceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[surfaceID]
	if !ok || s.deleted {
		return fmt.Errorf("delete surface %s: %w", surfaceID, ErrSurfaceUnavailable)
	}
	s.deleted = true
	for _, id := range s.units {
		delete(h.units, id)
	}
	s.units = nil
	return nil
}

func (h *Hub) Surface(surfaceID string) (SurfaceView, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[surfaceID]
	if !ok || s.deleted {
		return SurfaceView{}, ErrSurfaceUnavailable
	}
	view := SurfaceView{
		ID:        s.id,
		RequestID: s.requestID,
		Title:     s.title,
		Pages:     make([]string, 0, len(s.units)),
		Closed:    s.closed,
		Failure:   s.failure,
		CreatedAt: s.createdAt,
	}
	for _, id := range s.units {
		view.Pages = append(view.Pages, h.units[id].text)
	}
	return view, nil
}

// StartJanitor drops closed or deleted surfaces older than retention.
func (h *Hub) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.expire(time.Now().UTC().Add(-retention))
			}
		}
	}()
}

func (h *Hub) expire(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, s := range h.surfaces {
		finished := s.deleted || s.closed
		last := s.closedAt
		if last.IsZero() {
			last = s.createdAt
		}
		if !finished || last.After(cutoff) {
			continue
		}
		for _, uid := range s.units {
			delete(h.units, uid)
		}
		delete(h.surfaces, id)
		if h.byRequest[s.requestID] == id {
			delete(h.byRequest, s.requestID)
		}
		removed++
	}
	return removed
}

func (h *Hub) publishLocked(evt protocol.Event) {
	if evt.TSMs == 0 {
		evt.TSMs = time.Now().UTC().UnixMilli()
	}
	subs := h.subscribers[evt.RequestID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
