package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket event variants.
type MessageType string

const (
	TypeRequestQueued  MessageType = "request_queued"
	TypeQueuePosition  MessageType = "queue_position"
	TypeSurfaceCreated MessageType = "surface_created"
	TypePagePublished  MessageType = "page_published"
	TypePageUpdated    MessageType = "page_updated"
	TypeWorkingClosed  MessageType = "working_closed"
	TypeRequestFailed  MessageType = "request_failed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Event is the single wire shape for everything the hub publishes. Fields
// that do not apply to a type are omitted.
type Event struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	SurfaceID string      `json:"surface_id,omitempty"`
	UnitID    string      `json:"unit_id,omitempty"`
	Title     string      `json:"title,omitempty"`
	Index     int         `json:"index,omitempty"`
	Text      string      `json:"text,omitempty"`
	Position  int         `json:"position,omitempty"`
	Ahead     int         `json:"ahead,omitempty"`
	Message   string      `json:"message,omitempty"`
	TSMs      int64       `json:"ts_ms"`
}

// Terminal reports whether no further events follow for the request.
func (e Event) Terminal() bool {
	return e.Type == TypeWorkingClosed || e.Type == TypeRequestFailed
}

func ParseEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRequestQueued, TypeQueuePosition, TypeSurfaceCreated, TypeWorkingClosed, TypeRequestFailed:
	case TypePagePublished, TypePageUpdated:
	default:
		return Event{}, ErrUnsupportedType
	}

	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, err
	}
	if evt.RequestID == "" {
		return Event{}, fmt.Errorf("invalid %s: request_id is required", evt.Type)
	}
	if (evt.Type == TypePagePublished || evt.Type == TypePageUpdated) && evt.UnitID == "" {
		return Event{}, fmt.Errorf("invalid %s: unit_id is required", evt.Type)
	}
	return evt, nil
}
