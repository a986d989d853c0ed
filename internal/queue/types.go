package queue

import (
	"errors"
	"time"
)

var (
	ErrInvalidID    = errors.New("request id is required")
	ErrDuplicateID  = errors.New("request id already queued")
	ErrUnknownID    = errors.New("request id not queued")
	ErrInvalidState = errors.New("invalid request state")
)

type State string

const (
	StateWaiting    State = "waiting"
	StateProcessing State = "processing"
	StateDone       State = "done"
)

// Payload is carried for the pipeline; the queue never inspects it.
type Payload struct {
	Prompt      string `json:"prompt"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ChannelID   string `json:"channel_id,omitempty"`
}

// Entry is a point-in-time copy of one queued request.
type Entry struct {
	ID         string     `json:"request_id"`
	Payload    Payload    `json:"payload"`
	Position   int        `json:"position"`
	State      State      `json:"state"`
	Surface    string     `json:"surface_id,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	AdmittedAt *time.Time `json:"admitted_at,omitempty"`
}

func (e Entry) Clone() Entry {
	out := e
	if e.AdmittedAt != nil {
		at := *e.AdmittedAt
		out.AdmittedAt = &at
	}
	return out
}
