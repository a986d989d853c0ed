package transcript

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transcript not found")

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Transcript records one finished request. It is history only; the live
// queue is never rebuilt from it.
type Transcript struct {
	RequestID   string    `json:"request_id" msgpack:"request_id"`
	UserID      string    `json:"user_id" msgpack:"user_id"`
	DisplayName string    `json:"display_name" msgpack:"display_name"`
	Prompt      string    `json:"prompt" msgpack:"prompt"`
	Response    string    `json:"response" msgpack:"response"`
	Pages       int       `json:"pages" msgpack:"pages"`
	Outcome     Outcome   `json:"outcome" msgpack:"outcome"`
	Error       string    `json:"error,omitempty" msgpack:"error,omitempty"`
	PIIRedacted bool      `json:"pii_redacted" msgpack:"pii_redacted"`
	EnqueuedAt  time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
	CompletedAt time.Time `json:"completed_at" msgpack:"completed_at"`
}

// Store persists transcripts of finished requests.
type Store interface {
	Save(ctx context.Context, t Transcript) error
	Get(ctx context.Context, requestID string) (Transcript, error)
	Recent(ctx context.Context, userID string, limit int) ([]Transcript, error)
	Close() error
}
