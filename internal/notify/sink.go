package notify

import (
	"context"
	"errors"
)

// ErrSurfaceUnavailable means the output surface was deleted or never
// existed, so nothing more can be published to it.
var ErrSurfaceUnavailable = errors.New("output surface unavailable")

// Target addresses a failure report: the surface when one exists, otherwise
// the original request.
type Target struct {
	RequestID string
	Surface   string
}

// Sink is where responses are delivered. Implementations must be safe for
// concurrent use by independent requests.
type Sink interface {
	CreateSurface(ctx context.Context, requestID, title string) (string, error)
	PublishPage(ctx context.Context, surface string, index int, text string) (string, error)
	UpdatePage(ctx context.Context, unit, text string) error
	CloseWorkingIndicator(ctx context.Context, requestID string) error
	ReportFailure(ctx context.Context, target Target, message string) error
	UpdatePosition(ctx context.Context, requestID string, ahead int) error
}
