package events

import (
	"context"
	"time"

	"github.com/greenpath/lawn-platform/shared/models"
)

// OutboxMessage is an event recorded alongside a state change and awaiting dispatch
type OutboxMessage struct {
	Event     *Event
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Outbox exposes the pending side of a transactional outbox to the relay.
// FetchPending returns messages with the fewest failed attempts first so a
// message that keeps failing never starves newer ones.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, ids []models.ID, at time.Time) error
	MarkFailed(ctx context.Context, id models.ID, reason string) error
	// MarkParked records a final failed attempt and stops relaying the message
	MarkParked(ctx context.Context, id models.ID, reason string, at time.Time) error
}

// DeadLetter is a message that exhausted its retries. Event is nil when the
// body could not be decoded; Body then carries the raw message.
type DeadLetter struct {
	Event    *Event    `json:"event,omitempty"`
	Body     string    `json:"body,omitempty"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterQueue parks messages for manual inspection
type DeadLetterQueue interface {
	Send(ctx context.Context, letter DeadLetter) error
}
