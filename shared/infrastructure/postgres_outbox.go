package infrastructure

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ events.Outbox = (*PostgresOutbox)(nil)

// OutboxSchema creates the outbox table. Rows are inserted in the same
// transaction as the state change that produced them.
const OutboxSchema = `
CREATE TABLE IF NOT EXISTS outbox_messages (
	id            TEXT PRIMARY KEY,
	aggregate_id  TEXT NOT NULL,
	topic         TEXT NOT NULL,
	payload       JSONB NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	dispatched_at TIMESTAMPTZ,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT
);

ALTER TABLE outbox_messages ADD COLUMN IF NOT EXISTS parked_at TIMESTAMPTZ;
ALTER TABLE outbox_messages ADD COLUMN IF NOT EXISTS claimed_until TIMESTAMPTZ;

DROP INDEX IF EXISTS idx_outbox_messages_pending;
CREATE INDEX IF NOT EXISTS idx_outbox_messages_relay
	ON outbox_messages (attempts, created_at) WHERE dispatched_at IS NULL AND parked_at IS NULL;
`

// DefaultOutboxClaimTTL is how long a fetched batch stays hidden from other relays
const DefaultOutboxClaimTTL = 30 * time.Second

// PostgresOutbox implements events.Outbox using PostgreSQL
type PostgresOutbox struct {
	db       *sqlx.DB
	claimTTL time.Duration
}

// PostgresOutboxOption configures a PostgresOutbox
type PostgresOutboxOption func(*PostgresOutbox)

// WithClaimTTL sets how long fetched messages are reserved for the relay that fetched them
func WithClaimTTL(ttl time.Duration) PostgresOutboxOption {
	return func(o *PostgresOutbox) {
		if ttl > 0 {
			o.claimTTL = ttl
		}
	}
}

// NewPostgresOutbox creates a new PostgresOutbox
func NewPostgresOutbox(db *sqlx.DB, opts ...PostgresOutboxOption) *PostgresOutbox {
	o := &PostgresOutbox{
		db:       db,
		claimTTL: DefaultOutboxClaimTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outboxRow struct {
	ID           string     `db:"id"`
	AggregateID  string     `db:"aggregate_id"`
	Topic        string     `db:"topic"`
	Payload      []byte     `db:"payload"`
	Metadata     []byte     `db:"metadata"`
	CreatedAt    time.Time  `db:"created_at"`
	DispatchedAt *time.Time `db:"dispatched_at"`
	Attempts     int        `db:"attempts"`
	LastError    *string    `db:"last_error"`
}

// SaveInTx records evts inside tx. Message IDs are deterministic, so a row
// that already exists is left untouched.
func (o *PostgresOutbox) SaveInTx(ctx context.Context, tx *sqlx.Tx, evts []*events.Event) error {
	for _, event := range evts {
		row, err := toOutboxRow(event)
		if err != nil {
			return err
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO outbox_messages (id, aggregate_id, topic, payload, metadata, created_at)
			VALUES (:id, :aggregate_id, :topic, :payload, :metadata, :created_at)
			ON CONFLICT (id) DO NOTHING`, row)
		if err != nil {
			return errors.Wrapf(err, "failed to insert outbox message %s", event.ID)
		}
	}

	return nil
}

// FetchPending claims up to limit undispatched, unparked messages, fewest
// attempts first and oldest first within the same attempt count. Claimed rows
// are skipped by concurrent relays until the claim expires or the message is
// marked.
func (o *PostgresOutbox) FetchPending(ctx context.Context, limit int) ([]events.OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET claimed_until = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE dispatched_at IS NULL
				AND parked_at IS NULL
				AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY attempts ASC, created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, topic, payload, metadata, created_at, dispatched_at, attempts, last_error`

	var rows []outboxRow
	if err := o.db.SelectContext(ctx, &rows, query, limit, o.claimTTL.Seconds()); err != nil {
		return nil, errors.Wrap(err, "failed to fetch pending outbox messages")
	}

	// RETURNING does not keep the subquery order
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Attempts != rows[j].Attempts {
			return rows[i].Attempts < rows[j].Attempts
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	messages := make([]events.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// MarkDispatched stamps the given messages as published
func (o *PostgresOutbox) MarkDispatched(ctx context.Context, ids []models.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox_messages SET dispatched_at = $1 WHERE id = ANY($2) AND dispatched_at IS NULL`,
		at.UTC(), pq.Array(raw))
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox messages dispatched")
	}

	return nil
}

// MarkFailed records a failed publish attempt and releases the claim
func (o *PostgresOutbox) MarkFailed(ctx context.Context, id models.ID, reason string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = $2, claimed_until = NULL WHERE id = $1`,
		id.String(), reason)
	if err != nil {
		return errors.Wrapf(err, "failed to record outbox failure for %s", id)
	}

	return nil
}

// MarkParked records the last failed attempt and takes the message out of the relay
func (o *PostgresOutbox) MarkParked(ctx context.Context, id models.ID, reason string, at time.Time) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = $2, parked_at = $3, claimed_until = NULL WHERE id = $1`,
		id.String(), reason, at.UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to park outbox message %s", id)
	}

	return nil
}

func toOutboxRow(event *events.Event) (*outboxRow, error) {
	payload, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event payload")
	}

	metadata, err := json.Marshal(event.WireMetadata())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	return &outboxRow{
		ID:          event.ID.String(),
		AggregateID: event.AggregateID.String(),
		Topic:       event.Topic.String(),
		Payload:     payload,
		Metadata:    metadata,
		CreatedAt:   event.Timestamp.UTC(),
	}, nil
}

func (r outboxRow) toMessage() (events.OutboxMessage, error) {
	var metadata events.Metadata
	if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
		return events.OutboxMessage{}, errors.Wrapf(err, "invalid metadata on outbox message %s", r.ID)
	}

	topic, err := events.NewTopic(r.Topic)
	if err != nil {
		return events.OutboxMessage{}, errors.Wrapf(err, "invalid topic on outbox message %s", r.ID)
	}

	msg := events.OutboxMessage{
		Event:     events.Restore(models.ID(r.ID), topic, json.RawMessage(r.Payload), metadata, r.CreatedAt),
		Attempts:  r.Attempts,
		CreatedAt: r.CreatedAt,
	}
	if r.LastError != nil {
		msg.LastError = *r.LastError
	}

	return msg, nil
}
