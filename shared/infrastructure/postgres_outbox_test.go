package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/greenpath/lawn-platform/shared/events"
	"github.com/greenpath/lawn-platform/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "postgres"), mock
}

var outboxColumns = []string{"id", "aggregate_id", "topic", "payload", "metadata", "created_at", "dispatched_at", "attempts", "last_error"}

func TestPostgresOutbox_SaveInTx(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)

	ts := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	evt := newCommand(1).WithID("11111111-1111-5111-8111-111111111111").WithTimestamp(ts)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(evt.ID.String(), "E1", "job.create.requested", sqlmock.AnyArg(), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, outbox.SaveInTx(context.Background(), tx, []*events.Event{evt}))
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_SaveInTxPropagatesErrors(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_messages").WillReturnError(boom)
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)

	err = outbox.SaveInTx(context.Background(), tx, []*events.Event{newCommand(1)})
	assert.Equal(t, boom, errors.Cause(err))
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_FetchPending(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)
	created := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	metadata := []byte(`{"correlation_id":"E1","aggregate_id":"E1","schema_version":"1.0","tenant_id":"t1"}`)

	mock.ExpectQuery(`UPDATE outbox_messages\s+SET claimed_until(.|\n)*FOR UPDATE SKIP LOCKED(.|\n)*RETURNING`).
		WithArgs(50, DefaultOutboxClaimTTL.Seconds()).
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow("m1", "E1", "job.create.requested",
				[]byte(`{"estimate_id":"E1","customer_id":"C1"}`), metadata,
				created, nil, 2, "throttled").
			AddRow("m2", "E2", "job.create.requested",
				[]byte(`{"estimate_id":"E2","customer_id":"C2"}`), metadata,
				created.Add(time.Minute), nil, 0, nil))

	msgs, err := outbox.FetchPending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, models.ID("m2"), msgs[0].Event.ID, "fresh messages come before retried ones")

	msg := msgs[1]
	assert.Equal(t, 2, msg.Attempts)
	assert.Equal(t, "throttled", msg.LastError)
	assert.Equal(t, models.ID("m1"), msg.Event.ID)
	assert.Equal(t, models.ID("E1"), msg.Event.CorrelationID)
	assert.Equal(t, events.CreateJobTopic, msg.Event.Topic)
	assert.Equal(t, created, msg.Event.Timestamp)

	var cmd events.CreateJobCommand
	require.NoError(t, msg.Event.UnmarshalPayload(&cmd))
	assert.Equal(t, models.ID("C1"), cmd.CustomerID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_FetchPendingWithClaimTTL(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db, WithClaimTTL(2*time.Minute))

	mock.ExpectQuery("UPDATE outbox_messages").
		WithArgs(10, 120.0).
		WillReturnRows(sqlmock.NewRows(outboxColumns))

	msgs, err := outbox.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_MarkDispatched(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE outbox_messages SET dispatched_at").
		WithArgs(at, pq.Array([]string{"m1", "m2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, outbox.MarkDispatched(context.Background(), []models.ID{"m1", "m2"}, at))
	require.NoError(t, outbox.MarkDispatched(context.Background(), nil, at))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_MarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)

	mock.ExpectExec("UPDATE outbox_messages SET attempts").
		WithArgs("m1", "SNS rejected 1 of 1 entries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, outbox.MarkFailed(context.Background(), "m1", "SNS rejected 1 of 1 entries"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutbox_MarkParked(t *testing.T) {
	db, mock := newMockDB(t)
	outbox := NewPostgresOutbox(db)
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE outbox_messages SET attempts = attempts \\+ 1, last_error = \\$2, parked_at").
		WithArgs("m1", "topic not found", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, outbox.MarkParked(context.Background(), "m1", "topic not found", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
