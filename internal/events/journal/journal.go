// Package journal records the outcome of every consumed bus delivery in Postgres.
package journal

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// Outcome values recorded for a delivery.
const (
	OutcomeAcked    = "acked"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeRequeued = "requeued"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS event_journal (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	routing_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
)`

// Entry is one settled delivery.
type Entry struct {
	Queue      string
	RoutingKey string
	EventType  string
	Outcome    string
	Reason     string
	Body       []byte
	ReceivedAt time.Time
}

// Journal writes entries to the event_journal table.
type Journal struct {
	db *sql.DB
}

// New returns a journal backed by db.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// EnsureSchema creates the event_journal table if it does not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	wrapMsg := "unable to create the event journal table"

	if _, err := j.db.ExecContext(ctx, createTableSQL); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// Record inserts a single entry into the journal.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	wrapMsg := "unable to record the delivery"

	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	// Build the insert statement.
	statement, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("event_journal").
		Columns(
			"queue",
			"routing_key",
			"event_type",
			"outcome",
			"reason",
			"body",
			"received_at").
		Values(
			entry.Queue,
			entry.RoutingKey,
			entry.EventType,
			entry.Outcome,
			entry.Reason,
			string(entry.Body),
			receivedAt.UTC()).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	// Execute the statement and verify that exactly one row was written.
	result, err := j.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if rowsAffected != 1 {
		return errors.Errorf("%s: unexpected number of rows affected: %d", wrapMsg, rowsAffected)
	}

	return nil
}
