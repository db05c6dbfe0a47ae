// Package schema creates and migrates the per-queue table, its indexes,
// and its notification trigger (spec §4.2).
package schema

import (
	"context"
	"fmt"

	"github.com/systeric/pgqueue/qerr"
	"github.com/systeric/pgqueue/storage"
)

// Manager owns schema lifecycle for one queue.
type Manager struct {
	db        storage.Querier
	table     string
	channel   string
	queueName string
}

// NewManager builds a Manager for queueName against db (typically the
// adapter's own pool).
func NewManager(db storage.Querier, queueName string) (*Manager, error) {
	table, err := storage.TableName(queueName)
	if err != nil {
		return nil, qerr.Wrap(qerr.Validation, err)
	}
	return &Manager{
		db:        db,
		table:     table,
		channel:   storage.ChannelName(table),
		queueName: queueName,
	}, nil
}

// EnsureTable creates the queue's table, indexes and notification
// trigger if they do not already exist, in a single transaction. It is
// safe to call on an already-initialized schema.
//
// Because storage.Querier does not expose transaction control directly
// (it is satisfied by pgx.Tx itself, among others), EnsureTable wraps
// its DDL in an explicit BEGIN/COMMIT pair issued as plain statements.
// Against a Querier that is already inside a caller's transaction, the
// script's BEGIN does not open a new transaction and its COMMIT ends the
// caller's; callers run EnsureTable standalone, against a pool, at
// queue-creation time.
func (m *Manager) EnsureTable(ctx context.Context) error {
	script := m.generate()
	if _, err := m.db.Exec(ctx, script); err != nil {
		return qerr.Wrap(qerr.StorageFault, fmt.Errorf("schema: ensure table %s: %w", m.table, err))
	}
	return nil
}

// GenerateMigration returns the complete schema-creation script as text,
// for callers that prefer to run migrations out-of-band rather than call
// EnsureTable at startup (spec §4.2 "Migration mode").
func GenerateMigration(queueName string) (string, error) {
	m, err := NewManager(nil, queueName)
	if err != nil {
		return "", err
	}
	return m.generate(), nil
}

func (m *Manager) generate() string {
	return fmt.Sprintf(`
BEGIN;

CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	type TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'DEAD_LETTER')),
	priority INT NOT NULL DEFAULT 5,
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL DEFAULT 3,
	last_error TEXT,
	next_retry_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- now() is not IMMUTABLE, so the retry-eligibility half of "claimable"
-- cannot be folded into this predicate; the status_idx and retry_idx
-- below carry that half of the filtering for promote-retries instead.
CREATE INDEX IF NOT EXISTS %[1]s_claimable_idx ON %[1]s (priority ASC, created_at ASC)
	WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status);

CREATE INDEX IF NOT EXISTS %[1]s_retry_idx ON %[1]s (status, next_retry_at);

CREATE INDEX IF NOT EXISTS %[1]s_stale_idx ON %[1]s (status, updated_at);

CREATE OR REPLACE FUNCTION %[1]s_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%[2]s', NEW.id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS %[1]s_notify_trigger ON %[1]s;

CREATE TRIGGER %[1]s_notify_trigger
	AFTER INSERT ON %[1]s
	FOR EACH ROW
	WHEN (NEW.status = 'PENDING')
	EXECUTE FUNCTION %[1]s_notify();

COMMIT;
`, m.table, m.channel)
}

// Table returns the table identifier this manager administers.
func (m *Manager) Table() string { return m.table }

// Channel returns the notification channel name this manager wires the
// trigger to.
func (m *Manager) Channel() string { return m.channel }
