// Package idempotency guarantees that a named operation runs at most
// once per key within a time window, even across process restarts,
// duplicate message deliveries, or concurrent invocations (spec §4.6).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/systeric/pgqueue/qerr"
	"github.com/systeric/pgqueue/storage"
)

const uniqueViolation = "23505"

// TableName is the fixed table name for the idempotency record store,
// shared across every queue in a database (the key space is global, not
// per-queue, since an idempotency key is meaningful across the whole
// application).
const TableName = "systeric_pgqueue_idempotency"

// Result is what the first executor of a key stores, and what later
// callers observing a completed claim receive back.
type Result struct {
	First bool
	Value json.RawMessage
}

// Store implements the claim/execute/cleanup/invalidate protocol against
// TableName.
type Store struct {
	db storage.Querier
}

// New wraps db (the adapter's pool, or a caller-supplied transaction) as
// a Store. Passing a pgx.Tx makes the claim and the result write
// participate in the caller's transaction, so a rolled-back transaction
// also releases the idempotency claim (spec §4.6 "Integration with
// transactions").
func New(db storage.Querier) *Store {
	return &Store{db: db}
}

// EnsureTable creates the idempotency table and its expiry index if they
// do not already exist. Safe to call repeatedly.
func EnsureTable(ctx context.Context, db storage.Querier) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+TableName+` (
			idempotency_key TEXT PRIMARY KEY,
			result JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return qerr.Wrap(qerr.StorageFault, err)
	}
	_, err = db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS `+TableName+`_expires_at_idx ON `+TableName+` (expires_at)
	`)
	if err != nil {
		return qerr.Wrap(qerr.StorageFault, err)
	}
	return nil
}

// Op is the caller-supplied unit of work whose effect Execute
// deduplicates by key.
type Op func(ctx context.Context) (json.RawMessage, error)

// Execute implements the claim protocol of spec §4.6. On the first
// invocation for key within its TTL, op runs and its result is cached;
// every subsequent call within the TTL returns the cached result without
// rerunning op, or fails with ErrInProcess while no result is stored
// (op still running, or op failed and the claim was kept).
func (s *Store) Execute(ctx context.Context, key string, ttl time.Duration, op Op) (Result, error) {
	if len(key) == 0 || len(key) > 255 {
		return Result{}, qerr.Wrap(qerr.Validation, errors.New("idempotency: key must be 1-255 bytes"))
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO `+TableName+` (idempotency_key, result, expires_at)
		VALUES ($1, NULL, now() + ($2::float8 * INTERVAL '1 second'))
	`, key, ttl.Seconds())
	if err == nil {
		// We claimed it: we are the first executor.
		value, opErr := op(ctx)
		if opErr != nil {
			// Per spec, the claim stays in place with result still null;
			// callers who want the slot freed must call Invalidate.
			return Result{}, opErr
		}
		if _, err := s.db.Exec(ctx, `
			UPDATE `+TableName+` SET result = $2 WHERE idempotency_key = $1
		`, key, []byte(value)); err != nil {
			return Result{}, qerr.Wrap(qerr.StorageFault, err)
		}
		return Result{First: true, Value: value}, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return Result{}, qerr.Wrap(qerr.ClaimFailure, err)
	}

	// Not the first executor: read back the existing claim.
	var result []byte
	row := s.db.QueryRow(ctx, `
		SELECT result FROM `+TableName+` WHERE idempotency_key = $1
	`, key)
	switch scanErr := row.Scan(&result); {
	case scanErr == nil:
		if result == nil {
			return Result{}, qerr.ErrInProcess
		}
		return Result{First: false, Value: json.RawMessage(result)}, nil
	case errors.Is(scanErr, pgx.ErrNoRows):
		// The row expired and was cleaned between our insert attempt
		// and this select; the caller should retry the claim.
		return Result{}, qerr.ErrUniqueConstraint
	default:
		return Result{}, qerr.Wrap(qerr.StorageFault, scanErr)
	}
}

// Invalidate removes key's claim unconditionally, administrative use,
// e.g. to let a failed op be retried immediately rather than waiting out
// its TTL.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM `+TableName+` WHERE idempotency_key = $1`, key)
	if err != nil {
		return qerr.Wrap(qerr.StorageFault, err)
	}
	return nil
}

// Cleanup removes every row whose expires_at has elapsed and returns the
// count removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+TableName+` WHERE expires_at <= now()`)
	if err != nil {
		return 0, qerr.Wrap(qerr.StorageFault, err)
	}
	return tag.RowsAffected(), nil
}
