// Package storage translates message-model operations into statements
// against one PostgreSQL table per queue (spec §4.1).
//
// Adapter owns the table identified by Table() and implements every
// primitive the consumption loop and the public facade need: InsertOne,
// ClaimNext, Ack, Nack, ManualRetry, the two sweepers, point and filtered
// reads, Stats, and the two cleanup operations.
//
// Claiming the next eligible row is the only operation where multiple
// actors contend for the same rows. Correctness there rests on ordered
// selection, an exclusive row lock, SKIP LOCKED, and the fact that the
// claiming UPDATE is itself a single, implicitly-transactional statement:
// there is no window between "select" and "lock" for a second claimer to
// observe the same row as eligible.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
)

const uniqueViolation = "23505"

// Adapter is the PostgreSQL-backed storage adapter for a single queue.
type Adapter struct {
	pool    *pgxpool.Pool
	table   string
	channel string
}

// NewAdapter creates an Adapter for the given queue name. The queue name
// is validated and turned into the table/channel identifiers the rest of
// the adapter composes SQL from.
func NewAdapter(pool *pgxpool.Pool, queueName string) (*Adapter, error) {
	table, err := TableName(queueName)
	if err != nil {
		return nil, qerr.New(qerr.Validation, err.Error(), err)
	}
	return &Adapter{pool: pool, table: table, channel: ChannelName(table)}, nil
}

// Table returns the per-queue table identifier this adapter owns.
func (a *Adapter) Table() string { return a.table }

// Channel returns the per-queue notification channel name.
func (a *Adapter) Channel() string { return a.channel }

// Pool returns the adapter's pool, for callers (the schema manager, the
// idempotency store) that share it.
func (a *Adapter) Pool() *pgxpool.Pool { return a.pool }

func storageFault(err error) error {
	return qerr.Wrap(qerr.StorageFault, err)
}

// InsertOne persists msg via db, which may be the adapter's own pool or a
// caller-supplied transaction (spec §4.1 "Transactional enqueue"). The
// per-queue AFTER INSERT trigger fires pg_notify synchronously for rows
// inserted as Pending; if db is a transaction, that notification becomes
// visible to LISTENers only once the transaction commits.
func (a *Adapter) InsertOne(ctx context.Context, db Querier, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return qerr.Wrap(qerr.Validation, err)
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (id, type, payload, status, priority, retry_count, max_retries, last_error, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
	`, a.table)
	_, err := db.Exec(ctx, sql,
		msg.Id, msg.Type, []byte(msg.Payload), msg.Status.String(), msg.Priority,
		msg.RetryCount, msg.MaxRetries, msg.LastError, msg.NextRetryAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return qerr.Wrap(qerr.DuplicateID, err)
		}
		return storageFault(err)
	}
	return nil
}

// ClaimNext atomically selects the highest-priority, oldest eligible
// Pending row, skipping rows already locked by other claimants, and
// transitions it to Processing. It returns (nil, nil) if no row is
// currently claimable.
func (a *Adapter) ClaimNext(ctx context.Context) (*message.Message, error) {
	sql := fmt.Sprintf(`
		UPDATE %s SET status = 'PROCESSING', updated_at = now()
		WHERE id = (
			SELECT id FROM %s
			WHERE status = 'PENDING'
			ORDER BY priority ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s
	`, a.table, a.table, columns)
	row := a.pool.QueryRow(ctx, sql)
	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageFault(err)
	}
	return msg, nil
}

// Ack transitions id from Processing to Completed. If a concurrent
// sweeper has already reset the row to Pending, the update matches zero
// rows; per spec §4.1 this is tolerated silently, not surfaced as an
// error, because the message will simply be reprocessed.
func (a *Adapter) Ack(ctx context.Context, id uuid.UUID) error {
	sql := fmt.Sprintf(`
		UPDATE %s SET status = 'COMPLETED', updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`, a.table)
	if _, err := a.pool.Exec(ctx, sql, id); err != nil {
		return storageFault(err)
	}
	return nil
}

// Nack increments retry_count and, depending on whether the retry budget
// is exhausted, either dead-letters the message or schedules it for
// retry with exponential backoff (spec §4.1). The update is guarded by
// WHERE status = 'PROCESSING'; a guard miss means the row was already
// reclaimed and returns a RaceLost-coded error.
//
// The CASE expressions below read retry_count and max_retries as they
// stood before this statement's own increment — standard PostgreSQL
// UPDATE semantics evaluate every SET expression against the pre-update
// row — so "retry_count" in next_retry_at's expression is exactly k-1 for
// the new retry count k, matching backoff(k) = min(2^(k-1)s, 60s).
func (a *Adapter) Nack(ctx context.Context, id uuid.UUID, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET
			retry_count = retry_count + 1,
			last_error = $2,
			status = CASE WHEN retry_count + 1 > max_retries THEN 'DEAD_LETTER' ELSE 'FAILED' END,
			next_retry_at = CASE WHEN retry_count + 1 > max_retries THEN NULL
				ELSE now() + (LEAST(POWER(2, retry_count), %f) * INTERVAL '1 second') END,
			updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`, a.table, maxBackoff.Seconds())
	tag, err := a.pool.Exec(ctx, sql, id, lastError)
	if err != nil {
		return storageFault(err)
	}
	if !isAffected(tag) {
		return qerr.ErrRaceLost
	}
	return nil
}

// ManualRetry resets id to Pending regardless of its prior status
// (including DeadLetter), clearing retry_count, last_error and
// next_retry_at.
func (a *Adapter) ManualRetry(ctx context.Context, id uuid.UUID) error {
	sql := fmt.Sprintf(`
		UPDATE %s SET
			status = 'PENDING',
			retry_count = 0,
			last_error = NULL,
			next_retry_at = NULL,
			updated_at = now()
		WHERE id = $1
	`, a.table)
	tag, err := a.pool.Exec(ctx, sql, id)
	if err != nil {
		return storageFault(err)
	}
	if !isAffected(tag) {
		return qerr.ErrNotFound
	}
	return nil
}

// ResetStale resets all Processing rows whose updated_at is older than
// now - visibilityTimeout back to Pending, the crash-recovery primitive
// of spec §4.1. It returns the number of rows reset.
func (a *Adapter) ResetStale(ctx context.Context, visibilityTimeout time.Duration) (int64, error) {
	sql := fmt.Sprintf(`
		UPDATE %s SET status = 'PENDING', updated_at = now()
		WHERE status = 'PROCESSING' AND updated_at < now() - $1::interval
	`, a.table)
	tag, err := a.pool.Exec(ctx, sql, visibilityTimeout.String())
	if err != nil {
		return 0, storageFault(err)
	}
	return getAffected(tag), nil
}

// PromoteRetries resets all Failed rows whose next_retry_at has elapsed
// back to Pending, clearing next_retry_at. It returns the number of rows
// promoted.
func (a *Adapter) PromoteRetries(ctx context.Context) (int64, error) {
	sql := fmt.Sprintf(`
		UPDATE %s SET status = 'PENDING', next_retry_at = NULL, updated_at = now()
		WHERE status = 'FAILED' AND next_retry_at <= now()
	`, a.table)
	tag, err := a.pool.Exec(ctx, sql)
	if err != nil {
		return 0, storageFault(err)
	}
	return getAffected(tag), nil
}

// GetByID performs a point read. It returns (nil, nil) if no row exists
// with the given id.
func (a *Adapter) GetByID(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, a.table)
	row := a.pool.QueryRow(ctx, sql, id)
	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageFault(err)
	}
	return msg, nil
}

// FindByStatus returns up to opts.Limit messages with the given status,
// ordered per opts.OrderBy/opts.Direction. OrderBy and Direction are
// validated against closed allow-lists before this composes any SQL
// (spec §9): invalid values fail with a Validation-coded error rather
// than ever reaching the query string.
func (a *Adapter) FindByStatus(ctx context.Context, status message.Status, opts FindOptions) ([]*message.Message, error) {
	limit, orderBy, direction, err := opts.normalize()
	if err != nil {
		return nil, qerr.Wrap(qerr.Validation, err)
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = $1 ORDER BY %s %s LIMIT $2
	`, columns, a.table, orderBy, direction)
	rows, err := a.pool.Query(ctx, sql, status.String(), limit)
	if err != nil {
		return nil, storageFault(err)
	}
	defer rows.Close()
	var out []*message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageFault(err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault(err)
	}
	return out, nil
}

// Stats returns per-status counts and the age in milliseconds of the
// oldest row across all statuses.
func (a *Adapter) Stats(ctx context.Context) (Stats, error) {
	sql := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'PROCESSING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'DEAD_LETTER'),
			COALESCE(EXTRACT(EPOCH FROM (now() - MIN(created_at))) * 1000, 0)
		FROM %s
	`, a.table)
	var s Stats
	var oldest float64
	err := a.pool.QueryRow(ctx, sql).Scan(
		&s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.DeadLetter, &oldest,
	)
	if err != nil {
		return Stats{}, storageFault(err)
	}
	s.OldestAgeMs = int64(oldest)
	return s, nil
}

// CleanupCompleted deletes Completed rows older than minAge and returns
// the number of rows deleted.
func (a *Adapter) CleanupCompleted(ctx context.Context, minAge time.Duration) (int64, error) {
	return a.cleanup(ctx, "COMPLETED", minAge)
}

// CleanupDeadLetters deletes DeadLetter rows older than minAge and
// returns the number of rows deleted.
func (a *Adapter) CleanupDeadLetters(ctx context.Context, minAge time.Duration) (int64, error) {
	return a.cleanup(ctx, "DEAD_LETTER", minAge)
}

func (a *Adapter) cleanup(ctx context.Context, status string, minAge time.Duration) (int64, error) {
	sql := fmt.Sprintf(`
		DELETE FROM %s WHERE status = $1 AND updated_at <= now() - $2::interval
	`, a.table)
	tag, err := a.pool.Exec(ctx, sql, status, minAge.String())
	if err != nil {
		return 0, storageFault(err)
	}
	return getAffected(tag), nil
}
