package pgqueue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
)

// TxContext is handed to the function passed to WithTransaction. It
// exposes exactly two capabilities: arbitrary parameterized statements
// against the caller's own tables, and enqueueing messages — both
// against the same open transaction, so application state changes and
// queued work succeed or fail together (spec §4.5).
type TxContext interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Enqueue(ctx context.Context, msgType string, payload json.RawMessage, priority, maxRetries int) (uuid.UUID, error)
}

type txContext struct {
	q  *Queue
	tx pgx.Tx
}

func (t *txContext) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return qerr.Wrap(qerr.StorageFault, err)
	}
	return nil
}

func (t *txContext) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, qerr.Wrap(qerr.StorageFault, err)
	}
	return rows, nil
}

func (t *txContext) Enqueue(ctx context.Context, msgType string, payload json.RawMessage, priority, maxRetries int) (uuid.UUID, error) {
	msg := message.New(msgType, payload)
	if priority != 0 {
		msg.Priority = priority
	}
	if maxRetries != 0 {
		msg.MaxRetries = maxRetries
	}
	if err := t.q.storage.InsertOne(ctx, t.tx, msg); err != nil {
		return uuid.UUID{}, err
	}
	return msg.Id, nil
}

// WithTransaction opens a transaction, runs fn with a TxContext bound to
// it, and commits on fn's success or rolls back on fn's error. The
// notification trigger on any Enqueue performed through the TxContext
// only becomes visible to listeners once the transaction commits.
//
// If the rollback itself fails, that failure is reported via an Error
// event but fn's original error is still what WithTransaction returns —
// the rollback failure is never allowed to mask the caller's error.
func (q *Queue) WithTransaction(ctx context.Context, fn func(ctx context.Context, tc TxContext) error) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return qerr.Wrap(qerr.Transaction, err)
	}

	fnErr := fn(ctx, &txContext{q: q, tx: tx})
	if fnErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			q.emit(Event{Kind: EventError, Err: qerr.Wrap(qerr.Transaction, rbErr)})
		}
		return fnErr
	}

	if err := tx.Commit(ctx); err != nil {
		return qerr.Wrap(qerr.Transaction, err)
	}
	return nil
}
