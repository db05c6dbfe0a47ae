package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier abstracts the subset of a pgx connection, pool or transaction
// the adapter needs to issue statements. *pgxpool.Pool, pgx.Tx and
// *pgx.Conn all satisfy this structurally, since they share pgx's method
// signatures verbatim. This is what lets InsertOne participate in a
// caller-supplied transaction for the outbox pattern (spec §4.1
// "Transactional enqueue"): the caller passes its *pgx.Tx in place of the
// adapter's own pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
