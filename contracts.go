package pgqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/storage"
)

// Re-exported so callers never need to import the storage package
// directly to build a FindOptions value or read a Stats result.
type (
	FindOptions = storage.FindOptions
	OrderBy     = storage.OrderBy
	Direction   = storage.Direction
	Stats       = storage.Stats
	Querier     = storage.Querier
)

const (
	OrderByCreatedAt = storage.OrderByCreatedAt
	OrderByPriority  = storage.OrderByPriority
	Asc              = storage.Asc
	Desc             = storage.Desc
)

// Pusher is the write-side entry point of the storage adapter.
//
// InsertOne persists msg in the Pending state (or whatever status the
// caller pre-set it to; normal callers always pass a freshly-created
// Pending message). It fails with a qerr.DuplicateID-coded error if the
// id collides and qerr.StorageFault on any other I/O error.
//
// db must be supplied by the caller so the insert can participate in an
// outer transaction; pass the adapter's own pool for a standalone insert.
type Pusher interface {
	InsertOne(ctx context.Context, db Querier, msg *message.Message) error
}

// Puller is the read-write contract for consuming and managing messages.
//
// ClaimNext atomically selects and locks at most one Pending message,
// skipping rows already locked by other claimants, and transitions it to
// Processing. It returns (nil, nil) when no claimable row exists.
//
// Ack and Nack are single-row conditional updates guarded by
// WHERE status = 'PROCESSING'; see their doc comments for the exact
// semantics of a guard miss.
type Puller interface {
	ClaimNext(ctx context.Context) (*message.Message, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Nack(ctx context.Context, id uuid.UUID, cause error) error
	ManualRetry(ctx context.Context, id uuid.UUID) error
	ResetStale(ctx context.Context, visibilityTimeout time.Duration) (int64, error)
	PromoteRetries(ctx context.Context) (int64, error)
}

// Observer provides read-only access to messages.
type Observer interface {
	GetByID(ctx context.Context, id uuid.UUID) (*message.Message, error)
	FindByStatus(ctx context.Context, status message.Status, opts FindOptions) ([]*message.Message, error)
	Stats(ctx context.Context) (Stats, error)
}

// Cleaner permanently removes terminal messages from storage.
type Cleaner interface {
	CleanupCompleted(ctx context.Context, minAge time.Duration) (int64, error)
	CleanupDeadLetters(ctx context.Context, minAge time.Duration) (int64, error)
}

// StorageAdapter is the full contract the queue engine drives; a single
// concrete type (storage.Adapter) implements all four facets.
type StorageAdapter interface {
	Pusher
	Puller
	Observer
	Cleaner
}
