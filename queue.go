// Package pgqueue is a durable, transactional message queue backed by a
// single PostgreSQL table per queue.
//
// # Overview
//
// pgqueue models a durable work queue with explicit state transitions
// and at-least-once delivery. A message moves through the lifecycle
//
//	PENDING -> PROCESSING -> {COMPLETED, FAILED, DEAD_LETTER}
//
// with FAILED messages automatically promoted back to PENDING once their
// retry-after elapses, and PROCESSING messages whose visibility timeout
// expires reset back to PENDING by a crash-recovery sweep.
//
// # Components
//
// Six cooperating pieces, leaves-first: the message model
// (package message), the storage adapter (package storage), the schema
// manager (package schema), the notification listener (package listen),
// this package's consumption loop, and the idempotency store (package
// idempotency). Queue is the public facade wiring all six together.
//
// # Delivery semantics
//
// pgqueue provides at-least-once delivery. A message may be delivered
// more than once if a worker crashes, a handler outruns the visibility
// timeout, or a lease is otherwise lost. Handlers must be idempotent;
// package idempotency exists specifically to make that practical when a
// handler's own effect is not naturally idempotent.
//
// # Ordering
//
// Within a priority band, delivery is best-effort FIFO by insertion
// time; across bands, strictly priority-ordered. No cross-queue or
// cross-process ordering is promised.
package pgqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/systeric/pgqueue/idempotency"
	"github.com/systeric/pgqueue/internal"
	"github.com/systeric/pgqueue/listen"
	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
	"github.com/systeric/pgqueue/schema"
	"github.com/systeric/pgqueue/storage"
)

// Queue is the public facade: the storage adapter, schema manager,
// notification listener, consumption loop and idempotency store for one
// named queue, wired together and lifecycle-managed as a unit.
type Queue struct {
	lcBase

	cfg      Config
	pool     *pgxpool.Pool
	ownsPool bool
	dsn      string

	storage     StorageAdapter
	idempotency *idempotency.Store
	observer    EventObserver
	log         *slog.Logger

	registry *handlerRegistry
	sem      chan struct{}
	wg       sync.WaitGroup
	pullTask internal.TimerTask
	listener *listen.Listener

	staleSweeper internal.Sweeper
	retrySweeper internal.Sweeper

	runCtx    context.Context
	runCancel context.CancelFunc
}

// Option customizes Queue construction.
type Option func(*Queue)

// WithEventObserver registers an EventObserver that receives every
// lifecycle event the Queue emits.
func WithEventObserver(o EventObserver) Option {
	return func(q *Queue) { q.observer = o }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithPool uses a caller-provided pgxpool.Pool instead of opening one
// from dsn. The Queue never closes a caller-provided pool.
func WithPool(pool *pgxpool.Pool) Option {
	return func(q *Queue) {
		q.pool = pool
		q.ownsPool = false
	}
}

// Create builds a Queue for cfg.QueueName against dsn, ensuring the
// queue's schema exists. Use WithPool to share an existing pool instead
// of having Create open one (spec's public `create(config)` operation).
func Create(ctx context.Context, dsn string, cfg Config, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		cfg:      cfg,
		dsn:      dsn,
		observer: noopObserver{},
		log:      slog.Default(),
		registry: newHandlerRegistry(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.pool == nil {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, qerr.Wrap(qerr.StorageFault, err)
		}
		q.pool = pool
		q.ownsPool = true
	}

	adapter, err := storage.NewAdapter(q.pool, cfg.QueueName)
	if err != nil {
		return nil, err
	}
	q.storage = adapter

	mgr, err := schema.NewManager(q.pool, cfg.QueueName)
	if err != nil {
		return nil, err
	}
	if err := mgr.EnsureTable(ctx); err != nil {
		return nil, err
	}
	if err := idempotency.EnsureTable(ctx, q.pool); err != nil {
		return nil, err
	}
	q.idempotency = idempotency.New(q.pool)
	q.listener = listen.New(dsn, adapter.Channel(), q.log)

	return q, nil
}

// GenerateMigration returns the complete schema-creation script for
// queueName as text, for callers that run migrations out-of-band rather
// than calling Create (spec §6 `generate_migration`).
func GenerateMigration(queueName string) (string, error) {
	return schema.GenerateMigration(queueName)
}

// RegisterHandler registers h for msgType. Registering again for the
// same type replaces the prior handler.
func (q *Queue) RegisterHandler(msgType string, h HandlerFunc) error {
	if msgType == "" {
		return qerr.Wrap(qerr.Validation, fmt.Errorf("pgqueue: message type must not be empty"))
	}
	if h == nil {
		return qerr.Wrap(qerr.Validation, fmt.Errorf("pgqueue: handler must not be nil"))
	}
	q.registry.register(msgType, h)
	return nil
}

// Enqueue persists a new message of msgType carrying payload and returns
// its id. priority and maxRetries, if non-zero, override the message
// model's defaults.
func (q *Queue) Enqueue(ctx context.Context, msgType string, payload json.RawMessage, priority, maxRetries int) (uuid.UUID, error) {
	msg := message.New(msgType, payload)
	if priority != 0 {
		msg.Priority = priority
	}
	if maxRetries != 0 {
		msg.MaxRetries = maxRetries
	}
	if err := q.storage.InsertOne(ctx, q.pool, msg); err != nil {
		return uuid.UUID{}, err
	}
	q.emit(Event{Kind: EventEnqueued, MessageID: msg.Id, Type: msg.Type})
	return msg.Id, nil
}

// GetStats returns per-status counts and the age of the oldest row.
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	return q.storage.Stats(ctx)
}

// FindByStatus returns up to opts.Limit messages in the given status.
func (q *Queue) FindByStatus(ctx context.Context, status message.Status, opts FindOptions) ([]*message.Message, error) {
	return q.storage.FindByStatus(ctx, status, opts)
}

// Retry forces id back to Pending regardless of its current status,
// including DeadLetter (spec §6 `retry(id)`).
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) error {
	return q.storage.ManualRetry(ctx, id)
}

// CleanupCompleted permanently deletes Completed rows at least olderThan
// old and returns the count removed.
func (q *Queue) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.storage.CleanupCompleted(ctx, olderThan)
}

// CleanupDeadLetters permanently deletes DeadLetter rows at least
// olderThan old and returns the count removed.
func (q *Queue) CleanupDeadLetters(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.storage.CleanupDeadLetters(ctx, olderThan)
}

// Idempotency exposes the queue's idempotency store for handlers that
// need at-most-once effect semantics around their own side effects.
func (q *Queue) Idempotency() *idempotency.Store {
	return q.idempotency
}

// Pool exposes the underlying connection pool, for callers building
// their own transactional outbox work via WithTransaction.
func (q *Queue) Pool() *pgxpool.Pool {
	return q.pool
}
