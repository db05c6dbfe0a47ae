// Package listen subscribes to a queue's PostgreSQL notification channel
// and turns pg_notify wake-ups into a Go channel the consumption loop can
// select on, so a newly-enqueued message is picked up immediately instead
// of waiting for the next poll interval (spec §4.3).
//
// A Listener owns one dedicated *pgx.Conn for the lifetime of its LISTEN
// subscription; session affinity is the reason this package cannot be
// built on a pooled connection (a connection returned to the pool between
// queries would silently drop the subscription).
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/systeric/pgqueue/internal"
)

// DefaultReconnectBackoff governs how quickly Listener retries after a
// dropped connection. Unlimited retries, capped at 30s.
var DefaultReconnectBackoff = internal.BackoffConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
}

// Listener maintains a LISTEN subscription on one channel and fans out a
// wake-up signal (the notification payload is not otherwise interpreted;
// the consumption loop always re-queries storage for what is actually
// claimable) each time a notification arrives.
type Listener struct {
	dsn     string
	channel string
	log     *slog.Logger
	backoff internal.BackoffConfig

	conn   *pgx.Conn
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Listener for channel, connecting with its own connection
// built from dsn (never the queue's shared pool).
func New(dsn, channel string, log *slog.Logger) *Listener {
	return &Listener{
		dsn:     dsn,
		channel: channel,
		log:     log,
		backoff: DefaultReconnectBackoff,
		wake:    make(chan struct{}, 1),
	}
}

// Wake returns the channel a consumption loop selects on. It is buffered
// to depth 1: a burst of notifications collapses into a single wake-up,
// which is correct because the loop always re-claims whatever is
// currently eligible rather than acting on the notification payload.
func (l *Listener) Wake() <-chan struct{} {
	return l.wake
}

func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Start connects, issues LISTEN, and begins waiting for notifications in
// a background goroutine. It reconnects automatically, with backoff, if
// the connection is lost; reconnection failures are logged, not
// returned, since they are expected to eventually succeed and should not
// bring down the owning Queue.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return fmt.Errorf("listen: initial connect: %w", err)
	}
	l.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx)
	return nil
}

func (l *Listener) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", l.channel)); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		if l.conn != nil {
			l.conn.Close(context.Background())
		}
	}()

	var failures uint32
	for {
		if ctx.Err() != nil {
			return
		}
		_, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("listen: connection lost, reconnecting", "channel", l.channel, "err", err)
			l.conn.Close(context.Background())
			failures++
			delay := l.backoffDelay(failures)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			conn, connErr := l.connect(ctx)
			if connErr != nil {
				if !errors.Is(connErr, context.Canceled) {
					l.log.Error("listen: reconnect failed", "channel", l.channel, "err", connErr)
				}
				continue
			}
			l.conn = conn
			failures = 0
			continue
		}
		failures = 0
		l.signal()
	}
}

func (l *Listener) backoffDelay(failures uint32) time.Duration {
	exp := float64(l.backoff.InitialInterval)
	for i := uint32(1); i < failures; i++ {
		exp *= l.backoff.Multiplier
		if exp > float64(l.backoff.MaxInterval) {
			exp = float64(l.backoff.MaxInterval)
			break
		}
	}
	return time.Duration(exp)
}

// Stop cancels the background goroutine and waits for it to exit.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}
