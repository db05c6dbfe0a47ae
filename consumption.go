package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systeric/pgqueue/internal"
	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
)

// Start begins consuming messages with the given concurrency (at least
// 1; zero or negative falls back to cfg.Concurrency). Start is
// idempotent: calling it while already running is a no-op (spec §4.4
// "Start protocol").
func (q *Queue) Start(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = q.cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.tryStart(); err != nil {
		if errors.Is(err, ErrDoubleStarted) {
			return nil
		}
		return err
	}

	q.runCtx, q.runCancel = context.WithCancel(ctx)
	q.sem = make(chan struct{}, concurrency)

	if err := q.listener.Start(q.runCtx); err != nil {
		q.log.Warn("notification listener failed to start, falling back to polling only", "err", err)
	}

	sweepBackoff := internal.BackoffConfig{
		MaxRetries:          q.cfg.SweepBackoff.MaxRetries,
		InitialInterval:     q.cfg.SweepBackoff.InitialInterval,
		MaxInterval:         q.cfg.SweepBackoff.MaxInterval,
		Multiplier:          q.cfg.SweepBackoff.Multiplier,
		RandomizationFactor: q.cfg.SweepBackoff.RandomizationFactor,
	}
	q.staleSweeper.Start(q.runCtx, q.sweepStale, q.cfg.StaleSweepInterval, sweepBackoff)
	q.retrySweeper.Start(q.runCtx, q.sweepRetries, q.cfg.RetrySweepInterval, sweepBackoff)

	q.pullTask.Start(q.runCtx, func(context.Context) { q.tryConsume(q.runCtx) }, q.cfg.PollInterval)
	go q.watchWakeups(q.runCtx)

	for i := 0; i < concurrency; i++ {
		q.tryConsume(q.runCtx)
	}

	q.emit(Event{Kind: EventStarted})
	return nil
}

func (q *Queue) watchWakeups(ctx context.Context) {
	wake := q.listener.Wake()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			q.emit(Event{Kind: EventNotification})
			q.tryConsume(ctx)
		}
	}
}

// tryConsume is the self-perpetuating try-consume step of spec §4.4: it
// attempts one claim; if a message is returned, it dispatches the
// handler asynchronously and re-invokes itself on completion so that an
// arbitrarily large backlog drains without ever batching claims.
func (q *Queue) tryConsume(ctx context.Context) {
	select {
	case q.sem <- struct{}{}:
	default:
		// Concurrency cap saturated; the busy workers' own completion
		// will re-invoke tryConsume and cover anything left to claim.
		return
	}

	msg, err := q.storage.ClaimNext(ctx)
	if err != nil {
		<-q.sem
		q.emit(Event{Kind: EventError, Err: err})
		return
	}
	if msg == nil {
		<-q.sem
		return
	}

	q.emit(Event{Kind: EventDequeued, MessageID: msg.Id, Type: msg.Type})

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			<-q.sem
			q.tryConsume(ctx)
		}()
		q.dispatch(ctx, msg)
	}()
}

// dispatch invokes the registered handler for msg.Type and acks or nacks
// based on its outcome (spec §4.4 "Handler dispatch"). A missing handler
// and a panicking handler are both treated as handler failures: they
// never escape dispatch.
func (q *Queue) dispatch(ctx context.Context, msg *message.Message) {
	handler, err := q.registry.lookup(msg.Type)
	if err != nil {
		q.emit(Event{Kind: EventError, MessageID: msg.Id, Type: msg.Type, Err: err})
		q.nack(ctx, msg, err)
		return
	}

	err = q.runHandler(ctx, handler, msg)
	if err == nil {
		q.ack(ctx, msg)
		return
	}
	q.nack(ctx, msg, fmt.Errorf("handler for %q: %w", msg.Type, err))
}

func (q *Queue) runHandler(ctx context.Context, h HandlerFunc, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = qerr.Wrap(qerr.HandlerFailure, fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, msg)
}

func (q *Queue) ack(ctx context.Context, msg *message.Message) {
	if err := q.storage.Ack(ctx, msg.Id); err != nil {
		q.emit(Event{Kind: EventError, MessageID: msg.Id, Type: msg.Type, Err: err})
		return
	}
	q.emit(Event{Kind: EventAck, MessageID: msg.Id, Type: msg.Type})
}

func (q *Queue) nack(ctx context.Context, msg *message.Message, cause error) {
	if err := q.storage.Nack(ctx, msg.Id, cause); err != nil {
		if !errors.Is(err, qerr.ErrRaceLost) {
			q.emit(Event{Kind: EventError, MessageID: msg.Id, Type: msg.Type, Err: err})
		}
		return
	}
	q.emit(Event{Kind: EventNack, MessageID: msg.Id, Type: msg.Type, Err: cause})
}

// Stop gracefully shuts down the Queue (spec §4.4 "Stop protocol"): it
// stops accepting new sweep ticks and poll ticks, cancels the run
// context so wake-up handling and in-flight claim attempts unwind, waits
// for every in-flight handler to finish, releases the listener session,
// and closes the pool only if the Queue opened it itself.
//
// Stop is idempotent: calling it while already stopped is a no-op. It
// returns ErrStopTimeout if shutdown does not complete within timeout,
// in which case background goroutines may still be winding down.
func (q *Queue) Stop(timeout time.Duration) error {
	if err := q.tryStop(timeout, q.doStop); err != nil {
		if errors.Is(err, ErrDoubleStopped) {
			return nil
		}
		return err
	}
	return nil
}

func (q *Queue) doStop() internal.DoneChan {
	staleDone := q.staleSweeper.Stop()
	retryDone := q.retrySweeper.Stop()
	pullDone := q.pullTask.Stop()
	q.runCancel()
	q.listener.Stop()

	out := make(internal.DoneChan)
	go func() {
		<-staleDone
		<-retryDone
		<-pullDone
		q.wg.Wait()
		if q.ownsPool {
			q.pool.Close()
		}
		q.emit(Event{Kind: EventStopped})
		close(out)
	}()
	return out
}
