package pgqueue

import "context"

// sweepStale resets Processing rows whose visibility timeout has elapsed
// back to Pending, the crash-recovery primitive of spec §4.1. It is
// scheduled by q.staleSweeper at cfg.StaleSweepInterval; after a failing
// pass the next run waits that interval plus the sweeper's own backoff.
func (q *Queue) sweepStale(ctx context.Context) error {
	n, err := q.storage.ResetStale(ctx, q.cfg.VisibilityTimeout)
	if err != nil {
		q.emit(Event{Kind: EventError, Err: err})
		return err
	}
	if n > 0 {
		q.emit(Event{Kind: EventStaleReset, Count: n})
	}
	return nil
}

// sweepRetries promotes Failed rows whose retry-after has elapsed back
// to Pending. It is scheduled by q.retrySweeper at
// cfg.RetrySweepInterval.
func (q *Queue) sweepRetries(ctx context.Context) error {
	n, err := q.storage.PromoteRetries(ctx)
	if err != nil {
		q.emit(Event{Kind: EventError, Err: err})
		return err
	}
	if n > 0 {
		q.emit(Event{Kind: EventRetryReset, Count: n})
	}
	return nil
}
