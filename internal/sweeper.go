package internal

import (
	"context"
	"time"
)

// SweepHandler runs one sweep pass and reports whether it succeeded.
type SweepHandler func(context.Context) error

// Sweeper periodically runs a SweepHandler at a fixed interval. After a
// failing pass, the next run is scheduled interval+backoff into the
// future rather than at the regular interval alone, so a struggling
// dependency (e.g. the database) gets progressively more room rather
// than being hit at the same or a higher rate. A successful pass resets
// the backoff to zero and the schedule returns to exactly interval.
//
// This differs from TimerTask, which always waits the same interval
// regardless of the handler's outcome; the two sweepers (stale-reset and
// retry-promotion) use Sweeper specifically because of this additive
// backoff-on-failure behavior.
type Sweeper struct {
	cancel context.CancelFunc
	done   DoneChan
}

func (s *Sweeper) do(ctx context.Context, h SweepHandler, interval time.Duration, backoff BackoffConfig) {
	defer close(s.done)
	bc := backoffCounter{backoff}
	var failures uint32
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := h(ctx); err != nil {
				failures++
				delay, ok := bc.next(failures)
				if !ok {
					delay = 0
				}
				timer.Reset(interval + delay)
				continue
			}
			failures = 0
			timer.Reset(interval)
		}
	}
}

// Start begins periodic execution of h. ctx controls cancellation.
func (s *Sweeper) Start(ctx context.Context, h SweepHandler, interval time.Duration, backoff BackoffConfig) {
	s.done = make(DoneChan)
	ctx, s.cancel = context.WithCancel(ctx)
	go s.do(ctx, h, interval, backoff)
}

// Stop cancels the sweeper and returns a channel closed once its
// goroutine has exited.
func (s *Sweeper) Stop() DoneChan {
	s.cancel()
	return s.done
}
