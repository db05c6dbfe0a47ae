package internal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsImmediatelyThenOnInterval(t *testing.T) {
	var calls atomic.Int32
	var sw Sweeper
	sw.Start(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	}, 20*time.Millisecond, BackoffConfig{})

	time.Sleep(5 * time.Millisecond)
	if calls.Load() < 1 {
		t.Fatal("expected an immediate first run")
	}

	time.Sleep(50 * time.Millisecond)
	if calls.Load() < 2 {
		t.Fatal("expected a second run once the interval elapsed")
	}

	<-sw.Stop()
}

func TestSweeperAddsBackoffToIntervalAfterFailure(t *testing.T) {
	var calls atomic.Int32
	var secondRunAt atomic.Int64
	start := time.Now()
	var sw Sweeper
	sw.Start(context.Background(), func(context.Context) error {
		n := calls.Add(1)
		if n == 1 {
			return errors.New("transient")
		}
		if n == 2 {
			secondRunAt.Store(int64(time.Since(start)))
		}
		return nil
	}, 20*time.Millisecond, BackoffConfig{
		MaxRetries:      5,
		InitialInterval: 40 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2,
	})

	deadline := time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected a retry after interval plus backoff")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	<-sw.Stop()
	if got := time.Duration(secondRunAt.Load()); got < 60*time.Millisecond {
		t.Errorf("retry ran after %v, want at least interval+backoff = 60ms", got)
	}
}
