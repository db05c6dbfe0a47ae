package listen

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestBackoffDelayCapsAtMaxInterval(t *testing.T) {
	l := New("", "chan", slog.Default())
	l.backoff.InitialInterval = time.Millisecond
	l.backoff.MaxInterval = 10 * time.Millisecond
	l.backoff.Multiplier = 2

	d := l.backoffDelay(20)
	if d > l.backoff.MaxInterval {
		t.Errorf("backoffDelay(20) = %v, want <= %v", d, l.backoff.MaxInterval)
	}
}

func TestListenerReceivesNotification(t *testing.T) {
	dsn := os.Getenv("PGQUEUE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGQUEUE_TEST_DSN not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := New(dsn, "pgqueue_listener_test_channel", slog.Default())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	notifier, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect notifier: %v", err)
	}
	defer notifier.Close(ctx)

	if _, err := notifier.Exec(ctx, "SELECT pg_notify('pgqueue_listener_test_channel', 'hi')"); err != nil {
		t.Fatalf("pg_notify: %v", err)
	}

	select {
	case <-l.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for wake-up signal")
	}
}
