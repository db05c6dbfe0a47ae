package idempotency

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/systeric/pgqueue/qerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PGQUEUE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGQUEUE_TEST_DSN not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+TableName); err != nil {
		t.Fatal(err)
	}
	if err := EnsureTable(ctx, pool); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+TableName)
	})
	return New(pool)
}

func TestExecuteRunsOnceForDuplicateKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	}

	first, err := store.Execute(ctx, "order-42", time.Minute, op)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if !first.First {
		t.Error("first call should report First=true")
	}

	second, err := store.Execute(ctx, "order-42", time.Minute, op)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.First {
		t.Error("second call should report First=false")
	}
	if string(second.Value) != string(first.Value) {
		t.Errorf("second call returned %s, want cached %s", second.Value, first.Value)
	}
	if calls != 1 {
		t.Errorf("op invoked %d times, want 1", calls)
	}
}

func TestExecuteConcurrentInFlightFailsWithInProcess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = store.Execute(ctx, "slow-op", time.Minute, func(context.Context) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`{}`), nil
		})
	}()

	<-started
	defer close(release)

	_, err := store.Execute(ctx, "slow-op", time.Minute, func(context.Context) (json.RawMessage, error) {
		t.Fatal("op must not run while the key is in flight")
		return nil, nil
	})
	if code, ok := qerr.CodeOf(err); !ok || code != qerr.InProcess {
		t.Fatalf("error = %v, want InProcess", err)
	}
}

func TestInvalidateFreesTheKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{}`), nil
	}
	if _, err := store.Execute(ctx, "retryable", time.Minute, op); err != nil {
		t.Fatal(err)
	}
	if err := store.Invalidate(ctx, "retryable"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := store.Execute(ctx, "retryable", time.Minute, op); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("op invoked %d times after invalidate+retry, want 2", calls)
	}
}

func TestCleanupRemovesExpiredRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Execute(ctx, "short-lived", time.Nanosecond, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	n, err := store.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup removed %d rows, want 1", n)
	}
}
