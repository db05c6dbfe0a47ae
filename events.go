package pgqueue

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the lifecycle events a Queue reports to its configured
// EventObserver.
type Kind string

const (
	EventEnqueued     Kind = "ENQUEUED"
	EventDequeued     Kind = "DEQUEUED"
	EventAck          Kind = "ACK"
	EventNack         Kind = "NACK"
	EventNotification Kind = "NOTIFICATION"
	EventStaleReset   Kind = "STALE_RESET"
	EventRetryReset   Kind = "RETRY_RESET"
	EventStarted      Kind = "STARTED"
	EventStopped      Kind = "STOPPED"
	EventError        Kind = "ERROR"
)

// Event is a single notable occurrence in a Queue's lifecycle, delivered
// to an EventObserver synchronously from whichever goroutine produced it.
// Observers must not block.
type Event struct {
	Kind      Kind
	MessageID uuid.UUID
	Type      string
	Err       error
	At        time.Time
	Count     int64 // affected-row count, for sweep events
}

// EventObserver receives Queue lifecycle events. Implementations are
// called synchronously and must return quickly; slow observers should
// buffer internally (e.g. with their own bounded channel).
type EventObserver interface {
	Observe(Event)
}

// EventObserverFunc adapts a plain function to EventObserver.
type EventObserverFunc func(Event)

func (f EventObserverFunc) Observe(e Event) { f(e) }

// noopObserver discards every event; it is the default when no
// EventObserver is configured.
type noopObserver struct{}

func (noopObserver) Observe(Event) {}

func (q *Queue) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	q.observer.Observe(e)
}
