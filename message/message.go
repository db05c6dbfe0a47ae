// Package message defines the identity and lifecycle state of one queued
// work item.
//
// A Message is immutable in its identity fields (Id, Type, Priority,
// MaxRetries, CreatedAt) once created; every other field is mutated only
// by the storage adapter under row-level locks, or by the owning consumer
// through the engine's public operations. Message values returned by the
// storage adapter are snapshots: mutating them does not affect the
// underlying row.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default and boundary values from the data model (spec §3).
const (
	MinPriority        = 1
	MaxPriority        = 10
	DefaultPriority    = 5
	DefaultMaxRetries  = 3
	MaxTypeLen         = 255
	MaxPayloadBytes    = 10 << 20 // 10 MB practical ceiling
)

var (
	// ErrInvalidType is returned when Type is empty or exceeds MaxTypeLen.
	ErrInvalidType = errors.New("message: type must be 1-255 bytes")

	// ErrInvalidPriority is returned when Priority falls outside [1,10].
	ErrInvalidPriority = errors.New("message: priority must be in [1,10]")

	// ErrInvalidMaxRetries is returned when MaxRetries is less than 1.
	ErrInvalidMaxRetries = errors.New("message: max_retries must be >= 1")

	// ErrPayloadTooLarge is returned when the payload exceeds the
	// practical ceiling of MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("message: payload exceeds practical size ceiling")
)

// Message is a durable, transactionally-managed unit of queued work.
//
// Id, Type, Priority, MaxRetries and CreatedAt are write-once after
// creation (invariant (d) of the data model). Status, RetryCount,
// LastError, NextRetryAt and UpdatedAt are mutated by the storage adapter
// as the message moves through its lifecycle.
type Message struct {
	Id       uuid.UUID
	Type     string
	Payload  json.RawMessage
	Status   Status
	Priority int

	RetryCount  int
	MaxRetries  int
	LastError   string
	NextRetryAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a new Message with a random version-4 identifier, default
// priority and default max-retries. Status is left Pending; CreatedAt and
// UpdatedAt are left zero and are assigned by the storage adapter at
// insert time from the inserting process's clock (in UTC).
func New(msgType string, payload json.RawMessage) *Message {
	return &Message{
		Id:         uuid.New(),
		Type:       msgType,
		Payload:    payload,
		Status:     Pending,
		Priority:   DefaultPriority,
		MaxRetries: DefaultMaxRetries,
	}
}

// Validate checks the fields a caller is allowed to set before enqueue
// against the data model's invariants. It does not check fields owned by
// the storage adapter (Status, RetryCount, timestamps).
func (m *Message) Validate() error {
	if len(m.Type) == 0 || len(m.Type) > MaxTypeLen {
		return ErrInvalidType
	}
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return fmt.Errorf("%w: got %d", ErrInvalidPriority, m.Priority)
	}
	if m.MaxRetries < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRetries, m.MaxRetries)
	}
	if len(m.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: got %d bytes", ErrPayloadTooLarge, len(m.Payload))
	}
	return nil
}

// DeadLettered reports whether the message's retry count has exceeded its
// retry budget, per invariant (b) of the data model.
func (m *Message) DeadLettered() bool {
	return m.RetryCount > m.MaxRetries
}
