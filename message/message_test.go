package message

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewAppliesDefaults(t *testing.T) {
	m := New("order.created", json.RawMessage(`{}`))
	if m.Status != Pending {
		t.Errorf("Status = %v, want Pending", m.Status)
	}
	if m.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want %d", m.Priority, DefaultPriority)
	}
	if m.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", m.MaxRetries, DefaultMaxRetries)
	}
	if m.Id.String() == "" {
		t.Error("expected a generated id")
	}
}

func TestValidateRejectsEmptyType(t *testing.T) {
	m := New("", json.RawMessage(`{}`))
	if err := m.Validate(); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
}

func TestValidateRejectsOversizedType(t *testing.T) {
	big := make([]byte, MaxTypeLen+1)
	for i := range big {
		big[i] = 'a'
	}
	m := New(string(big), json.RawMessage(`{}`))
	if err := m.Validate(); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
}

func TestValidateRejectsPriorityOutOfRange(t *testing.T) {
	for _, p := range []int{0, -1, MaxPriority + 1} {
		m := New("t", json.RawMessage(`{}`))
		m.Priority = p
		if err := m.Validate(); !errors.Is(err, ErrInvalidPriority) {
			t.Errorf("priority %d: err = %v, want ErrInvalidPriority", p, err)
		}
	}
}

func TestValidateRejectsNonPositiveMaxRetries(t *testing.T) {
	m := New("t", json.RawMessage(`{}`))
	m.MaxRetries = 0
	if err := m.Validate(); !errors.Is(err, ErrInvalidMaxRetries) {
		t.Fatalf("err = %v, want ErrInvalidMaxRetries", err)
	}
}

func TestValidateRejectsOversizedPayload(t *testing.T) {
	m := New("t", make(json.RawMessage, MaxPayloadBytes+1))
	if err := m.Validate(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	m := New("order.created", json.RawMessage(`{"ok":true}`))
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDeadLetteredComparesRetryCountToBudget(t *testing.T) {
	m := New("t", json.RawMessage(`{}`))
	m.MaxRetries = 2

	m.RetryCount = 2
	if m.DeadLettered() {
		t.Error("RetryCount == MaxRetries should not be dead-lettered yet")
	}
	m.RetryCount = 3
	if !m.DeadLettered() {
		t.Error("RetryCount > MaxRetries should be dead-lettered")
	}
}
