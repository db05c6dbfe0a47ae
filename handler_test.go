package pgqueue

import (
	"context"
	"testing"

	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
)

func TestHandlerRegistryRegisterAndLookup(t *testing.T) {
	r := newHandlerRegistry()
	called := false
	r.register("order.created", func(context.Context, *message.Message) error {
		called = true
		return nil
	})

	h, err := r.lookup("order.created")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := h(context.Background(), &message.Message{}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("expected registered handler to be invoked")
	}
}

func TestHandlerRegistryLookupMissingType(t *testing.T) {
	r := newHandlerRegistry()
	_, err := r.lookup("unknown.type")
	if code, ok := qerr.CodeOf(err); !ok || code != qerr.HandlerMissing {
		t.Fatalf("error = %v, want HandlerMissing", err)
	}
}

func TestHandlerRegistryReplacesOnReregister(t *testing.T) {
	r := newHandlerRegistry()
	r.register("t", func(context.Context, *message.Message) error { return nil })
	secondCalled := false
	r.register("t", func(context.Context, *message.Message) error {
		secondCalled = true
		return nil
	})
	h, err := r.lookup("t")
	if err != nil {
		t.Fatal(err)
	}
	_ = h(context.Background(), &message.Message{})
	if !secondCalled {
		t.Error("expected second registration to replace the first")
	}
}
