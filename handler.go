package pgqueue

import (
	"context"
	"sync"

	"github.com/systeric/pgqueue/message"
	"github.com/systeric/pgqueue/qerr"
)

// HandlerFunc processes one claimed message. The context is canceled
// when the owning Queue is stopping. A nil return acks the message; a
// non-nil return nacks it, which either schedules a retry with backoff
// or dead-letters it once the retry budget is exhausted (spec §4.1).
//
// Handlers must be idempotent: pgqueue provides at-least-once delivery,
// and a message may be redelivered after a crash or a lost lease.
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// handlerRegistry maps a message type to the HandlerFunc that processes
// it. Reads happen on every dispatch from the consumption loop; writes only
// happen during setup (RegisterHandler), so a RWMutex favors the hot
// path.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[string]HandlerFunc)}
}

func (r *handlerRegistry) register(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

func (r *handlerRegistry) lookup(msgType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	if !ok {
		return nil, qerr.Wrap(qerr.HandlerMissing, qerr.New(qerr.HandlerMissing, msgType, nil))
	}
	return h, nil
}
