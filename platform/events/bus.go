package events

import (
	"context"
	"errors"
	"sync"

	"inmocrm_backend/platform/logger"
)

// InMemoryBus is a simple in-process event bus. Handlers registered for an
// event name receive every published event of that name. Publish runs
// handlers on a separate goroutine; PublishSync runs them inline and
// aggregates their errors.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish sends an event to all registered handlers asynchronously.
// Handler errors are logged, not returned.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	handlers := b.handlersFor(event.EventName())
	if len(handlers) == 0 {
		return
	}

	go func() {
		for _, h := range handlers {
			if err := h.Handle(ctx, event); err != nil && b.log != nil {
				b.log.Error("event handler failed", "event", event.EventName(), "error", err)
			}
		}
	}()
}

// PublishSync sends an event and waits for all handlers to complete.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := h.Handle(ctx, event); err != nil {
			if b.log != nil {
				b.log.Error("event handler failed", "event", event.EventName(), "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryBus) handlersFor(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	registered := b.handlers[eventName]
	if len(registered) == 0 {
		return nil
	}
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

// Compile-time check that InMemoryBus implements Bus.
var _ Bus = (*InMemoryBus)(nil)
