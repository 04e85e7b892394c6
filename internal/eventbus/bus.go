package eventbus

import (
	"errors"
	"sync"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

type HandlerFunc func(domain.Event) error

// InMemoryBus delivers monitor events synchronously to registered handlers.
// Handlers for a specific type run before wildcard handlers.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]HandlerFunc
	all      []HandlerFunc
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[domain.EventType][]HandlerFunc),
	}
}

func (b *InMemoryBus) Subscribe(eventType domain.EventType, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryBus) SubscribeAll(handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

// Publish calls every matching handler, even after one fails, and returns
// the joined errors.
func (b *InMemoryBus) Publish(evt domain.Event) error {
	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.handlers[evt.Type])+len(b.all))
	handlers = append(handlers, b.handlers[evt.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
