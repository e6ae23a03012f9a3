package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher fans lifecycle events out to subscribers.
type Dispatcher interface {
	// Publish delivers event to every subscriber of its type. Delivery is
	// best effort: subscriber failures never reach the publisher.
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher runs subscribers synchronously on the publishing goroutine.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	logger    *zap.Logger
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		logger:    logger,
	}
}

func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event for ticket %s has no type", event.TicketID)
	}

	d.mu.RLock()
	subscribers := append([]EventHandler(nil), d.listeners[event.Type]...)
	d.mu.RUnlock()

	for i, handler := range subscribers {
		if err := d.invoke(ctx, handler, event); err != nil {
			d.logger.Warn("event subscriber failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Int("subscriber", i),
				zap.Error(err))
		}
	}
	return nil
}

// invoke converts a subscriber panic into an error; the ticket change that
// produced the event has already committed.
func (d *inMemoryDispatcher) invoke(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}
