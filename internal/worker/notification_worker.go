package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/civicdesk/grievance-service/internal/events"
	"github.com/civicdesk/grievance-service/internal/notify"
)

// ErrQueueFull is returned when the delivery buffer has no room.
var ErrQueueFull = errors.New("notification queue full")

// NotificationWorker decouples request handling from notification delivery.
// Publish only enqueues; Run drains the queue into the downstream publisher.
type NotificationWorker struct {
	next    notify.Publisher
	queue   chan events.Event
	workers int
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewNotificationWorker creates a worker with a bounded queue.
func NewNotificationWorker(next notify.Publisher, queueSize, workers int, logger *zap.Logger) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		next:    next,
		queue:   make(chan events.Event, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Publish enqueues the event without waiting for delivery.
func (w *NotificationWorker) Publish(ctx context.Context, event events.Event) error {
	select {
	case w.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the delivery goroutines. They stop once ctx is cancelled and
// whatever is already queued has been flushed; Wait blocks until then.
func (w *NotificationWorker) Run(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
}

// Wait blocks until every delivery goroutine has exited.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) loop(ctx context.Context) {
	for {
		select {
		case event := <-w.queue:
			w.deliver(context.WithoutCancel(ctx), event)
		case <-ctx.Done():
			for {
				select {
				case event := <-w.queue:
					w.deliver(context.WithoutCancel(ctx), event)
				default:
					return
				}
			}
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, event events.Event) {
	if err := w.next.Publish(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
