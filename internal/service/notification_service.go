package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicdesk/grievance-service/internal/events"
	"github.com/civicdesk/grievance-service/internal/notify"
)

// NotificationService forwards lifecycle events to the external dispatcher.
// Delivery is best-effort: failures are logged here and never reach the caller
// that caused the event.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  notify.Publisher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher notify.Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.forward)
	n.dispatcher.Subscribe(events.EventTicketReopened, n.forward)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.forward)
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) error {
	if n.publisher == nil {
		return nil
	}
	if event.RecipientID == "" {
		n.logger.Debug("notification without recipient dropped",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
		return nil
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.String("recipient_id", event.RecipientID),
			zap.Error(err))
	}
	return nil
}
