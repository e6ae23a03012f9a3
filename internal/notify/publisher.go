// Package notify hands lifecycle events to the external notification dispatcher.
package notify

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicdesk/grievance-service/internal/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher delivers one event to whatever sends the actual email.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// RedisPublisher appends events to a Redis stream consumed by the mailer.
type RedisPublisher struct {
	client  redis.Cmdable
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewRedisPublisher creates a stream publisher. maxLen <= 0 leaves the stream unbounded.
func NewRedisPublisher(client redis.Cmdable, stream string, maxLen int64, timeout time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, timeout: timeout}
}

// Publish XADDs the event. The call never outlives the configured timeout.
func (p *RedisPublisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":           event.ID,
			"type":         string(event.Type),
			"ticket_id":    event.TicketID,
			"recipient_id": event.RecipientID,
			"actor_id":     event.Actor.UserID,
			"actor_role":   string(event.Actor.Role),
			"timestamp":    event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":      string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// LogPublisher only logs events; used when no Redis is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that writes events to the log.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event events.Event) error {
	p.logger.Info("notification",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("recipient_id", event.RecipientID))
	return nil
}
