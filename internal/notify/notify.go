package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/logging"
	"github.com/hackgods/locum-marketplace/internal/metrics"
)

type EventType string

const (
	EventSelectionCreated  EventType = "selection.created"
	EventSelectionRejected EventType = "selection.rejected"
	EventSelectionExpired  EventType = "selection.expired"
	EventBookingConfirmed  EventType = "booking.confirmed"
	EventBookingCancelled  EventType = "booking.cancelled"
	EventRequestCancelled  EventType = "request.cancelled"
)

// Event is a push notification addressed to one locum, practice or branch.
type Event struct {
	Type           EventType  `json:"type"`
	RecipientID    uuid.UUID  `json:"recipient_id"`
	RecipientKind  string     `json:"recipient_kind"`
	RequestID      *uuid.UUID `json:"request_id,omitempty"`
	ConfirmationID *uuid.UUID `json:"confirmation_id,omitempty"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty"`
	Message        string     `json:"message"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Publisher delivers events to the push transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher publishes each event as JSON on <prefix>:<recipient_id>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for a recipient.
func (p *RedisPublisher) Channel(recipientID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", p.prefix, recipientID.String())
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(ev.RecipientID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Notifier sends events after a transition has committed. Delivery
// failures are logged and counted, never returned.
type Notifier struct {
	publisher Publisher
	metrics   *metrics.Lifecycle
	logger    *zap.Logger
}

func NewNotifier(publisher Publisher, m *metrics.Lifecycle, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, metrics: m, logger: logging.OrNop(logger)}
}

func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if n == nil || n.publisher == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	err := n.publisher.Publish(ctx, ev)
	n.metrics.ObserveNotification(string(ev.Type), err)
	if err != nil {
		n.logger.Warn("notification not delivered",
			zap.String("event_type", string(ev.Type)),
			zap.String("recipient_id", ev.RecipientID.String()),
			zap.Error(err),
		)
	}
}
