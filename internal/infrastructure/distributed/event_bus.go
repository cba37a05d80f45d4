package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType tags what an Event carries. Only message fan-out exists today.
type EventType string

const EventMessagePublished EventType = "message.published"

// Event is the envelope sent between gateway instances.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Message    *domain.Message `json:"message,omitempty"`
}

var errAlreadySubscribed = errors.New("event bus already subscribed")

// EventBus fans realtime messages out to the other gateway instances of a
// tenant over Redis pub/sub. An instance never receives its own events.
type EventBus struct {
	client     *redis.Client
	instanceID string
	topic      string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.MessageBus = (*EventBus)(nil)

func NewEventBus(client *redis.Client, tenant, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		topic:      eventTopic(tenant),
		logger:     logger,
	}
}

func eventTopic(tenant string) string {
	return "rolechat:" + tenant + ":events"
}

func (eb *EventBus) Publish(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(&Event{
		Type:       EventMessagePublished,
		InstanceID: eb.instanceID,
		Timestamp:  time.Now(),
		Message:    msg,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	eb.logger.Debugw("Published event", "channel", msg.Channel, "message_id", msg.ID)
	return nil
}

// Subscribe blocks, calling handler for each message published by another
// instance, until ctx is done. A bus can be subscribed once.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.Message) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return errAlreadySubscribed
	}
	eb.pubsub = eb.client.Subscribe(ctx, eb.topic)
	ch := eb.pubsub.Channel()
	eb.mu.Unlock()
	defer eb.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.deliver(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) deliver(payload string, handler func(*domain.Message) error) {
	msg, err := eb.foreignMessage(payload)
	if err != nil {
		eb.logger.Warnw("Dropping malformed event", "error", err)
		return
	}
	if msg == nil {
		return
	}
	if err := handler(msg); err != nil {
		eb.logger.Warnw("Failed to handle event", "channel", msg.Channel, "message_id", msg.ID, "error", err)
	}
}

// foreignMessage decodes payload and returns its message when it came from
// another instance, nil otherwise.
func (eb *EventBus) foreignMessage(payload string) (*domain.Message, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.InstanceID == eb.instanceID || event.Type != EventMessagePublished {
		return nil, nil
	}
	return event.Message, nil
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub == nil {
		return nil
	}
	err := eb.pubsub.Close()
	eb.pubsub = nil
	return err
}
