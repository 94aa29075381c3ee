package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// TopicPublisher публикует события outbox в один топик в формате Envelope.
type TopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicPaymentEvents.
func NewOutboxPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicPaymentEvents
	}
	return &TopicPublisher{producer: producer, topic: topic, now: time.Now}
}

// Publish использует id заказа как ключ партиционирования: события заказа сохраняют порядок.
func (p *TopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka producer is not configured", domain.ErrOutboxPublish)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	env := NewEnvelope(event, p.now())
	if err := p.producer.PublishEvent(p.topic, key, env, env.Headers()); err != nil {
		return fmt.Errorf("%w: event %s: %w", domain.ErrOutboxPublish, event.ID, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
