package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// expectRecord проверяет топик, ключ и декодированный конверт отправленного сообщения.
func expectRecord(sp *mocks.SyncProducer, topic, key string, check func(Envelope) error) {
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("topic %q, want %q", msg.Topic, topic)
		}
		rawKey, _ := msg.Key.Encode()
		if string(rawKey) != key {
			return fmt.Errorf("key %q, want %q", rawKey, key)
		}
		rawValue, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(rawValue, &env); err != nil {
			return err
		}
		return check(env)
	})
}

func TestTopicPublisher_KeysByOrder(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	expectRecord(sp, TopicPaymentEvents, "order-123", func(env Envelope) error {
		if env.EventType != domain.EventPaymentCompleted || string(env.Payload) != `{"amountPaid":60000}` {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		if !env.PublishedAt.Equal(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)) {
			return fmt.Errorf("published_at %s", env.PublishedAt)
		}
		return nil
	})

	pub := NewOutboxPublisher(NewProducerWithSyncProducer(sp, nil), "")
	pub.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600)) }

	require.NoError(t, pub.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventPaymentCompleted,
		Payload:       []byte(`{"amountPaid":60000}`),
	}))
	require.NoError(t, sp.Close())
}

func TestTopicPublisher_FallsBackToEventIDKey(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	expectRecord(sp, TopicOutboxDLQ, "outbox-9", func(env Envelope) error {
		if string(env.Payload) != `{}` {
			return fmt.Errorf("empty payload must become {}, got %s", env.Payload)
		}
		return nil
	})

	pub := NewOutboxPublisher(NewProducerWithSyncProducer(sp, nil), TopicOutboxDLQ)
	require.NoError(t, pub.Publish(domain.OutboxMessage{ID: "outbox-9", EventType: domain.EventPaymentFailed}))
	require.NoError(t, sp.Close())
}

func TestTopicPublisher_Errors(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewOutboxPublisher(NewProducerWithSyncProducer(sp, nil), TopicPaymentEvents)
	err := pub.Publish(domain.OutboxMessage{ID: "outbox-2", AggregateID: "order-234", EventType: domain.EventPaymentFailed})
	assert.ErrorIs(t, err, domain.ErrOutboxPublish)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), "outbox-2")
	require.NoError(t, sp.Close())

	var unset *TopicPublisher
	assert.ErrorIs(t, unset.Publish(domain.OutboxMessage{ID: "outbox-3"}), domain.ErrOutboxPublish)
	assert.ErrorIs(t, NewOutboxPublisher(nil, "").Publish(domain.OutboxMessage{ID: "outbox-4"}), domain.ErrOutboxPublish)
}
