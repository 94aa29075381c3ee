package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithSyncProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicPaymentEvents {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return fmt.Errorf("unexpected headers %+v", msg.Headers)
		}
		return nil
	})

	err := producer.PublishEvent(TopicPaymentEvents, "order-123", map[string]string{"status": "completed"}, map[string]string{
		HeaderEventType: domain.EventPaymentCompleted,
		HeaderOutboxID:  "",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithSyncProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicPaymentEvents, "order-123", struct{}{}, nil); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithSyncProducer(mockProducer, nil)

	if err := producer.PublishEvent(TopicPaymentEvents, "k", make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnvelope(t *testing.T) {
	publishedAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.FixedZone("EEST", 3*60*60))
	env := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.EventPaymentDeadLettered,
	}, publishedAt)

	if string(env.Payload) != "{}" {
		t.Fatalf("empty payload must be encoded as an object, got %s", env.Payload)
	}
	if env.PublishedAt.Location() != time.UTC {
		t.Fatalf("published_at must be UTC")
	}
	if _, err := json.Marshal(env); err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	headers := env.Headers()
	if headers[HeaderEventType] != domain.EventPaymentDeadLettered || headers[HeaderOutboxID] != "outbox-1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestProducerConfig_IdempotentOrdering(t *testing.T) {
	cfg := producerConfig()

	if !cfg.Producer.Idempotent || cfg.Net.MaxOpenRequests != 1 {
		t.Fatal("producer must be idempotent with a single in-flight request")
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll || !cfg.Producer.Return.Successes {
		t.Fatal("sync producer must wait for all replicas and return successes")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid sarama config: %v", err)
	}
}

func TestRecordHeaders_SortedWithoutEmpty(t *testing.T) {
	headers := recordHeaders(map[string]string{
		HeaderOutboxID:      "evt-1",
		HeaderEventType:     domain.EventPaymentCompleted,
		HeaderAggregateType: "",
	})
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(headers))
	}
	if string(headers[0].Key) != HeaderEventType || string(headers[1].Key) != HeaderOutboxID {
		t.Fatalf("headers must be sorted by name, got %s, %s", headers[0].Key, headers[1].Key)
	}
	if recordHeaders(nil) != nil {
		t.Fatal("no headers must produce nil")
	}
}
