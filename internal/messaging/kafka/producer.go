// Package kafka публикует события оплаты в Kafka через sarama.
package kafka

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const producerClientID = "payrecon"

// producerConfig настраивает идемпотентный синхронный producer: подтверждение всех ISR
// и не больше одного запроса в полёте, иначе брокер не гарантирует порядок по ключу.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = producerClientID
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer отправляет JSON-сообщения в Kafka.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return NewProducerWithSyncProducer(sp, logger), nil
}

// NewProducerWithSyncProducer оборачивает готовый SyncProducer, например sarama/mocks.
func NewProducerWithSyncProducer(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Producer{
		sync:   sp,
		logger: logger.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
}

// PublishEvent сериализует event в JSON и синхронно отправляет в topic.
// Пустые значения заголовков не передаются.
func (p *Producer) PublishEvent(topic, key string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   recordHeaders(headers),
		Timestamp: p.now(),
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

// Close закрывает producer; nil-safe.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// recordHeaders упорядочивает заголовки по имени, чтобы сообщения были детерминированными.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	var out []sarama.RecordHeader
	for name, value := range headers {
		if value != "" {
			out = append(out, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}
