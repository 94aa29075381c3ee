package domain

import "time"

// OutboxMessage - платёжное событие, записанное вместе с изменением заказа.
// AggregateID содержит id заказа и служит ключом партиционирования в Kafka.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats - размер очереди неопубликованных событий и возраст самого старого.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository хранит события до публикации.
// MarkSent и MarkFailed применимы только к pending-событию, иначе ErrOutboxPublish.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher доставляет событие брокеру. Повторная публикация того же ID допустима.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}
