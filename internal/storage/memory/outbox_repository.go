package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type eventState uint8

const (
	eventPending eventState = iota
	eventPublished
	eventFailed
)

type queuedEvent struct {
	msg        domain.OutboxMessage
	state      eventState
	enqueuedAt time.Time
}

// PaymentEventOutbox - in-memory outbox событий оплаты; порядок выдачи совпадает с порядком записи.
type PaymentEventOutbox struct {
	mu    sync.Mutex
	now   func() time.Time
	queue []*queuedEvent
	byID  map[string]*queuedEvent
}

// NewOutboxRepository создаёт in-memory outbox.
func NewOutboxRepository() *PaymentEventOutbox {
	return &PaymentEventOutbox{
		now:  func() time.Time { return time.Now().UTC() },
		byID: make(map[string]*queuedEvent),
	}
}

func (o *PaymentEventOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.AggregateID == "" {
		return domain.OutboxMessage{}, domain.ErrOrderIDRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AggregateType == "" {
		msg.AggregateType = "order"
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	o.mu.Lock()
	defer o.mu.Unlock()

	ev := &queuedEvent{msg: msg, enqueuedAt: o.now()}
	o.queue = append(o.queue, ev)
	o.byID[msg.ID] = ev
	return msg, nil
}

// PullPending возвращает до limit неопубликованных событий; limit <= 0 означает 100.
func (o *PaymentEventOutbox) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return o.pending(limit), nil
}

func (o *PaymentEventOutbox) pending(limit int) []domain.OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []domain.OutboxMessage
	for _, ev := range o.queue {
		if limit > 0 && len(out) == limit {
			break
		}
		if ev.state == eventPending {
			out = append(out, ev.msg)
		}
	}
	return out
}

func (o *PaymentEventOutbox) Stats() (domain.OutboxStats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var stats domain.OutboxStats
	for _, ev := range o.queue {
		if ev.state != eventPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = ev.enqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (o *PaymentEventOutbox) MarkSent(id string) error   { return o.settle(id, eventPublished) }
func (o *PaymentEventOutbox) MarkFailed(id string) error { return o.settle(id, eventFailed) }

// settle переводит только pending-событие, как и PostgreSQL-реализация.
func (o *PaymentEventOutbox) settle(id string, state eventState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ev, ok := o.byID[id]
	if !ok || ev.state != eventPending {
		return fmt.Errorf("%w: payment event %s is not pending", domain.ErrOutboxPublish, id)
	}
	ev.state = state
	return nil
}

// AllPending возвращает все неопубликованные события.
func (o *PaymentEventOutbox) AllPending() []domain.OutboxMessage {
	return o.pending(0)
}

var _ domain.OutboxRepository = (*PaymentEventOutbox)(nil)
