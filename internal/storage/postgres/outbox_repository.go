package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	outboxStatePending   = "pending"
	outboxStatePublished = "published"
	outboxStateFailed    = "failed"

	defaultOutboxBatch = 100
)

// paymentEventOutbox хранит события оплаты в payment_event_outbox до публикации в Kafka.
type paymentEventOutbox struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &paymentEventOutbox{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *paymentEventOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.AggregateID == "" {
		return domain.OutboxMessage{}, domain.ErrOrderIDRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.AggregateType == "" {
		msg.AggregateType = "order"
	}
	payload := "{}"
	if len(msg.Payload) > 0 {
		payload = string(msg.Payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := r.now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_event_outbox (
			id, order_id, aggregate_type, event_type, payload,
			state, enqueued_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, 'pending', $6, $6)
	`, msg.ID, msg.AggregateID, msg.AggregateType, msg.EventType, payload, now); err != nil {
		return domain.OutboxMessage{}, unavailable("enqueue payment event", err)
	}
	return msg, nil
}

// PullPending возвращает неопубликованные события в порядке постановки.
func (r *paymentEventOutbox) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, order_id, event_type, payload::text
		FROM payment_event_outbox
		WHERE state = 'pending'
		ORDER BY enqueued_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, unavailable("pull pending payment events", err)
	}
	defer rows.Close()

	var out []domain.OutboxMessage
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &payload); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		msg.Payload = []byte(payload)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate payment events", err)
	}
	return out, nil
}

func (r *paymentEventOutbox) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(enqueued_at)
		FROM payment_event_outbox
		WHERE state = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, unavailable("payment event backlog", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

// MarkSent фиксирует успешную публикацию и время публикации.
func (r *paymentEventOutbox) MarkSent(id string) error {
	return r.settle(id, outboxStatePublished)
}

// MarkFailed снимает событие с очереди: воркер уже отправил его в DLQ-топик.
func (r *paymentEventOutbox) MarkFailed(id string) error {
	return r.settle(id, outboxStateFailed)
}

// settle переводит только pending-событие; повторная отметка считается ошибкой публикации.
func (r *paymentEventOutbox) settle(id, state string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := r.now()
	var publishedAt sql.NullTime
	if state == outboxStatePublished {
		publishedAt = sql.NullTime{Time: now, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_event_outbox
		SET state = $2,
		    publish_attempts = publish_attempts + 1,
		    published_at = $3,
		    updated_at = $4
		WHERE id = $1 AND state = 'pending'
	`, id, state, publishedAt, now)
	if err != nil {
		return unavailable("settle payment event", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("settle payment event", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: payment event %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*paymentEventOutbox)(nil)
