// Package outbox переносит события оплаты из transactional outbox в Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

const maxPublishBackoff = 5 * time.Second

// RelayConfig задаёт расписание и политику повторов публикации.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Backoff - пауза перед второй попыткой; каждая следующая вдвое длиннее, не более 5s.
	Backoff time.Duration
	// Quarantine получает события, которые не удалось опубликовать. Может быть nil.
	Quarantine domain.OutboxPublisher
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

// Relay публикует pending-события и отмечает результат в outbox.
type Relay struct {
	events  domain.OutboxRepository
	broker  domain.OutboxPublisher
	cfg     RelayConfig
	metrics *metrics.WorkerMetrics
	logger  *log.Entry
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRelay создаёт relay; metrics и logger могут быть nil.
func NewRelay(events domain.OutboxRepository, broker domain.OutboxPublisher, cfg RelayConfig, m *metrics.WorkerMetrics, logger *log.Entry) *Relay {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Relay{
		events:  events,
		broker:  broker,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger.WithField("component", "outbox-relay"),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run опрашивает outbox до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if r.events == nil || r.broker == nil {
		r.logger.Warn("outbox relay disabled: no outbox or broker")
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain публикует одну порцию pending-событий и возвращает число опубликованных.
func (r *Relay) Drain(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer r.observeBacklog()

	batch, err := r.events.PullPending(r.cfg.BatchSize)
	if err != nil {
		r.logger.WithError(err).Warn("pull pending payment events failed")
		return 0
	}

	published := 0
	for _, ev := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := r.logger.WithFields(log.Fields{
			"event_id":   ev.ID,
			"order_id":   ev.AggregateID,
			"event_type": ev.EventType,
		})

		attempts, err := r.deliver(ctx, ev)
		if err == nil {
			if markErr := r.events.MarkSent(ev.ID); markErr != nil {
				entry.WithError(markErr).Warn("payment event published but not marked sent")
				continue
			}
			published++
			continue
		}
		if ctx.Err() != nil {
			// Событие остаётся pending и уйдёт в следующем проходе после рестарта.
			break
		}

		entry.WithError(err).WithField("attempts", attempts).Error("payment event publish exhausted retries")
		r.metrics.RecordOutboxPublish("failed")
		r.quarantine(entry, ev, attempts, err)
		if markErr := r.events.MarkFailed(ev.ID); markErr != nil {
			entry.WithError(markErr).Warn("mark payment event failed")
		}
	}
	return published
}

func (r *Relay) deliver(ctx context.Context, ev domain.OutboxMessage) (int, error) {
	var err error
	wait := r.cfg.Backoff
	for attempt := 1; ; attempt++ {
		if err = r.broker.Publish(ev); err == nil {
			r.metrics.RecordOutboxPublish("sent")
			return attempt, nil
		}
		r.metrics.RecordOutboxPublish("retry_error")
		if attempt == r.cfg.MaxAttempts {
			return attempt, fmt.Errorf("publish %s after %d attempts: %w", ev.ID, attempt, err)
		}
		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			return attempt, sleepErr
		}
		wait = min(wait*2, maxPublishBackoff)
	}
}

// quarantinedEvent - запись в DLQ-топике для ручного разбора.
type quarantinedEvent struct {
	EventID       string          `json:"event_id"`
	OrderID       string          `json:"order_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error"`
	QuarantinedAt time.Time       `json:"quarantined_at"`
}

func (r *Relay) quarantine(entry *log.Entry, ev domain.OutboxMessage, attempts int, cause error) {
	if r.cfg.Quarantine == nil {
		return
	}

	payload := json.RawMessage(ev.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage(`null`)
	}
	body, err := json.Marshal(quarantinedEvent{
		EventID:       ev.ID,
		OrderID:       ev.AggregateID,
		EventType:     ev.EventType,
		Payload:       payload,
		Attempts:      attempts,
		LastError:     cause.Error(),
		QuarantinedAt: r.now(),
	})
	if err == nil {
		quarantined := ev
		quarantined.Payload = body
		err = r.cfg.Quarantine.Publish(quarantined)
	}
	if err != nil {
		entry.WithError(err).Warn("payment event quarantine failed")
		r.metrics.RecordOutboxPublish("dlq_failed")
	}
}

func (r *Relay) observeBacklog() {
	if r.metrics == nil {
		return
	}
	stats, err := r.events.Stats()
	if err != nil {
		r.logger.WithError(err).Warn("read outbox backlog failed")
		return
	}
	r.metrics.SetOutboxBacklog(stats.PendingCount, stats.OldestPendingAt, r.now())
}
