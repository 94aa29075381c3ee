// Package idempotency удаляет устаревшие записи о доставках webhook.
package idempotency

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

// ExpiredDeliveries - часть IdempotencyRepository, нужная для очистки.
type ExpiredDeliveries interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// PurgeConfig задаёт расписание очистки.
type PurgeConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxBatches ограничивает число порций за один проход; 0 - без ограничения.
	MaxBatches int
}

func (c PurgeConfig) withDefaults() PurgeConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBatches < 0 {
		c.MaxBatches = 0
	}
	return c
}

// Purger периодически удаляет доставки, срок хранения которых истёк.
// Без удаления повторная доставка того же события получает сохранённый ответ.
type Purger struct {
	deliveries ExpiredDeliveries
	cfg        PurgeConfig
	metrics    *metrics.WorkerMetrics
	logger     *log.Entry
	now        func() time.Time
}

// NewPurger создаёт очистку; metrics и logger могут быть nil.
func NewPurger(deliveries ExpiredDeliveries, cfg PurgeConfig, m *metrics.WorkerMetrics, logger *log.Entry) *Purger {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Purger{
		deliveries: deliveries,
		cfg:        cfg.withDefaults(),
		metrics:    m,
		logger:     logger.WithField("component", "delivery-purger"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проход сразу и затем по расписанию до отмены ctx.
func (p *Purger) Run(ctx context.Context) {
	if p.deliveries == nil {
		p.logger.Warn("delivery purger disabled: no idempotency store")
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Purger) pass(ctx context.Context) {
	removed, err := p.Purge(ctx, p.now())
	if ctx.Err() != nil {
		return
	}
	p.metrics.RecordCleanupRun(removed, err)

	entry := p.logger.WithField("removed", removed)
	switch {
	case err != nil:
		entry.WithError(err).Warn("delivery purge failed")
	case removed > 0:
		entry.Info("expired webhook deliveries purged")
	}
}

// Purge удаляет доставки с expires_at <= before порциями BatchSize.
// Возвращает число удалённых записей, в том числе при ошибке в середине прохода.
func (p *Purger) Purge(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = p.now()
	}

	removed := 0
	for batch := 0; p.cfg.MaxBatches == 0 || batch < p.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := p.deliveries.DeleteExpired(before, p.cfg.BatchSize)
		if err != nil {
			return removed, err
		}
		removed += n
		p.metrics.RecordCleanupDeleted(n)
		if n < p.cfg.BatchSize {
			break
		}
	}
	return removed, nil
}
