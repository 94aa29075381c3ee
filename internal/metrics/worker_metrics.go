package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics - метрики фоновых воркеров: публикация outbox и очистка ключей идемпотентности.
type WorkerMetrics struct {
	outboxPublish   *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewWorkerMetrics создаёт метрики в глобальном реестре.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWithRegisterer создаёт метрики в переданном реестре.
func NewWorkerMetricsWithRegisterer(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &WorkerMetrics{
		outboxPublish: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payrecon_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payrecon_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		cleanupLastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payrecon_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
	}
}

// RecordOutboxPublish фиксирует попытку публикации (sent, retry_error, failed, dlq_failed).
func (m *WorkerMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст очереди outbox.
func (m *WorkerMetrics) SetOutboxBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.outboxOldestAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.outboxOldestAge.Set(age)
}

// RecordCleanupRun фиксирует итог цикла очистки.
func (m *WorkerMetrics) RecordCleanupRun(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.cleanupLastDeleted.Set(float64(deleted))
}

// RecordCleanupDeleted увеличивает счётчик удалённых ключей.
func (m *WorkerMetrics) RecordCleanupDeleted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(count))
}
