package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics содержит метрики сверки платежей.
// Все методы безопасны для nil-получателя, чтобы тесты могли работать без метрик.
type ReconcileMetrics struct {
	// Исходы сверки по точке входа.
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	// Повторы и dead-letter.
	retries             prometheus.Counter
	deadLetters         prometheus.Counter
	deadLettersResolved prometheus.Counter

	// Побочные эффекты успешной оплаты.
	inventoryAdjustments *prometheus.CounterVec
	notifications        *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReconcileMetrics создаёт метрики в глобальном реестре.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer создаёт метрики в переданном реестре (изолированные тесты).
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		reconcileTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_reconcile_total",
			Help: "Total number of reconciliations by signal source and outcome",
		}, []string{"source", "outcome"}),
		reconcileDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "payrecon_reconcile_duration_seconds",
			Help:    "Duration of reconciliation calls in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		retries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_reconcile_retries_total",
			Help: "Total number of retried attempts inside the reconciliation retry envelope",
		}),
		deadLetters: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_dead_letters_total",
			Help: "Total number of dead-letter records written after retry exhaustion",
		}),
		deadLettersResolved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_dead_letters_resolved_total",
			Help: "Total number of dead-letter records marked processed by operators",
		}),
		inventoryAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_inventory_adjustments_total",
			Help: "Per-item inventory decrements by result",
		}, []string{"result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "payrecon_notifications_total",
			Help: "Customer notifications by kind and result",
		}, []string{"kind", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "payrecon_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "payrecon_reconcile_in_flight",
			Help: "Number of reconciliations currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// ReconcileStarted увеличивает gauge активных сверок и возвращает функцию завершения.
func (m *ReconcileMetrics) ReconcileStarted(source string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(outcome string) {
		m.inFlight.Dec()
		m.reconcileTotal.WithLabelValues(source, outcome).Inc()
		m.reconcileDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}

// RecordRetry фиксирует повтор внутри retry envelope.
func (m *ReconcileMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RecordDeadLetter фиксирует запись в dead-letter.
func (m *ReconcileMetrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

// RecordDeadLettersResolved фиксирует закрытые оператором записи.
func (m *ReconcileMetrics) RecordDeadLettersResolved(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deadLettersResolved.Add(float64(count))
}

// RecordInventoryAdjustment фиксирует результат списания одной позиции (ok, failed, skipped).
func (m *ReconcileMetrics) RecordInventoryAdjustment(result string) {
	if m == nil {
		return
	}
	m.inventoryAdjustments.WithLabelValues(result).Inc()
}

// RecordNotification фиксирует отправку письма.
func (m *ReconcileMetrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReconcileMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReconcileMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
