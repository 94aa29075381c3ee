package notify

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
)

const defaultQueueSize = 256

// ErrQueueFull возвращается, когда очередь писем переполнена.
var ErrQueueFull = errors.New("notification queue is full")

// ErrDispatcherClosed возвращается после остановки диспетчера.
var ErrDispatcherClosed = errors.New("notification dispatcher is closed")

type job struct {
	kind         string
	confirmation domain.OrderConfirmation
	reminder     domain.PaymentReminder
}

// Dispatcher отправляет письма в фоне, чтобы медленный провайдер не задерживал сверку.
type Dispatcher struct {
	next    domain.Notifier
	queue   chan job
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher создаёт диспетчер поверх синхронного Notifier.
func NewDispatcher(next domain.Notifier, queueSize int, m *metrics.ReconcileMetrics, logger *log.Entry) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.New().WithField("component", "notify-dispatcher")
	}
	return &Dispatcher{
		next:    next,
		queue:   make(chan job, queueSize),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) SendOrderConfirmation(msg domain.OrderConfirmation) error {
	return d.enqueue(job{kind: "order_confirmation", confirmation: msg})
}

func (d *Dispatcher) SendPaymentReminder(msg domain.PaymentReminder) error {
	return d.enqueue(job{kind: "payment_reminder", reminder: msg})
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run обрабатывает очередь до отмены ctx, затем дописывает оставшиеся письма.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain()
			return
		case j := <-d.queue:
			d.deliver(j)
		}
	}
}

// Wait ждёт завершения Run.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) drain() {
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	var (
		err     error
		orderID string
	)
	switch j.kind {
	case "order_confirmation":
		orderID = j.confirmation.OrderID
		err = d.next.SendOrderConfirmation(j.confirmation)
	case "payment_reminder":
		orderID = j.reminder.OrderID
		err = d.next.SendPaymentReminder(j.reminder)
	}
	d.metrics.RecordNotification(j.kind+"_delivery", err)
	if err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"kind":     j.kind,
		}).Warn("notification delivery failed")
	}
}

var _ domain.Notifier = (*Dispatcher)(nil)
