package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/timeline"
)

// InventoryAdjuster списывает остатки при первом подтверждении оплаты.
type InventoryAdjuster interface {
	DecrementForOrder(orderID string, items []domain.ItemQuantity)
}

// Dependencies - коллабораторы движка сверки. Events и Notifier необязательны.
type Dependencies struct {
	Orders    domain.OrderStore
	Gateway   domain.PaymentGateway
	Inventory InventoryAdjuster
	Ledger    domain.DeadLetterLedger
	Notifier  domain.Notifier
	Events    *timeline.Recorder
	Policy    auth.Policy
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRetryConfig задаёт параметры retry envelope.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg.normalized()
	}
}

// WithSleep подменяет ожидание между попытками (для тестов).
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine сводит все сигналы об оплате к одной идемпотентной операции Reconcile.
type Engine struct {
	orders    domain.OrderStore
	gateway   domain.PaymentGateway
	inventory InventoryAdjuster
	ledger    domain.DeadLetterLedger
	notifier  domain.Notifier
	events    *timeline.Recorder
	policy    auth.Policy

	retry   RetryConfig
	sleep   func(time.Duration)
	now     func() time.Time
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
}

// NewEngine создаёт движок сверки.
func NewEngine(deps Dependencies, opts ...Option) *Engine {
	e := &Engine{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		inventory: deps.Inventory,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		events:    deps.Events,
		policy:    deps.Policy,
		retry:     DefaultRetryConfig(),
		sleep:     time.Sleep,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log.New().WithField("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var errIntentMismatch = fmt.Errorf("%w: %w", domain.ErrForbidden, domain.ErrIntentOrderMismatch)

// attemptError запоминает, на каком шаге упала попытка, для dead-letter payload.
type attemptError struct {
	stage string
	err   error
}

// Reconcile приводит заказ к состоянию, соответствующему правде провайдера.
//
// Загрузка заказа, запрос к шлюзу и запись успешной оплаты делят один бюджет попыток.
// Запись неуспешных исходов выполняется один раз. Вызов не принимает контекст:
// начатая последовательность повторов доводится до конца независимо от вызывающего.
func (e *Engine) Reconcile(orderID string, sig Signal) (Result, error) {
	done := e.metrics.ReconcileStarted(string(sig.Source))
	res, err := e.reconcile(orderID, sig)
	done(metricOutcome(res, err))
	return res, err
}

func (e *Engine) reconcile(orderID string, sig Signal) (Result, error) {
	res := Result{OrderID: orderID}
	if orderID == "" {
		return res, domain.ErrOrderIDRequired
	}

	logger := e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"source":   sig.Source,
		"event_id": sig.EventID,
	})

	truth := sig.Result
	var last attemptError

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			e.metrics.RecordRetry()
			delay := e.retry.delayAfter(attempt - 1)
			logger.WithError(last.err).WithFields(log.Fields{
				"attempt": attempt,
				"stage":   last.stage,
				"delay":   delay,
			}).Warn("reconcile attempt failed, retrying")
			e.sleep(delay)
		}

		order, err := e.orders.Get(orderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return res, err
			}
			last = attemptError{stage: "load", err: err}
			continue
		}

		// Идемпотентность: повторный сигнал по оплаченному заказу ничего не меняет.
		if order.PaymentCompleted() {
			return e.alreadyCompleted(res, logger), nil
		}

		if truth == nil {
			fetched, err := e.resolve(orderID, sig)
			if err != nil {
				if !domain.IsTransient(err) {
					return res, err
				}
				last = attemptError{stage: "fetch", err: err}
				continue
			}
			truth = &fetched
		}
		res.ProcessorStatus = truth.ProcessorStatus

		switch truth.Outcome {
		case domain.ProcessorOutcomeSucceeded:
			updated, err := e.orders.ApplyPaymentTransition(orderID, e.completedTransition(order, *truth, sig))
			if err != nil {
				if errors.Is(err, domain.ErrPaymentAlreadyCompleted) {
					return e.alreadyCompleted(res, logger), nil
				}
				if errors.Is(err, domain.ErrOrderNotFound) {
					return res, err
				}
				last = attemptError{stage: "write", err: err}
				continue
			}
			e.afterCompleted(updated, *truth, sig, logger)
			res.Outcome = OutcomeCompleted
			res.PaymentStatus = updated.PaymentDetails.Status
			logger.WithField("attempt", attempt).Info("payment reconciled as completed")
			return res, nil

		case domain.ProcessorOutcomeRequiresAction:
			return e.applyOnce(res, orderID, domain.PaymentAwaitingAction{
				TransactionID: firstNonEmpty(truth.TransactionID, sig.IntentID),
				LastAction:    truth.ProcessorStatus,
			}, OutcomeRequiresAction, domain.EventPaymentRequiresAction, logger)

		case domain.ProcessorOutcomeFailed:
			return e.applyOnce(res, orderID, domain.PaymentFailed{
				TransactionID: firstNonEmpty(truth.TransactionID, sig.IntentID),
				LastError:     firstNonEmpty(truth.LastError, "payment "+truth.ProcessorStatus),
			}, OutcomeFailed, domain.EventPaymentFailed, logger)

		default:
			return res, fmt.Errorf("unsupported processor outcome %q", truth.Outcome)
		}
	}

	return e.exhausted(res, sig, truth, last, logger)
}

// resolve запрашивает правду провайдера: checkout session приоритетнее intent.
func (e *Engine) resolve(orderID string, sig Signal) (domain.ProcessorResult, error) {
	switch {
	case sig.CheckoutSessionID != "":
		snap, err := e.gateway.RetrieveCheckoutSession(sig.CheckoutSessionID)
		if err != nil {
			return domain.ProcessorResult{}, err
		}
		if snap.OrderID != "" && snap.OrderID != orderID {
			return domain.ProcessorResult{}, errIntentMismatch
		}
		return snap.Result(), nil
	case sig.IntentID != "":
		snap, err := e.gateway.RetrieveIntent(sig.IntentID)
		if err != nil {
			return domain.ProcessorResult{}, err
		}
		if snap.OrderID != "" && snap.OrderID != orderID {
			return domain.ProcessorResult{}, errIntentMismatch
		}
		return snap.Result(), nil
	default:
		return domain.ProcessorResult{}, domain.ErrNoPaymentReference
	}
}

func (e *Engine) completedTransition(order domain.Order, truth domain.ProcessorResult, sig Signal) domain.PaymentCompleted {
	amount := truth.AmountMinor
	if amount == 0 {
		amount = order.TotalAmountMinor
	}
	return domain.PaymentCompleted{
		TransactionID:   firstNonEmpty(truth.TransactionID, sig.IntentID),
		AmountPaidMinor: amount,
		PaymentMethod:   firstNonEmpty(truth.PaymentMethod, order.PaymentDetails.Method),
		CompletedAt:     e.now(),
	}
}

// afterCompleted выполняет побочные эффекты первой успешной оплаты.
// Их ошибки только логируются: подтверждённая оплата не откатывается.
func (e *Engine) afterCompleted(order domain.Order, truth domain.ProcessorResult, sig Signal, logger *log.Entry) {
	if truth.AmountMinor != 0 && truth.AmountMinor != order.TotalAmountMinor {
		logger.WithFields(log.Fields{
			"amount_paid":  truth.AmountMinor,
			"total_amount": order.TotalAmountMinor,
		}).Warn("processor amount differs from order total")
	}

	if e.inventory != nil {
		e.inventory.DecrementForOrder(order.ID, order.ItemQuantities())
	}

	e.notifyCompleted(order, logger)

	e.events.Emit(order.ID, domain.EventPaymentCompleted, map[string]interface{}{
		"order_number":   order.OrderNumber,
		"payment_status": order.PaymentDetails.Status,
		"status":         order.Status,
		"amount_paid":    order.AmountPaidMinor,
		"payment_method": order.PaymentMethod,
		"transaction_id": order.PaymentDetails.TransactionID,
		"source":         sig.Source,
		"reason":         string(sig.Source),
	})
}

func (e *Engine) notifyCompleted(order domain.Order, logger *log.Entry) {
	if e.notifier == nil {
		return
	}
	if order.Customer.Email == "" {
		logger.Warn("order has no customer email, skipping confirmation")
		return
	}

	paidAt := e.now()
	if order.PaymentCompletedAt != nil {
		paidAt = *order.PaymentCompletedAt
	}
	err := e.notifier.SendOrderConfirmation(domain.OrderConfirmation{
		To:            order.Customer.Email,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.Customer.FullName(),
		TotalMinor:    order.TotalAmountMinor,
		Currency:      order.PaymentDetails.Currency,
		PaymentMethod: order.PaymentMethod,
		PaidAt:        paidAt,
	})
	e.metrics.RecordNotification("order_confirmation", err)
	if err != nil {
		logger.WithError(err).Warn("order confirmation notification failed")
	}
}

// applyOnce записывает неуспешный исход одной попыткой.
func (e *Engine) applyOnce(
	res Result,
	orderID string,
	transition domain.PaymentTransition,
	outcome Outcome,
	eventType string,
	logger *log.Entry,
) (Result, error) {
	updated, err := e.orders.ApplyPaymentTransition(orderID, transition)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyCompleted) {
			return e.alreadyCompleted(res, logger), nil
		}
		if errors.Is(err, domain.ErrOrderNotFound) {
			return res, err
		}
		logger.WithError(err).WithField("transition", transition.Name()).Warn("payment transition write failed")
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		return res, err
	}

	res.Outcome = outcome
	res.PaymentStatus = updated.PaymentDetails.Status
	e.events.Emit(orderID, eventType, map[string]interface{}{
		"payment_status":   updated.PaymentDetails.Status,
		"processor_status": res.ProcessorStatus,
		"last_error":       updated.PaymentDetails.LastError,
		"last_action":      updated.PaymentDetails.LastAction,
		"reason":           res.ProcessorStatus,
	})
	logger.WithField("outcome", outcome).Info("payment reconciled as not completed")
	return res, nil
}

func (e *Engine) alreadyCompleted(res Result, logger *log.Entry) Result {
	res.Outcome = OutcomeAlreadyCompleted
	res.PaymentStatus = domain.PaymentStatusCompleted
	logger.Debug("payment already completed, nothing to do")
	return res
}

type deadLetterPayload struct {
	Error    string `json:"error"`
	Stage    string `json:"stage"`
	Attempts int    `json:"attempts"`
}

// exhausted записывает ровно одну dead-letter запись и возвращает ErrExhausted.
func (e *Engine) exhausted(res Result, sig Signal, truth *domain.ProcessorResult, last attemptError, logger *log.Entry) (Result, error) {
	payload, err := json.Marshal(deadLetterPayload{
		Error:    errString(last.err),
		Stage:    last.stage,
		Attempts: res.Attempts,
	})
	if err != nil {
		payload = []byte(errString(last.err))
	}

	record := domain.DeadLetterRecord{
		OrderID:           res.OrderID,
		Source:            sig.Source,
		EventID:           sig.EventID,
		IntentID:          sig.IntentID,
		CheckoutSessionID: sig.CheckoutSessionID,
		ErrorPayload:      string(payload),
		Attempts:          res.Attempts,
		CreatedAt:         e.now(),
	}
	if truth != nil {
		record.ProcessorStatus = truth.ProcessorStatus
		record.AmountMinor = truth.AmountMinor
		record.IntentID = firstNonEmpty(record.IntentID, truth.TransactionID)
	}

	saved, appendErr := e.ledger.Append(record)
	if appendErr != nil {
		logger.WithError(appendErr).WithField("dead_letter_payload", string(payload)).Error("dead letter write failed")
	} else {
		res.DeadLetterID = saved.ID
		e.metrics.RecordDeadLetter()
		e.events.Emit(res.OrderID, domain.EventPaymentDeadLettered, map[string]interface{}{
			"dead_letter_id": saved.ID,
			"stage":          last.stage,
			"attempts":       res.Attempts,
			"reason":         errString(last.err),
		})
	}

	logger.WithError(last.err).WithFields(log.Fields{
		"attempts":       res.Attempts,
		"stage":          last.stage,
		"dead_letter_id": res.DeadLetterID,
	}).Error("reconcile retries exhausted")

	return res, fmt.Errorf("%w: %v", domain.ErrExhausted, last.err)
}

func metricOutcome(res Result, err error) string {
	switch {
	case errors.Is(err, domain.ErrExhausted):
		return "dead_lettered"
	case err != nil:
		return "error"
	case res.Outcome == "":
		return "unknown"
	default:
		return string(res.Outcome)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
