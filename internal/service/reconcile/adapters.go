package reconcile

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// HandleProcessorEvent обрабатывает проверенное событие webhook.
// События без исхода оплаты или без orderId подтверждаются и игнорируются.
func (e *Engine) HandleProcessorEvent(event domain.ProcessorEvent) (Result, error) {
	logger := e.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	if !event.Supported() {
		logger.Debug("processor event ignored: unsupported type")
		return Result{OrderID: event.OrderID, Outcome: OutcomeIgnored}, nil
	}
	if event.OrderID == "" {
		logger.Warn("processor event ignored: no order id in metadata")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	result := event.Result
	return e.Reconcile(event.OrderID, Signal{
		Source:            domain.SignalSourceWebhook,
		EventID:           event.ID,
		IntentID:          result.TransactionID,
		CheckoutSessionID: event.CheckoutSessionID,
		Result:            &result,
	})
}

// ConfirmClientPayment сверяет заказ после того, как клиент завершил платёжную форму.
// Правда всегда запрашивается у провайдера по intentID.
func (e *Engine) ConfirmClientPayment(principal auth.Principal, orderID, intentID string) (Result, error) {
	if !principal.Authenticated() {
		return Result{OrderID: orderID}, domain.ErrUnauthorized
	}
	if orderID == "" {
		return Result{}, domain.ErrOrderIDRequired
	}
	if intentID == "" {
		return Result{OrderID: orderID}, domain.ErrPaymentReferenceRequired
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return Result{OrderID: orderID}, err
	}
	if order.UserID != principal.UID && !auth.IsAdmin(e.policy, principal) {
		e.logger.WithFields(log.Fields{
			"order_id": orderID,
			"uid":      principal.UID,
		}).Warn("client confirmation by non-owner rejected")
		return Result{OrderID: orderID}, domain.ErrForbidden
	}

	return e.Reconcile(orderID, Signal{
		Source:   domain.SignalSourceClientConfirmation,
		IntentID: intentID,
	})
}

// AdminRetry повторяет сверку заказа вручную. При подтверждённой оплате
// все необработанные dead-letter записи заказа помечаются обработанными.
func (e *Engine) AdminRetry(principal auth.Principal, orderID string) (Result, error) {
	if err := e.authorize(principal, auth.ActionAdminRetry); err != nil {
		return Result{OrderID: orderID}, err
	}
	if orderID == "" {
		return Result{}, domain.ErrOrderIDRequired
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return Result{OrderID: orderID}, err
	}

	sig := Signal{Source: domain.SignalSourceAdminRetry}
	switch {
	case order.CheckoutSessionID != "":
		sig.CheckoutSessionID = order.CheckoutSessionID
	case order.PaymentDetails.TransactionID != "":
		sig.IntentID = order.PaymentDetails.TransactionID
	default:
		return Result{OrderID: orderID}, domain.ErrNoPaymentReference
	}

	res, err := e.Reconcile(orderID, sig)
	if err != nil || !res.Completed() {
		return res, err
	}

	resolved, err := e.ledger.MarkProcessed(orderID, principal.UID, e.now())
	if err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("mark dead letters processed failed")
		return res, nil
	}
	res.ResolvedDeadLetters = resolved
	if resolved > 0 {
		e.metrics.RecordDeadLettersResolved(resolved)
		e.events.Emit(orderID, domain.EventDeadLetterResolved, map[string]interface{}{
			"resolved":     resolved,
			"processed_by": principal.UID,
			"reason":       "admin retry by " + principal.UID,
		})
	}
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"admin":    principal.UID,
		"resolved": resolved,
	}).Info("admin retry completed")
	return res, nil
}

// ListDeadLetters возвращает dead-letter записи для административного просмотра.
func (e *Engine) ListDeadLetters(principal auth.Principal, filter domain.DeadLetterFilter) ([]domain.DeadLetterRecord, error) {
	if err := e.authorize(principal, auth.ActionDeadLetterRead); err != nil {
		return nil, err
	}
	return e.ledger.List(filter)
}

func (e *Engine) authorize(principal auth.Principal, action auth.Action) error {
	if !principal.Authenticated() {
		return domain.ErrUnauthorized
	}
	if e.policy == nil || !e.policy.Allow(principal, action) {
		return domain.ErrForbidden
	}
	return nil
}
