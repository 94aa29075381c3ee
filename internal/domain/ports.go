package domain

import "time"

// PaymentGateway - узкий интерфейс к платёжному провайдеру.
// Снимки считаются правдой провайдера; локальные флаги никогда не заменяют их.
type PaymentGateway interface {
	CreateIntent(req IntentRequest) (IntentHandle, error)
	RetrieveIntent(intentID string) (IntentSnapshot, error)
	RetrieveCheckoutSession(sessionID string) (CheckoutSessionSnapshot, error)
}

// PaymentLinkIssuer выпускает ссылки на оплату для напоминаний.
type PaymentLinkIssuer interface {
	CreateCheckoutSession(req CheckoutSessionRequest) (CheckoutSessionHandle, error)
}

// Notifier отправляет письма покупателю. Ошибки только логируются вызывающей стороной.
type Notifier interface {
	SendOrderConfirmation(msg OrderConfirmation) error
	SendPaymentReminder(msg PaymentReminder) error
}

type TimelineRepository interface {
	Append(event TimelineEvent) error
	// List возвращает события заказа по времени, при равенстве в порядке записи.
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository - журнал доставок webhook.
//
// CreateProcessing захватывает ключ: живая запись с другим хешем даёт ErrIdempotencyHashMismatch,
// живая запись в processing или done даёт ErrIdempotencyKeyAlreadyExists. Истёкшая запись
// или failed с тем же хешем захватывается заново.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет не больше limit записей с TTLAt <= before; limit <= 0 без ограничения.
	DeleteExpired(before time.Time, limit int) (int, error)
}
