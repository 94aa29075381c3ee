package domain

import "time"

// SignalSource - точка входа, из которой пришёл сигнал сверки.
type SignalSource string

const (
	// SignalSourceWebhook - событие, присланное провайдером.
	SignalSourceWebhook SignalSource = "webhook"
	// SignalSourceClientConfirmation - подтверждение от клиента после платёжной формы.
	SignalSourceClientConfirmation SignalSource = "client_confirmation"
	// SignalSourceAdminRetry - ручной повтор администратором.
	SignalSourceAdminRetry SignalSource = "admin_retry"
)

// DeadLetterRecord фиксирует сверку, исчерпавшую повторы.
type DeadLetterRecord struct {
	ID                string
	OrderID           string
	Source            SignalSource
	EventID           string
	IntentID          string
	CheckoutSessionID string
	ProcessorStatus   string
	AmountMinor       int64
	// ErrorPayload - сериализованная последняя ошибка, показывается в админке как есть.
	ErrorPayload string
	Attempts     int
	Processed    bool
	ProcessedBy  string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
}

// DeadLetterFilter - фильтр для просмотра dead-letter записей.
type DeadLetterFilter struct {
	OrderID   string
	Processed *bool
	Limit     int
}

// Matches проверяет запись на соответствие фильтру (без учёта Limit).
func (f DeadLetterFilter) Matches(rec DeadLetterRecord) bool {
	if f.OrderID != "" && rec.OrderID != f.OrderID {
		return false
	}
	if f.Processed != nil && rec.Processed != *f.Processed {
		return false
	}
	return true
}
