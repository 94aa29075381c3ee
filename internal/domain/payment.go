package domain

import "time"

// PaymentStatus описывает состояние платежа заказа (payment-автомат).
type PaymentStatus string

const (
	// PaymentStatusPending - платёж ещё не начат.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing - intent создан или провайдер ждёт действия клиента.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted - провайдер подтвердил оплату. Финальный статус.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed - провайдер отклонил платёж; можно повторить.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionPayment проверяет переход payment-автомата.
// Повторный вход в completed допустим и ничего не меняет, выход из completed запрещён.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch from {
	case PaymentStatusCompleted:
		return to == PaymentStatusCompleted
	case PaymentStatusProcessing:
		return to != PaymentStatusPending
	default:
		return true
	}
}

// PaymentDetails - вложенная запись оплаты заказа.
type PaymentDetails struct {
	Method        string
	Status        PaymentStatus
	TransactionID string
	AmountMinor   int64
	Currency      string
	PaymentDate   *time.Time
	LastError     string
	// LastAction хранит подстатус провайдера для исходов, требующих действия клиента.
	LastAction string
}

// ProcessorOutcome - нормализованный исход со стороны платёжного провайдера.
type ProcessorOutcome string

const (
	// ProcessorOutcomeSucceeded - оплата прошла.
	ProcessorOutcomeSucceeded ProcessorOutcome = "succeeded"
	// ProcessorOutcomeRequiresAction - нужна аутентификация или подтверждение клиента.
	ProcessorOutcomeRequiresAction ProcessorOutcome = "requires_action"
	// ProcessorOutcomeFailed - оплата отклонена или не выполнена.
	ProcessorOutcomeFailed ProcessorOutcome = "failed"
)

// Valid проверяет, что исход известен.
func (o ProcessorOutcome) Valid() bool {
	switch o {
	case ProcessorOutcomeSucceeded, ProcessorOutcomeRequiresAction, ProcessorOutcomeFailed:
		return true
	default:
		return false
	}
}

// ProcessorResult - снимок правды провайдера, по которому принимается решение о переходе.
type ProcessorResult struct {
	Outcome ProcessorOutcome
	// ProcessorStatus - исходный статус провайдера (succeeded, requires_action, unpaid, ...).
	ProcessorStatus string
	TransactionID   string
	AmountMinor     int64
	Currency        string
	PaymentMethod   string
	LastError       string
	OccurredAt      time.Time
}

// ProcessorEvent - проверенное по подписи событие webhook.
type ProcessorEvent struct {
	ID                string
	Type              string
	OrderID           string
	CheckoutSessionID string
	Result            ProcessorResult
}

// Supported сообщает, несёт ли событие исход оплаты.
func (e ProcessorEvent) Supported() bool {
	return e.Result.Outcome.Valid()
}

// IntentRequest - параметры создания payment intent.
type IntentRequest struct {
	OrderID     string
	OrderNumber string
	UserID      string
	AmountMinor int64
	Currency    string
}

// IntentHandle - результат создания payment intent.
type IntentHandle struct {
	IntentID     string
	ClientSecret string
}

// IntentSnapshot - состояние payment intent у провайдера.
type IntentSnapshot struct {
	ID                  string
	Status              string
	Outcome             ProcessorOutcome
	AmountMinor         int64
	AmountReceivedMinor int64
	Currency            string
	PaymentMethod       string
	LastError           string
	OrderID             string
	Created             time.Time
}

// Result переводит снимок intent в ProcessorResult.
func (s IntentSnapshot) Result() ProcessorResult {
	return ProcessorResult{
		Outcome:         s.Outcome,
		ProcessorStatus: s.Status,
		TransactionID:   s.ID,
		AmountMinor:     s.AmountReceivedMinor,
		Currency:        s.Currency,
		PaymentMethod:   s.PaymentMethod,
		LastError:       s.LastError,
		OccurredAt:      s.Created,
	}
}

// CheckoutSessionSnapshot - состояние checkout session у провайдера.
type CheckoutSessionSnapshot struct {
	ID               string
	PaymentStatus    string
	Outcome          ProcessorOutcome
	AmountTotalMinor int64
	Currency         string
	Created          time.Time
	PaymentIntentID  string
	PaymentMethod    string
	OrderID          string
}

// Result переводит снимок session в ProcessorResult.
func (s CheckoutSessionSnapshot) Result() ProcessorResult {
	res := ProcessorResult{
		Outcome:         s.Outcome,
		ProcessorStatus: s.PaymentStatus,
		TransactionID:   s.PaymentIntentID,
		AmountMinor:     s.AmountTotalMinor,
		Currency:        s.Currency,
		PaymentMethod:   s.PaymentMethod,
		OccurredAt:      s.Created,
	}
	if s.Outcome == ProcessorOutcomeFailed {
		res.LastError = "checkout session payment status: " + s.PaymentStatus
	}
	return res
}

// CheckoutSessionRequest - параметры ссылки на оплату.
type CheckoutSessionRequest struct {
	OrderID       string
	OrderNumber   string
	CustomerEmail string
	Currency      string
	Items         []OrderItem
	// ExtraMinor - доставка и налоги минус скидка, отдельной строкой.
	ExtraMinor int64
	SuccessURL string
	CancelURL  string
}

// CheckoutSessionHandle - созданная ссылка на оплату.
type CheckoutSessionHandle struct {
	SessionID string
	URL       string
}
