package reconcile

import "github.com/vladislavdragonenkov/payrecon/internal/domain"

// Signal - входной сигнал сверки от одной из точек входа.
type Signal struct {
	Source            domain.SignalSource
	EventID           string
	IntentID          string
	CheckoutSessionID string
	// Result заполнен, когда правда провайдера пришла вместе с сигналом (webhook).
	// Иначе она запрашивается у шлюза по CheckoutSessionID или IntentID.
	Result *domain.ProcessorResult
}

// Outcome - итог одной сверки. Неуспешные исходы оплаты - обычные значения, не ошибки.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeRequiresAction   Outcome = "requires_action"
	OutcomeFailed           Outcome = "failed"
	// OutcomeIgnored - событие провайдера не несёт исхода оплаты.
	OutcomeIgnored Outcome = "ignored"
)

// Result описывает итог сверки для вызывающего.
type Result struct {
	OrderID         string
	Outcome         Outcome
	PaymentStatus   domain.PaymentStatus
	ProcessorStatus string
	Attempts        int
	DeadLetterID    string
	// ResolvedDeadLetters - сколько dead-letter записей закрыл ручной повтор.
	ResolvedDeadLetters int
}

// Completed сообщает, что оплата заказа подтверждена (сейчас или раньше).
func (r Result) Completed() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomeAlreadyCompleted
}
