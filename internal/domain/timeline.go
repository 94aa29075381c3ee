package domain

import "time"

// Типы событий timeline и outbox.
const (
	EventOrderCreated          = "OrderCreated"
	EventPaymentIntentAttached = "PaymentIntentAttached"
	EventPaymentCompleted      = "PaymentCompleted"
	EventPaymentRequiresAction = "PaymentRequiresAction"
	EventPaymentFailed         = "PaymentFailed"
	EventPaymentDeadLettered   = "PaymentDeadLettered"
	EventDeadLetterResolved    = "DeadLetterResolved"
	EventPaymentReminderSent   = "PaymentReminderSent"
	EventFulfillmentUpdated    = "FulfillmentUpdated"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
