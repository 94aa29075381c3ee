package domain

import "time"

// PaymentTransition - закрытый набор частичных обновлений оплаты заказа.
// Каждый вариант перечисляет ровно ту группу полей, которую хранилище имеет право изменить.
type PaymentTransition interface {
	// Target возвращает целевой статус платежа; пустое значение означает, что статус не меняется.
	Target() PaymentStatus
	// Name используется в логах, метриках и timeline.
	Name() string
	// Validate проверяет заполненность полей варианта.
	Validate() error

	paymentTransition()
}

// PaymentCompleted - провайдер подтвердил оплату.
// Заказ в pending переходит в processing; других связей с fulfillment нет.
type PaymentCompleted struct {
	TransactionID   string
	AmountPaidMinor int64
	PaymentMethod   string
	CompletedAt     time.Time
}

// PaymentAwaitingAction - провайдер ждёт действия клиента (3DS, подтверждение).
type PaymentAwaitingAction struct {
	TransactionID string
	LastAction    string
}

// PaymentFailed - провайдер отклонил платёж.
type PaymentFailed struct {
	TransactionID string
	LastError     string
}

// PaymentIntentAttached - для заказа создан payment intent.
type PaymentIntentAttached struct {
	IntentID string
}

// CheckoutSessionAttached - для заказа выпущена ссылка на оплату (напоминание).
type CheckoutSessionAttached struct {
	SessionID      string
	ReminderSentAt time.Time
}

func (PaymentCompleted) Target() PaymentStatus        { return PaymentStatusCompleted }
func (PaymentAwaitingAction) Target() PaymentStatus   { return PaymentStatusProcessing }
func (PaymentFailed) Target() PaymentStatus           { return PaymentStatusFailed }
func (PaymentIntentAttached) Target() PaymentStatus   { return PaymentStatusProcessing }
func (CheckoutSessionAttached) Target() PaymentStatus { return "" }

func (PaymentCompleted) Name() string        { return "payment_completed" }
func (PaymentAwaitingAction) Name() string   { return "payment_requires_action" }
func (PaymentFailed) Name() string           { return "payment_failed" }
func (PaymentIntentAttached) Name() string   { return "payment_intent_attached" }
func (CheckoutSessionAttached) Name() string { return "checkout_session_attached" }

func (t PaymentCompleted) Validate() error {
	if t.AmountPaidMinor < 0 {
		return ErrAmountNegative
	}
	return nil
}

func (PaymentAwaitingAction) Validate() error { return nil }
func (PaymentFailed) Validate() error         { return nil }

func (t PaymentIntentAttached) Validate() error {
	if t.IntentID == "" {
		return ErrPaymentReferenceRequired
	}
	return nil
}

func (t CheckoutSessionAttached) Validate() error {
	if t.SessionID == "" {
		return ErrPaymentReferenceRequired
	}
	return nil
}

func (PaymentCompleted) paymentTransition()        {}
func (PaymentAwaitingAction) paymentTransition()   {}
func (PaymentFailed) paymentTransition()           {}
func (PaymentIntentAttached) paymentTransition()   {}
func (CheckoutSessionAttached) paymentTransition() {}

// ApplyPaymentTransition применяет переход к копии заказа в памяти.
// Используется хранилищами, которые не умеют частичное обновление на стороне сервера.
// Завершённый платёж не перезаписывается: возвращается ErrPaymentAlreadyCompleted.
func ApplyPaymentTransition(o *Order, t PaymentTransition, now time.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if o.PaymentCompleted() {
		return ErrPaymentAlreadyCompleted
	}

	switch v := t.(type) {
	case PaymentCompleted:
		completedAt := v.CompletedAt
		if completedAt.IsZero() {
			completedAt = now
		}
		if o.Status == OrderStatusPending {
			o.Status = OrderStatusProcessing
		}
		o.PaymentDetails.Status = PaymentStatusCompleted
		o.PaymentDetails.PaymentDate = &completedAt
		o.PaymentDetails.LastError = ""
		o.PaymentDetails.LastAction = ""
		if v.TransactionID != "" {
			o.PaymentDetails.TransactionID = v.TransactionID
		}
		o.PaymentCompletedAt = &completedAt
		o.AmountPaidMinor = v.AmountPaidMinor
		o.PaymentMethod = v.PaymentMethod
	case PaymentAwaitingAction:
		o.PaymentDetails.Status = PaymentStatusProcessing
		o.PaymentDetails.LastAction = v.LastAction
		if v.TransactionID != "" {
			o.PaymentDetails.TransactionID = v.TransactionID
		}
	case PaymentFailed:
		o.PaymentDetails.Status = PaymentStatusFailed
		o.PaymentDetails.LastError = v.LastError
		if v.TransactionID != "" {
			o.PaymentDetails.TransactionID = v.TransactionID
		}
	case PaymentIntentAttached:
		o.PaymentDetails.Status = PaymentStatusProcessing
		o.PaymentDetails.TransactionID = v.IntentID
		o.PaymentDetails.LastError = ""
	case CheckoutSessionAttached:
		o.CheckoutSessionID = v.SessionID
		if !v.ReminderSentAt.IsZero() {
			sentAt := v.ReminderSentAt
			o.ReminderSentAt = &sentAt
		}
	default:
		return ErrUnknownTransition
	}

	o.UpdatedAt = now
	return nil
}

// FulfillmentEdit - ручная правка полей исполнения администратором. nil означает «не менять».
type FulfillmentEdit struct {
	Status                *OrderStatus
	TrackingNumber        *string
	Notes                 *string
	EstimatedDeliveryDate *time.Time
}

// IsEmpty сообщает, что правка ничего не меняет.
func (e FulfillmentEdit) IsEmpty() bool {
	return e.Status == nil && e.TrackingNumber == nil && e.Notes == nil && e.EstimatedDeliveryDate == nil
}

// ApplyFulfillmentEdit применяет правку к копии заказа в памяти.
func ApplyFulfillmentEdit(o *Order, e FulfillmentEdit, now time.Time) error {
	if e.IsEmpty() {
		return ErrEmptyFulfillmentEdit
	}
	if e.Status != nil {
		if !e.Status.Valid() {
			return ErrInvalidFulfillmentTransition
		}
		o.Status = *e.Status
	}
	if e.TrackingNumber != nil {
		o.TrackingNumber = *e.TrackingNumber
	}
	if e.Notes != nil {
		o.Notes = *e.Notes
	}
	if e.EstimatedDeliveryDate != nil {
		date := *e.EstimatedDeliveryDate
		o.EstimatedDeliveryDate = &date
	}
	o.UpdatedAt = now
	return nil
}
