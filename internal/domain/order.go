package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает состояние исполнения заказа (fulfillment).
type OrderStatus string

const (
	// OrderStatusPending - заказ оформлен, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing - оплата подтверждена, заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped - заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered - заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted - альтернативный финальный статус, закрывается администратором.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled - заказ отменён до завершения.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusCompleted},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionFulfillment проверяет переход fulfillment-автомата. Повтор того же статуса допустим.
func CanTransitionFulfillment(from, to OrderStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range fulfillmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanAdminTransitionFulfillment дополнительно запрещает ручной перевод pending -> processing:
// этот шаг выполняется только подтверждением оплаты.
func CanAdminTransitionFulfillment(from, to OrderStatus) bool {
	if from == OrderStatusPending && to == OrderStatusProcessing {
		return false
	}
	return CanTransitionFulfillment(from, to)
}

// Customer - контактные данные покупателя на момент оформления.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// FullName возвращает имя для писем и админки.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ShippingDetails описывает адрес и способ доставки.
type ShippingDetails struct {
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	Method        string `json:"method"`
	PriceMinor    int64  `json:"priceMinor"`
	EstimatedDays int32  `json:"estimatedDays,omitempty"`
}

// OrderItem - позиция заказа со снимком цены на момент покупки.
type OrderItem struct {
	ProductID    string
	Name         string
	Manufacturer string
	// UnitPriceMinor - цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64
	Quantity       int32
	LineTotalMinor int64
}

// Order агрегирует замороженную котировку заказа и изменяемые состояния оплаты и исполнения.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Customer    Customer

	Status         OrderStatus
	PaymentDetails PaymentDetails

	Items           []OrderItem
	ShippingDetails ShippingDetails

	SubtotalMinor       int64
	ShippingCostMinor   int64
	DiscountAmountMinor int64
	TaxAmountMinor      int64
	TotalAmountMinor    int64
	PromoCode           string

	CheckoutSessionID  string
	AmountPaidMinor    int64
	PaymentMethod      string
	PaymentCompletedAt *time.Time
	ReminderSentAt     *time.Time

	TrackingNumber        string
	Notes                 string
	EstimatedDeliveryDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentCompleted сообщает, что платёж по заказу уже подтверждён.
func (o *Order) PaymentCompleted() bool {
	return o.PaymentDetails.Status == PaymentStatusCompleted
}

// ItemQuantities возвращает пары товар/количество для склада.
func (o *Order) ItemQuantities() []ItemQuantity {
	out := make([]ItemQuantity, 0, len(o.Items))
	for _, item := range o.Items {
		out = append(out, ItemQuantity{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.PaymentDetails.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.LineTotalMinor != int64(item.Quantity)*item.UnitPriceMinor {
			errs = append(errs, ErrLineTotalMismatch)
		}
		subtotal += item.LineTotalMinor
	}
	if subtotal != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}

	if o.SubtotalMinor < 0 || o.ShippingCostMinor < 0 || o.DiscountAmountMinor < 0 ||
		o.TaxAmountMinor < 0 || o.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.TotalAmountMinor != ComputeTotal(o.SubtotalMinor, o.DiscountAmountMinor, o.ShippingCostMinor, o.TaxAmountMinor) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// ComputeTotal считает итог котировки. Вызывается один раз при создании заказа.
func ComputeTotal(subtotal, discount, shipping, tax int64) int64 {
	return subtotal - discount + shipping + tax
}

// FormatOrderNumber строит номер вида ORD-<последние 6 цифр unix-ms>-<4 символа суффикса>.
func FormatOrderNumber(createdAt time.Time, suffix string) string {
	suffix = strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return fmt.Sprintf("ORD-%06d-%s", createdAt.UnixMilli()%1_000_000, suffix)
}
