package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
)

type confirmPaymentRequest struct {
	OrderID  string `json:"orderId"`
	IntentID string `json:"intentId"`
}

type orderRefRequest struct {
	OrderID string `json:"orderId"`
}

type intentResponse struct {
	OrderID      string `json:"orderId"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

type reminderResponse struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type adminRetryResponse struct {
	OrderID             string `json:"orderId"`
	Outcome             string `json:"outcome,omitempty"`
	PaymentStatus       string `json:"paymentStatus,omitempty"`
	ProcessorStatus     string `json:"processorStatus,omitempty"`
	Attempts            int    `json:"attempts"`
	DeadLetterID        string `json:"deadLetterId,omitempty"`
	ResolvedDeadLetters int    `json:"resolvedDeadLetters"`
	Error               string `json:"error,omitempty"`
}

type itemRequest struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Manufacturer   string `json:"manufacturer"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int32  `json:"quantity"`
}

type createOrderRequest struct {
	Customer            domain.Customer        `json:"customer"`
	Items               []itemRequest          `json:"items"`
	Shipping            domain.ShippingDetails `json:"shipping"`
	Currency            string                 `json:"currency"`
	PaymentMethod       string                 `json:"paymentMethod"`
	DiscountAmountMinor int64                  `json:"discountAmountMinor"`
	TaxAmountMinor      int64                  `json:"taxAmountMinor"`
	PromoCode           string                 `json:"promoCode,omitempty"`
}

func (r createOrderRequest) toService() checkout.CreateOrderRequest {
	items := make([]checkout.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, checkout.ItemInput{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Manufacturer:   item.Manufacturer,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
		})
	}
	return checkout.CreateOrderRequest{
		Customer:            r.Customer,
		Items:               items,
		Shipping:            r.Shipping,
		Currency:            r.Currency,
		PaymentMethod:       r.PaymentMethod,
		DiscountAmountMinor: r.DiscountAmountMinor,
		TaxAmountMinor:      r.TaxAmountMinor,
		PromoCode:           r.PromoCode,
	}
}

type fulfillmentEditRequest struct {
	Status                *string    `json:"status"`
	TrackingNumber        *string    `json:"trackingNumber"`
	Notes                 *string    `json:"notes"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate"`
}

func (r fulfillmentEditRequest) toDomain() domain.FulfillmentEdit {
	edit := domain.FulfillmentEdit{
		TrackingNumber:        r.TrackingNumber,
		Notes:                 r.Notes,
		EstimatedDeliveryDate: r.EstimatedDeliveryDate,
	}
	if r.Status != nil {
		status := domain.OrderStatus(*r.Status)
		edit.Status = &status
	}
	return edit
}

type orderItemDTO struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Quantity       int32  `json:"quantity"`
	LineTotalMinor int64  `json:"lineTotalMinor"`
}

type paymentDetailsDTO struct {
	Method        string     `json:"method,omitempty"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	AmountMinor   int64      `json:"amountMinor"`
	Currency      string     `json:"currency"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
}

type orderDTO struct {
	ID                    string                 `json:"id"`
	OrderNumber           string                 `json:"orderNumber"`
	UserID                string                 `json:"userId"`
	Customer              domain.Customer        `json:"customer"`
	Status                string                 `json:"status"`
	PaymentDetails        paymentDetailsDTO      `json:"paymentDetails"`
	Items                 []orderItemDTO         `json:"items"`
	ShippingDetails       domain.ShippingDetails `json:"shippingDetails"`
	SubtotalMinor         int64                  `json:"subtotalMinor"`
	ShippingCostMinor     int64                  `json:"shippingCostMinor"`
	DiscountAmountMinor   int64                  `json:"discountAmountMinor"`
	TaxAmountMinor        int64                  `json:"taxAmountMinor"`
	TotalAmountMinor      int64                  `json:"totalAmountMinor"`
	PromoCode             string                 `json:"promoCode,omitempty"`
	AmountPaidMinor       int64                  `json:"amountPaidMinor,omitempty"`
	PaymentCompletedAt    *time.Time             `json:"paymentCompletedAt,omitempty"`
	TrackingNumber        string                 `json:"trackingNumber,omitempty"`
	Notes                 string                 `json:"notes,omitempty"`
	EstimatedDeliveryDate *time.Time             `json:"estimatedDeliveryDate,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

// Технические поля оплаты (LastError, LastAction, CheckoutSessionID) покупателю не отдаются.
func toOrderDTO(o domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDTO{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Manufacturer:   item.Manufacturer,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
			LineTotalMinor: item.LineTotalMinor,
		})
	}
	return orderDTO{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Customer:    o.Customer,
		Status:      string(o.Status),
		PaymentDetails: paymentDetailsDTO{
			Method:        o.PaymentDetails.Method,
			Status:        string(o.PaymentDetails.Status),
			TransactionID: o.PaymentDetails.TransactionID,
			AmountMinor:   o.PaymentDetails.AmountMinor,
			Currency:      o.PaymentDetails.Currency,
			PaymentDate:   o.PaymentDetails.PaymentDate,
		},
		Items:                 items,
		ShippingDetails:       o.ShippingDetails,
		SubtotalMinor:         o.SubtotalMinor,
		ShippingCostMinor:     o.ShippingCostMinor,
		DiscountAmountMinor:   o.DiscountAmountMinor,
		TaxAmountMinor:        o.TaxAmountMinor,
		TotalAmountMinor:      o.TotalAmountMinor,
		PromoCode:             o.PromoCode,
		AmountPaidMinor:       o.AmountPaidMinor,
		PaymentCompletedAt:    o.PaymentCompletedAt,
		TrackingNumber:        o.TrackingNumber,
		Notes:                 o.Notes,
		EstimatedDeliveryDate: o.EstimatedDeliveryDate,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

type orderResponse struct {
	Order   orderDTO             `json:"order"`
	Payment checkout.PaymentView `json:"payment"`
}

type orderListResponse struct {
	Orders []orderDTO `json:"orders"`
}

type availabilityResponse struct {
	Available bool        `json:"available"`
	Items     interface{} `json:"items"`
}

type deadLetterDTO struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"orderId"`
	Source            string     `json:"source"`
	EventID           string     `json:"eventId,omitempty"`
	IntentID          string     `json:"intentId,omitempty"`
	CheckoutSessionID string     `json:"checkoutSessionId,omitempty"`
	ProcessorStatus   string     `json:"processorStatus,omitempty"`
	AmountMinor       int64      `json:"amountMinor"`
	ErrorPayload      string     `json:"errorPayload"`
	Attempts          int        `json:"attempts"`
	Processed         bool       `json:"processed"`
	ProcessedBy       string     `json:"processedBy,omitempty"`
	ProcessedAt       *time.Time `json:"processedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func toDeadLetterDTO(rec domain.DeadLetterRecord) deadLetterDTO {
	return deadLetterDTO{
		ID:                rec.ID,
		OrderID:           rec.OrderID,
		Source:            string(rec.Source),
		EventID:           rec.EventID,
		IntentID:          rec.IntentID,
		CheckoutSessionID: rec.CheckoutSessionID,
		ProcessorStatus:   rec.ProcessorStatus,
		AmountMinor:       rec.AmountMinor,
		ErrorPayload:      rec.ErrorPayload,
		Attempts:          rec.Attempts,
		Processed:         rec.Processed,
		ProcessedBy:       rec.ProcessedBy,
		ProcessedAt:       rec.ProcessedAt,
		CreatedAt:         rec.CreatedAt,
	}
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}
