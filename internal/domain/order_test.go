package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// helper для создания заказа с двумя позициями: 2*300 + 1*200, доставка 50, скидка 100, налог 25.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD-123456-ABCD",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		PaymentDetails: domain.PaymentDetails{
			Method:      "card",
			Status:      domain.PaymentStatusPending,
			AmountMinor: 775,
			Currency:    "usd",
		},
		Items: []domain.OrderItem{
			{ProductID: "moto-1", UnitPriceMinor: 300, Quantity: 2, LineTotalMinor: 600},
			{ProductID: "moto-2", UnitPriceMinor: 200, Quantity: 1, LineTotalMinor: 200},
		},
		SubtotalMinor:       800,
		ShippingCostMinor:   50,
		DiscountAmountMinor: 100,
		TaxAmountMinor:      25,
		TotalAmountMinor:    775,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = "" }},
		{name: "no currency", mut: func(o *domain.Order) { o.PaymentDetails.Currency = "" }},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }},
		{name: "price invalid", mut: func(o *domain.Order) { o.Items[1].UnitPriceMinor = -5 }},
		{name: "line total mismatch", mut: func(o *domain.Order) { o.Items[0].LineTotalMinor = 599 }},
		{name: "subtotal mismatch", mut: func(o *domain.Order) { o.SubtotalMinor = 801 }},
		{name: "total mismatch", mut: func(o *domain.Order) { o.TotalAmountMinor = 800 }},
		{name: "negative discount", mut: func(o *domain.Order) { o.DiscountAmountMinor = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestFormatOrderNumber(t *testing.T) {
	created := time.UnixMilli(1_700_000_123_456)
	got := domain.FormatOrderNumber(created, "a1b2-c3d4")
	if got != "ORD-123456-A1B2" {
		t.Fatalf("unexpected order number %q", got)
	}

	padded := domain.FormatOrderNumber(time.UnixMilli(1_000_000_000_042), "ffff")
	if padded != "ORD-000042-FFFF" {
		t.Fatalf("expected zero padded millis, got %q", padded)
	}
}

func TestCanTransitionFulfillment(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, false},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCompleted, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCompleted, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCompleted, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, true},
	}
	for _, tc := range cases {
		if got := domain.CanTransitionFulfillment(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	if domain.CanAdminTransitionFulfillment(domain.OrderStatusPending, domain.OrderStatusProcessing) {
		t.Fatal("admin must not move pending order to processing")
	}
	if !domain.CanAdminTransitionFulfillment(domain.OrderStatusProcessing, domain.OrderStatusShipped) {
		t.Fatal("admin must be able to ship processing order")
	}
}

func TestOrderItemQuantities(t *testing.T) {
	order := makeOrder()
	got := order.ItemQuantities()
	if len(got) != 2 || got[0].ProductID != "moto-1" || got[0].Quantity != 2 || got[1].Quantity != 1 {
		t.Fatalf("unexpected quantities %+v", got)
	}
}
