package postgres

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func TestTimelineRepository_PostgresPaymentHistory(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timeline := NewTimelineRepository(store)

	base := time.Now().UTC().Add(-time.Hour).Round(time.Microsecond)
	history := []domain.TimelineEvent{
		{OrderID: "order-1", Type: domain.EventPaymentCompleted, Reason: "payment_intent.succeeded", Occurred: base.Add(2 * time.Minute)},
		{OrderID: "order-1", Type: domain.EventPaymentFailed, Reason: "card_declined", Occurred: base},
		{OrderID: "order-2", Type: domain.EventPaymentFailed, Reason: "expired", Occurred: base},
	}
	for _, ev := range history {
		if err := timeline.Append(ev); err != nil {
			t.Fatalf("append %s: %v", ev.Type, err)
		}
	}

	events, err := timeline.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for order-1, got %d", len(events))
	}
	if events[0].Type != domain.EventPaymentFailed || events[1].Type != domain.EventPaymentCompleted {
		t.Fatalf("expected chronological order, got %s then %s", events[0].Type, events[1].Type)
	}
	if !events[1].Occurred.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("occurred time not preserved: %s", events[1].Occurred)
	}

	empty, err := timeline.List("order-unknown")
	if err != nil {
		t.Fatalf("list unknown: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", empty)
	}
}

func TestTimelineRepository_PostgresOutlivesDeletedOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderStore(store)
	timeline := NewTimelineRepository(store)

	order := sampleOrder("timeline-deleted", "customer-timeline", time.Now().UTC())
	if err := orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := timeline.Append(domain.TimelineEvent{OrderID: order.ID, Type: domain.EventPaymentFailed, Reason: "expired"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := orders.Delete(order.ID); err != nil {
		t.Fatalf("delete order: %v", err)
	}

	events, err := timeline.List(order.ID)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(events) != 1 || events[0].Occurred.IsZero() {
		t.Fatalf("expected history to survive deletion with filled time, got %+v", events)
	}
}
