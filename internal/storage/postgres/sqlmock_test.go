package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		mock.ExpectClose()
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
	return NewWithDB(db), mock
}

func orderColumnNames() []string {
	names := strings.Split(orderColumns, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return names
}

func orderRows(id string, paymentStatus domain.PaymentStatus) *sqlmock.Rows {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(orderColumnNames()).AddRow(
		id, "ORD-000001-ABCD", "user-1", []byte(`{"firstName":"Ada","lastName":"Rider","email":"ada@example.com"}`), "pending",
		"card", string(paymentStatus), "pi_1", int64(100000), "USD",
		nil, "", "",
		[]byte(`{"city":"Lisbon","method":"standard","priceMinor":5000}`), int64(100000), int64(5000), int64(10000), int64(5000),
		int64(100000), "",
		"", int64(0), "", nil, nil,
		"", "", nil,
		now, now,
	)
}

func itemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"product_id", "name", "manufacturer", "unit_price_minor", "quantity", "line_total_minor"}).
		AddRow("moto-1", "Scrambler", "", int64(30000), int32(1), int64(30000))
}

func TestOrderStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := NewOrderStore(store).Get("missing")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_GetDriverErrorIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).WithArgs("order-1").WillReturnError(errors.New("conn reset"))

	_, err := NewOrderStore(store).Get("order-1")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if !domain.IsTransient(err) {
		t.Fatal("storage errors must be transient")
	}
}

func TestOrderStore_GetDecodesJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).WithArgs("order-1").WillReturnRows(orderRows("order-1", domain.PaymentStatusPending))
	mock.ExpectQuery(`FROM order_items`).WithArgs("order-1").WillReturnRows(itemRows())

	order, err := NewOrderStore(store).Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Customer.Email != "ada@example.com" || order.ShippingDetails.City != "Lisbon" {
		t.Fatalf("json columns not decoded: %+v %+v", order.Customer, order.ShippingDetails)
	}
	if len(order.Items) != 1 || order.Items[0].ProductID != "moto-1" {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
	if order.PaymentDetails.PaymentDate != nil {
		t.Fatal("NULL payment_date must stay nil")
	}
}

func TestOrderStore_CompletionOnCompletedOrderRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(orderRows("order-1", domain.PaymentStatusCompleted))
	mock.ExpectQuery(`FROM order_items`).WithArgs("order-1").WillReturnRows(itemRows())
	mock.ExpectRollback()

	_, err := NewOrderStore(store).ApplyPaymentTransition("order-1", domain.PaymentCompleted{TransactionID: "pi_1"})
	if !errors.Is(err, domain.ErrPaymentAlreadyCompleted) {
		t.Fatalf("expected ErrPaymentAlreadyCompleted, got %v", err)
	}
}

func TestOrderStore_CompletionWritesPaymentColumnsOnly(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(orderRows("order-1", domain.PaymentStatusProcessing))
	mock.ExpectQuery(`FROM order_items`).WithArgs("order-1").WillReturnRows(itemRows())
	mock.ExpectExec(`UPDATE orders\s+SET status = \$2,\s+payment_status = \$3`).
		WithArgs(
			"order-1", "processing", "completed", "pi_1", sqlmock.AnyArg(),
			"", "", "", int64(100000), "card", sqlmock.AnyArg(), nil, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := NewOrderStore(store).ApplyPaymentTransition("order-1", domain.PaymentCompleted{
		TransactionID:   "pi_1",
		AmountPaidMinor: 100000,
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("apply completion: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing || !order.PaymentCompleted() {
		t.Fatalf("unexpected order after completion: status=%s payment=%s", order.Status, order.PaymentDetails.Status)
	}
	if order.TotalAmountMinor != 100000 {
		t.Fatalf("total must not change, got %d", order.TotalAmountMinor)
	}
}

func TestOrderStore_CompletionItemReadFailureLeavesOrderUntouched(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(orderRows("order-1", domain.PaymentStatusProcessing))
	mock.ExpectQuery(`FROM order_items`).WithArgs("order-1").WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	_, err := NewOrderStore(store).ApplyPaymentTransition("order-1", domain.PaymentCompleted{TransactionID: "pi_1"})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOrderStore_CompletionReturnsItemsWithoutReadAfterCommit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("order-1").
		WillReturnRows(orderRows("order-1", domain.PaymentStatusProcessing))
	mock.ExpectQuery(`FROM order_items`).WithArgs("order-1").WillReturnRows(itemRows())
	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := NewOrderStore(store).ApplyPaymentTransition("order-1", domain.PaymentCompleted{
		TransactionID:   "pi_1",
		AmountPaidMinor: 100000,
	})
	if err != nil {
		t.Fatalf("committed completion must not fail: %v", err)
	}
	if qty := order.ItemQuantities(); len(qty) != 1 || qty[0].ProductID != "moto-1" || qty[0].Quantity != 1 {
		t.Fatalf("completed order must carry its items for the stock decrement, got %+v", qty)
	}
}

func TestOrderStore_CreateNumberTaken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO order_numbers`).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	order := sampleOrder("order-1", "user-1", time.Now().UTC())
	if err := NewOrderStore(store).Create(order); !errors.Is(err, domain.ErrOrderNumberTaken) {
		t.Fatalf("expected ErrOrderNumberTaken, got %v", err)
	}
}

func TestOrderStore_DeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1`).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewOrderStore(store).Delete("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestInventoryStore_SetStockMissingProduct(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE inventory`).WithArgs("moto-x", int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewInventoryStore(store).SetStock("moto-x", -3); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestInventoryStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM inventory`).WithArgs("moto-x").WillReturnError(sql.ErrNoRows)

	if _, err := NewInventoryStore(store).Get("moto-x"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestDeadLetterLedger_ListBuildsFilteredQuery(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "order_id", "source", "event_id", "intent_id", "checkout_session_id",
		"processor_status", "amount_minor", "error_payload", "attempts",
		"processed", "processed_by", "processed_at", "created_at",
	}).AddRow("dl-1", "order-1", "webhook", "evt_1", "pi_1", "", "succeeded", int64(100000),
		`{"error":"storage unavailable","stage":"write","attempts":3}`, 3, false, "", nil, created)

	mock.ExpectQuery(`FROM dead_letters WHERE order_id = \$1 AND processed = \$2 ORDER BY created_at DESC, id DESC LIMIT \$3`).
		WithArgs("order-1", false, 5).
		WillReturnRows(rows)

	processed := false
	records, err := NewDeadLetterLedger(store).List(domain.DeadLetterFilter{OrderID: "order-1", Processed: &processed, Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Source != domain.SignalSourceWebhook || records[0].ProcessedAt != nil {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestDeadLetterLedger_MarkProcessedReturnsCount(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE dead_letters`).WithArgs("order-1", "admin-1", at).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewDeadLetterLedger(store).MarkProcessed("order-1", "admin-1", at)
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records marked, got %d", n)
	}
}

func TestIdempotencyRepository_HashMismatchOnConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO webhook_deliveries`).WillReturnRows(sqlmock.NewRows([]string{"received_at"}))
	mock.ExpectQuery(`FROM webhook_deliveries\s+WHERE delivery_key = \$1`).WithArgs("webhook:stripe:evt_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"delivery_key", "body_sha256", "state", "response_status", "response_body", "expires_at", "received_at", "updated_at",
		}).AddRow("webhook:stripe:evt_1", "other-hash", "done", 200, []byte(`{"received":true}`), now.Add(time.Hour), now, now))

	rec, err := NewIdempotencyRepository(store).CreateProcessing("webhook:stripe:evt_1", "hash", now.Add(time.Hour))
	if !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
	if rec.HTTPStatus != 200 || rec.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected stored delivery to be returned, got %+v", rec)
	}
}

func TestIdempotencyRepository_UnknownStateIsRejected(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM webhook_deliveries`).WithArgs("webhook:stripe:evt_2").
		WillReturnRows(sqlmock.NewRows([]string{
			"delivery_key", "body_sha256", "state", "response_status", "response_body", "expires_at", "received_at", "updated_at",
		}).AddRow("webhook:stripe:evt_2", "hash", "queued", nil, nil, now, now, now))

	if _, err := NewIdempotencyRepository(store).Get("webhook:stripe:evt_2"); err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("expected unknown state error, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpiredWithoutLimit(t *testing.T) {
	store, mock := newMockStore(t)
	before := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM webhook_deliveries`).
		WithArgs(before, sql.NullInt64{}).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewIdempotencyRepository(store).DeleteExpired(before, 0)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 purged deliveries, got %d", n)
	}
}

func TestIdempotencyRepository_FinishMissingDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE webhook_deliveries`).
		WithArgs("webhook:stripe:evt_3", "done", 200, []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewIdempotencyRepository(store).MarkDone("webhook:stripe:evt_3", []byte(`{}`), 200); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestOutboxRepository_EnqueueDefaultsPayloadAndAggregate(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec(`INSERT INTO payment_event_outbox`).
		WithArgs(sqlmock.AnyArg(), "order-1", "order", domain.EventPaymentCompleted, "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.Enqueue(domain.OutboxMessage{AggregateID: "order-1", EventType: domain.EventPaymentCompleted})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msg.ID == "" || msg.AggregateType != "order" {
		t.Fatalf("unexpected stored message: %+v", msg)
	}

	if _, err := repo.Enqueue(domain.OutboxMessage{EventType: domain.EventPaymentCompleted}); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
}

func TestOutboxRepository_MarkSentOnlyPending(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec(`UPDATE payment_event_outbox\s+SET state = \$2`).
		WithArgs("evt-1", "published", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payment_event_outbox`).
		WithArgs("evt-1", "failed", sql.NullTime{}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkSent("evt-1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed("evt-1"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for settled event, got %v", err)
	}
}

func TestOutboxRepository_PullPendingDefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectQuery(`FROM payment_event_outbox\s+WHERE state = 'pending'`).
		WithArgs(defaultOutboxBatch).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "order_id", "event_type", "payload"}).
			AddRow("evt-1", "order", "order-1", domain.EventPaymentCompleted, `{"order_id":"order-1"}`))

	msgs, err := repo.PullPending(0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(msgs) != 1 || msgs[0].AggregateID != "order-1" || string(msgs[0].Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestTimelineRepository_ListDriverErrorIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)

	mock.ExpectQuery(`FROM order_timeline`).WithArgs("order-1").WillReturnError(errors.New("conn reset"))

	if _, err := repo.List("order-1"); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if err := repo.Append(domain.TimelineEvent{Type: domain.EventPaymentCompleted}); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
}
