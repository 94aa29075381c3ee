package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const integrationDSNEnv = "PAYRECON_POSTGRES_TEST_DSN"

func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)

	return store
}

func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(integrationDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", integrationDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			webhook_deliveries,
			payment_event_outbox,
			order_timeline,
			dead_letters,
			inventory,
			order_items,
			orders,
			order_numbers
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}

func sampleOrder(id, userID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "ORD-" + id,
		UserID:      userID,
		Customer:    domain.Customer{FirstName: "Ada", LastName: "Rider", Email: "ada@example.com"},
		Status:      domain.OrderStatusPending,
		PaymentDetails: domain.PaymentDetails{
			Method:      "card",
			Status:      domain.PaymentStatusPending,
			AmountMinor: 100000,
			Currency:    "USD",
		},
		Items: []domain.OrderItem{
			{ProductID: "moto-1", Name: "Scrambler", UnitPriceMinor: 30000, Quantity: 1, LineTotalMinor: 30000},
			{ProductID: "moto-2", Name: "Tourer", UnitPriceMinor: 35000, Quantity: 2, LineTotalMinor: 70000},
		},
		ShippingDetails:     domain.ShippingDetails{City: "Lisbon", Method: "standard", PriceMinor: 5000},
		SubtotalMinor:       100000,
		ShippingCostMinor:   5000,
		TaxAmountMinor:      5000,
		DiscountAmountMinor: 10000,
		TotalAmountMinor:    100000,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
}
