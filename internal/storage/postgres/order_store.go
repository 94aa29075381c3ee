package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const orderColumns = `
	id, order_number, user_id, customer, status,
	payment_method, payment_status, transaction_id, payment_amount_minor, currency,
	payment_date, last_error, last_action,
	shipping, subtotal_minor, shipping_cost_minor, discount_amount_minor, tax_amount_minor,
	total_amount_minor, promo_code,
	checkout_session_id, amount_paid_minor, paid_with, payment_completed_at, reminder_sent_at,
	tracking_number, notes, estimated_delivery_date,
	created_at, updated_at`

type orderStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *orderStore) Create(order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	shipping, err := json.Marshal(order.ShippingDetails)
	if err != nil {
		return fmt.Errorf("encode shipping: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin create order", err)
	}
	defer rollback(tx)

	if order.OrderNumber != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_numbers (order_number, order_id, reserved_at)
			VALUES ($1,$2,$3)
		`, order.OrderNumber, order.ID, order.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderNumberTaken
			}
			return unavailable("reserve order number", err)
		}
	}

	pd := order.PaymentDetails
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
		        $21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
	`,
		order.ID, order.OrderNumber, order.UserID, customer, string(order.Status),
		pd.Method, string(pd.Status), pd.TransactionID, pd.AmountMinor, pd.Currency,
		nullTime(pd.PaymentDate), pd.LastError, pd.LastAction,
		shipping, order.SubtotalMinor, order.ShippingCostMinor, order.DiscountAmountMinor, order.TaxAmountMinor,
		order.TotalAmountMinor, order.PromoCode,
		order.CheckoutSessionID, order.AmountPaidMinor, order.PaymentMethod,
		nullTime(order.PaymentCompletedAt), nullTime(order.ReminderSentAt),
		order.TrackingNumber, order.Notes, nullTime(order.EstimatedDeliveryDate),
		order.CreatedAt, order.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return unavailable("insert order", err)
	}

	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, manufacturer,
				unit_price_minor, quantity, line_total_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, i, item.ProductID, item.Name, item.Manufacturer,
			item.UnitPriceMinor, item.Quantity, item.LineTotalMinor,
		); err != nil {
			return unavailable("insert order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit create order", err)
	}
	return nil
}

func (s *orderStore) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("select order", err)
	}

	items, err := loadItems(ctx, s.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (s *orderStore) ListByUser(userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, unavailable("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, unavailable("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order rows", err)
	}

	for i := range orders {
		items, err := loadItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// ApplyPaymentTransition блокирует строку заказа, применяет переход и пишет
// только платёжные колонки. Конкурирующие подтверждения сериализуются блокировкой,
// второе получает ErrPaymentAlreadyCompleted.
func (s *orderStore) ApplyPaymentTransition(id string, transition domain.PaymentTransition) (domain.Order, error) {
	if err := transition.Validate(); err != nil {
		return domain.Order{}, err
	}
	return s.mutate(id, func(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
		if err := domain.ApplyPaymentTransition(order, transition, s.now()); err != nil {
			return err
		}
		pd := order.PaymentDetails
		_, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    payment_status = $3,
			    transaction_id = $4,
			    payment_date = $5,
			    last_error = $6,
			    last_action = $7,
			    checkout_session_id = $8,
			    amount_paid_minor = $9,
			    paid_with = $10,
			    payment_completed_at = $11,
			    reminder_sent_at = $12,
			    updated_at = $13
			WHERE id = $1
			  AND payment_status <> 'completed'
		`,
			id, string(order.Status), string(pd.Status), pd.TransactionID, nullTime(pd.PaymentDate),
			pd.LastError, pd.LastAction, order.CheckoutSessionID, order.AmountPaidMinor,
			order.PaymentMethod, nullTime(order.PaymentCompletedAt), nullTime(order.ReminderSentAt),
			order.UpdatedAt,
		)
		if err != nil {
			return unavailable("update payment fields", err)
		}
		return nil
	})
}

func (s *orderStore) ApplyFulfillmentEdit(id string, edit domain.FulfillmentEdit) (domain.Order, error) {
	if edit.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyFulfillmentEdit
	}
	return s.mutate(id, func(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
		if err := domain.ApplyFulfillmentEdit(order, edit, s.now()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    tracking_number = $3,
			    notes = $4,
			    estimated_delivery_date = $5,
			    updated_at = $6
			WHERE id = $1
		`,
			id, string(order.Status), order.TrackingNumber, order.Notes,
			nullTime(order.EstimatedDeliveryDate), order.UpdatedAt,
		)
		if err != nil {
			return unavailable("update fulfillment fields", err)
		}
		return nil
	})
}

func (s *orderStore) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected for delete", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// mutate читает заказ с позициями под FOR UPDATE, вызывает apply и коммитит.
func (s *orderStore) mutate(id string, apply func(ctx context.Context, tx *sql.Tx, order *domain.Order) error) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, unavailable("begin order update", err)
	}
	defer rollback(tx)

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("lock order", err)
	}

	if order.Items, err = loadItems(ctx, tx, id); err != nil {
		return domain.Order{}, err
	}

	if err := apply(ctx, tx, &order); err != nil {
		return domain.Order{}, err
	}
	// После Commit ошибок не возвращаем.
	if err := tx.Commit(); err != nil {
		return domain.Order{}, unavailable("commit order update", err)
	}
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, manufacturer, unit_price_minor, quantity, line_total_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, unavailable("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ProductID, &item.Name, &item.Manufacturer,
			&item.UnitPriceMinor, &item.Quantity, &item.LineTotalMinor,
		); err != nil {
			return nil, unavailable("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order items", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                          domain.Order
		customer, shipping                             []byte
		status, paymentStatus                          string
		paymentDate, completedAt, reminderAt, delivery sql.NullTime
	)
	pd := &order.PaymentDetails
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &customer, &status,
		&pd.Method, &paymentStatus, &pd.TransactionID, &pd.AmountMinor, &pd.Currency,
		&paymentDate, &pd.LastError, &pd.LastAction,
		&shipping, &order.SubtotalMinor, &order.ShippingCostMinor, &order.DiscountAmountMinor, &order.TaxAmountMinor,
		&order.TotalAmountMinor, &order.PromoCode,
		&order.CheckoutSessionID, &order.AmountPaidMinor, &order.PaymentMethod, &completedAt, &reminderAt,
		&order.TrackingNumber, &order.Notes, &delivery,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &order.Customer); err != nil {
			return domain.Order{}, fmt.Errorf("decode customer of order %s: %w", order.ID, err)
		}
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &order.ShippingDetails); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping of order %s: %w", order.ID, err)
		}
	}
	order.Status = domain.OrderStatus(status)
	pd.Status = domain.PaymentStatus(paymentStatus)
	pd.PaymentDate = timePtr(paymentDate)
	order.PaymentCompletedAt = timePtr(completedAt)
	order.ReminderSentAt = timePtr(reminderAt)
	order.EstimatedDeliveryDate = timePtr(delivery)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

var _ domain.OrderStore = (*orderStore)(nil)
