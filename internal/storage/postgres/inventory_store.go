package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type inventoryStore struct {
	db *sql.DB
}

// NewInventoryStore создаёт PostgreSQL-реализацию InventoryStore.
func NewInventoryStore(store *Store) domain.InventoryStore {
	return &inventoryStore{db: store.DB()}
}

func (s *inventoryStore) Get(productID string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rec domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, name, stock, tracked, updated_at
		FROM inventory
		WHERE product_id = $1
	`, productID).Scan(&rec.ProductID, &rec.Name, &rec.Stock, &rec.Tracked, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrProductNotFound
		}
		return domain.InventoryRecord{}, unavailable("select inventory", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// SetStock записывает остаток и включает явный учёт для товара.
func (s *inventoryStore) SetStock(productID string, stock int64) error {
	if stock < 0 {
		stock = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = $2,
		    tracked = TRUE,
		    updated_at = $3
		WHERE product_id = $1
	`, productID, stock, time.Now().UTC())
	if err != nil {
		return unavailable("update stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected for stock", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *inventoryStore) Upsert(record domain.InventoryRecord) error {
	if record.ProductID == "" {
		return domain.ErrItemProductRequired
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, name, stock, tracked, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (product_id) DO UPDATE
		SET name = EXCLUDED.name,
		    stock = EXCLUDED.stock,
		    tracked = EXCLUDED.tracked,
		    updated_at = EXCLUDED.updated_at
	`, record.ProductID, record.Name, record.Stock, record.Tracked, record.UpdatedAt); err != nil {
		return unavailable("upsert inventory", err)
	}
	return nil
}

var _ domain.InventoryStore = (*inventoryStore)(nil)
