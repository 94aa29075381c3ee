package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	inventoryField = "inventory"
	nameField      = "name"
	updatedAtField = "updatedAt"
)

// inventoryStore хранит остаток в поле inventory документов каталога motors.
// Остальные поля товара принадлежат витрине и не трогаются.
type inventoryStore struct {
	client *firestore.Client
}

// NewInventoryStore создаёт Firestore-реализацию InventoryStore.
func NewInventoryStore(c *Client) domain.InventoryStore {
	return &inventoryStore{client: c.Firestore()}
}

func (s *inventoryStore) products() *firestore.CollectionRef {
	return s.client.Collection(productsCollection)
}

func (s *inventoryStore) Get(productID string) (domain.InventoryRecord, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.InventoryRecord{}, domain.ErrProductNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snap, err := s.products().Doc(productID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.InventoryRecord{}, domain.ErrProductNotFound
		}
		return domain.InventoryRecord{}, unavailable("get inventory", err)
	}
	return decodeInventory(productID, snap.Data()), nil
}

// SetStock обновляет только поле inventory существующего товара.
func (s *inventoryStore) SetStock(productID string, stock int64) error {
	if strings.TrimSpace(productID) == "" {
		return domain.ErrProductNotFound
	}
	if stock < 0 {
		stock = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.products().Doc(productID).Update(ctx, []firestore.Update{
		{Path: inventoryField, Value: stock},
		{Path: updatedAtField, Value: time.Now().UTC()},
	})
	if err != nil {
		if isNotFound(err) {
			return domain.ErrProductNotFound
		}
		return unavailable("update stock", err)
	}
	return nil
}

// Upsert сливает поля склада в документ товара. Нетрекаемая запись удаляет поле inventory.
func (s *inventoryStore) Upsert(record domain.InventoryRecord) error {
	if record.ProductID == "" {
		return domain.ErrItemProductRequired
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	data := map[string]interface{}{
		nameField:      record.Name,
		updatedAtField: record.UpdatedAt.UTC(),
	}
	if record.Tracked {
		data[inventoryField] = record.Stock
	} else {
		data[inventoryField] = firestore.Delete
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.products().Doc(record.ProductID).Set(ctx, data, firestore.MergeAll); err != nil {
		return unavailable("upsert inventory", err)
	}
	return nil
}

func decodeInventory(productID string, data map[string]interface{}) domain.InventoryRecord {
	rec := domain.InventoryRecord{
		ProductID: productID,
		Name:      mapGetStr(data, nameField),
	}
	if stock, ok := mapGetInt64(data, inventoryField); ok {
		rec.Stock = stock
		rec.Tracked = true
	}
	if ts, ok := data[updatedAtField].(time.Time); ok {
		rec.UpdatedAt = ts.UTC()
	}
	return rec
}

func mapGetStr(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// mapGetInt64 терпит числа, сохранённые витриной как double.
func mapGetInt64(m map[string]interface{}, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

var _ domain.InventoryStore = (*inventoryStore)(nil)
