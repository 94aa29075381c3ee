package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// inventoryStoreInMemory хранит складские счётчики в памяти.
type inventoryStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.InventoryRecord
}

// NewInventoryStore создаёт in-memory реализацию InventoryStore.
func NewInventoryStore() domain.InventoryStore {
	return &inventoryStoreInMemory{items: make(map[string]domain.InventoryRecord)}
}

func (s *inventoryStoreInMemory) Get(productID string) (domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.items[productID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrProductNotFound
	}
	return record, nil
}

// SetStock записывает остаток; после записи товар считается отслеживаемым.
func (s *inventoryStoreInMemory) SetStock(productID string, stock int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	record.Stock = stock
	record.Tracked = true
	record.UpdatedAt = time.Now().UTC()
	s.items[productID] = record
	return nil
}

func (s *inventoryStoreInMemory) Upsert(record domain.InventoryRecord) error {
	if record.ProductID == "" {
		return domain.ErrItemProductRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.UpdatedAt = time.Now().UTC()
	s.items[record.ProductID] = record
	return nil
}

var _ domain.InventoryStore = (*inventoryStoreInMemory)(nil)
