package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// orderStoreInMemory - простая in-memory реализация OrderStore.
type orderStoreInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	numbers map[string]string
	now     func() time.Time
}

// NewOrderStore возвращает in-memory хранилище заказов для локальной разработки и тестов.
func NewOrderStore() domain.OrderStore {
	return &orderStoreInMemory{
		items:   make(map[string]domain.Order),
		numbers: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (s *orderStoreInMemory) Create(order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.OrderNumber != "" {
		if _, taken := s.numbers[order.OrderNumber]; taken {
			return domain.ErrOrderNumberTaken
		}
		s.numbers[order.OrderNumber] = order.ID
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (s *orderStoreInMemory) Get(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByUser возвращает заказы владельца, ограничивая выборку limit (если >0).
func (s *orderStoreInMemory) ListByUser(userID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.items))
	for _, order := range s.items {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ApplyPaymentTransition изменяет группу полей перехода под блокировкой.
func (s *orderStoreInMemory) ApplyPaymentTransition(id string, transition domain.PaymentTransition) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	next := cloneOrder(current)
	if err := domain.ApplyPaymentTransition(&next, transition, s.now()); err != nil {
		return domain.Order{}, err
	}
	s.items[id] = next
	return cloneOrder(next), nil
}

// ApplyFulfillmentEdit применяет правку администратора.
func (s *orderStoreInMemory) ApplyFulfillmentEdit(id string, edit domain.FulfillmentEdit) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	next := cloneOrder(current)
	if err := domain.ApplyFulfillmentEdit(&next, edit, s.now()); err != nil {
		return domain.Order{}, err
	}
	s.items[id] = next
	return cloneOrder(next), nil
}

// Delete удаляет заказ. Номер заказа остаётся зарезервированным.
func (s *orderStoreInMemory) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(s.items, id)
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	dst.PaymentDetails.PaymentDate = cloneTime(src.PaymentDetails.PaymentDate)
	dst.PaymentCompletedAt = cloneTime(src.PaymentCompletedAt)
	dst.ReminderSentAt = cloneTime(src.ReminderSentAt)
	dst.EstimatedDeliveryDate = cloneTime(src.EstimatedDeliveryDate)
	return dst
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
