package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// orderTimeline хранит историю платёжных событий заказов в памяти.
type orderTimeline struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &orderTimeline{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие после всех событий с тем же или более ранним временем.
func (t *orderTimeline) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}
	event.Occurred = event.Occurred.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.byOrder[event.OrderID]
	at := sort.Search(len(history), func(i int) bool { return history[i].Occurred.After(event.Occurred) })
	history = append(history, domain.TimelineEvent{})
	copy(history[at+1:], history[at:])
	history[at] = event
	t.byOrder[event.OrderID] = history
	return nil
}

// List возвращает копию истории заказа; для неизвестного заказа - пустой срез.
func (t *orderTimeline) List(orderID string) ([]domain.TimelineEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]domain.TimelineEvent{}, t.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*orderTimeline)(nil)
