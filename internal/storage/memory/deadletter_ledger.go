package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// deadLetterLedgerInMemory хранит dead-letter записи в памяти.
type deadLetterLedgerInMemory struct {
	mu      sync.RWMutex
	records []domain.DeadLetterRecord
}

// NewDeadLetterLedger создаёт in-memory реализацию DeadLetterLedger.
func NewDeadLetterLedger() domain.DeadLetterLedger {
	return &deadLetterLedgerInMemory{}
}

func (l *deadLetterLedgerInMemory) Append(record domain.DeadLetterRecord) (domain.DeadLetterRecord, error) {
	if record.OrderID == "" {
		return domain.DeadLetterRecord{}, domain.ErrOrderIDRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	return record, nil
}

// List возвращает записи по фильтру, новые первыми.
func (l *deadLetterLedgerInMemory) List(filter domain.DeadLetterFilter) ([]domain.DeadLetterRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.DeadLetterRecord, 0)
	for _, rec := range l.records {
		if filter.Matches(rec) {
			rec.ProcessedAt = cloneTime(rec.ProcessedAt)
			result = append(result, rec)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (l *deadLetterLedgerInMemory) MarkProcessed(orderID, processedBy string, processedAt time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	marked := 0
	for i := range l.records {
		rec := &l.records[i]
		if rec.OrderID != orderID || rec.Processed {
			continue
		}
		at := processedAt
		rec.Processed = true
		rec.ProcessedBy = processedBy
		rec.ProcessedAt = &at
		marked++
	}
	return marked, nil
}

var _ domain.DeadLetterLedger = (*deadLetterLedgerInMemory)(nil)
