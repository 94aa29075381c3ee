package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const deliveryRetention = 72 * time.Hour

// webhookDeliveries - in-memory журнал доставок webhook для разработки и тестов.
type webhookDeliveries struct {
	mu  sync.Mutex
	now func() time.Time
	byK map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &webhookDeliveries{
		now: func() time.Time { return time.Now().UTC() },
		byK: make(map[string]domain.IdempotencyRecord),
	}
}

// CreateProcessing захватывает доставку. Истёкшая запись заменяется; failed с тем же
// телом захватывается повторно, чтобы ретрай провайдера довёл обработку.
func (d *webhookDeliveries) CreateProcessing(key, bodyHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, bodyHash = strings.TrimSpace(key), strings.TrimSpace(bodyHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case bodyHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := d.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(deliveryRetention)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	claim := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: bodyHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if prev, ok := d.byK[key]; ok && !prev.Expired(now) {
		switch {
		case prev.RequestHash != bodyHash:
			return copyDelivery(prev), domain.ErrIdempotencyHashMismatch
		case prev.Status != domain.IdempotencyStatusFailed:
			return copyDelivery(prev), domain.ErrIdempotencyKeyAlreadyExists
		}
		claim.CreatedAt = prev.CreatedAt
	}

	d.byK[key] = claim
	return claim, nil
}

func (d *webhookDeliveries) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.byK[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyDelivery(rec), nil
}

func (d *webhookDeliveries) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return d.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (d *webhookDeliveries) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return d.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (d *webhookDeliveries) finish(key string, state domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.byK[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = state
	rec.HTTPStatus = httpStatus
	rec.ResponseBody = append([]byte(nil), responseBody...)
	rec.UpdatedAt = d.now()
	d.byK[key] = rec
	return nil
}

// DeleteExpired удаляет самые старые истёкшие доставки, не более limit при limit > 0.
func (d *webhookDeliveries) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range d.byK {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(d.byK, rec.Key)
	}
	return len(expired), nil
}

func copyDelivery(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return rec
}

var _ domain.IdempotencyRepository = (*webhookDeliveries)(nil)
