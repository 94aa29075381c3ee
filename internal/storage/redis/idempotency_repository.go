// Package redis хранит ключи идемпотентности доставок webhook в Redis.
// Срок жизни ключа задаётся через PEXPIREAT, поэтому очистка истёкших ключей не нужна.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	defaultKeyPrefix = "payrecon:idempotency:"
	defaultTTL       = 72 * time.Hour
	opTimeout        = 3 * time.Second
	// maxWatchRetries ограничивает повторы оптимистичной транзакции WATCH/MULTI.
	maxWatchRetries = 5
)

// record - JSON-представление ключа в Redis.
type record struct {
	RequestHash  string    `json:"requestHash"`
	ResponseBody []byte    `json:"responseBody,omitempty"`
	HTTPStatus   int       `json:"httpStatus,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttlAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IdempotencyRepository - Redis-реализация domain.IdempotencyRepository.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping проверяет доступность Redis для readiness-проверки.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CreateProcessing захватывает ключ под WATCH: конкурирующие доставки одного события
// не могут одновременно получить статус processing.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	redisKey := r.prefix + key
	var (
		result   domain.IdempotencyRecord
		conflict error
	)
	txf := func(tx *goredis.Tx) error {
		conflict = nil
		existing, found, err := readRecord(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next := record{
			RequestHash: requestHash,
			Status:      string(domain.IdempotencyStatusProcessing),
			TTLAt:       ttlAt.UTC(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if found && existing.TTLAt.After(now) {
			if existing.RequestHash != requestHash {
				result, conflict = toDomain(key, existing), domain.ErrIdempotencyHashMismatch
				return nil
			}
			if existing.Status != string(domain.IdempotencyStatusFailed) {
				result, conflict = toDomain(key, existing), domain.ErrIdempotencyKeyAlreadyExists
				return nil
			}
			next.CreatedAt = existing.CreatedAt
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, 0)
			pipe.PExpireAt(ctx, redisKey, next.TTLAt)
			return nil
		})
		if err != nil {
			return err
		}
		result = toDomain(key, next)
		return nil
	}

	if err := r.watch(ctx, txf, redisKey); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return result, conflict
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rec, found, err := readRecord(ctx, r.client, r.prefix+key)
	if err != nil {
		return domain.IdempotencyRecord{}, unavailable("get idempotency key", err)
	}
	if !found {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return toDomain(key, rec), nil
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: Redis удаляет ключи по PEXPIREAT сам.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) markStatus(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	redisKey := r.prefix + key
	var missing bool
	txf := func(tx *goredis.Tx) error {
		rec, found, err := readRecord(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if !found {
			missing = true
			return nil
		}
		missing = false

		rec.Status = string(status)
		rec.ResponseBody = append([]byte(nil), responseBody...)
		rec.HTTPStatus = httpStatus
		rec.UpdatedAt = r.now()
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, 0)
			pipe.PExpireAt(ctx, redisKey, rec.TTLAt)
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, redisKey); err != nil {
		return err
	}
	if missing {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *IdempotencyRepository) watch(ctx context.Context, txf func(*goredis.Tx) error, key string) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return unavailable("idempotency transaction", err)
	}
	return unavailable("idempotency transaction", goredis.TxFailedErr)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func readRecord(ctx context.Context, c getter, key string) (record, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return rec, true, nil
}

func toDomain(key string, rec record) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  rec.RequestHash,
		ResponseBody: append([]byte(nil), rec.ResponseBody...),
		HTTPStatus:   rec.HTTPStatus,
		Status:       domain.IdempotencyStatus(rec.Status),
		TTLAt:        rec.TTLAt.UTC(),
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
