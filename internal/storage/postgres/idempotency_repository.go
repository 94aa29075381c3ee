package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const deliveryRetention = 72 * time.Hour

// webhookDeliveries дедуплицирует доставки webhook через таблицу webhook_deliveries.
type webhookDeliveries struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &webhookDeliveries{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing захватывает доставку. Запись перезахватывается, если её срок истёк
// или предыдущая обработка того же тела завершилась ошибкой.
func (r *webhookDeliveries) CreateProcessing(key, bodyHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, bodyHash = strings.TrimSpace(key), strings.TrimSpace(bodyHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case bodyHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(deliveryRetention)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var receivedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries AS d (
			delivery_key, body_sha256, state, expires_at, received_at, updated_at
		) VALUES ($1, $2, 'processing', $3, $4, $4)
		ON CONFLICT (delivery_key) DO UPDATE
		SET body_sha256 = EXCLUDED.body_sha256,
		    state = 'processing',
		    response_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE d.expires_at <= EXCLUDED.received_at
		   OR (d.state = 'failed' AND d.body_sha256 = EXCLUDED.body_sha256)
		RETURNING d.received_at
	`, key, bodyHash, expiresAt, now).Scan(&receivedAt)
	switch {
	case err == nil:
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: bodyHash,
			Status:      domain.IdempotencyStatusProcessing,
			TTLAt:       expiresAt,
			CreatedAt:   receivedAt.UTC(),
			UpdatedAt:   now,
		}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, unavailable("claim webhook delivery", err)
	}

	// Конфликт без перезахвата: доставка уже обрабатывается или обработана.
	existing, getErr := r.Get(key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != bodyHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *webhookDeliveries) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT delivery_key, body_sha256, state, response_status, response_body,
		       expires_at, received_at, updated_at
		FROM webhook_deliveries
		WHERE delivery_key = $1
	`, key)
	rec, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return rec, nil
}

func scanDelivery(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		state  string
		status sql.NullInt64
		body   []byte
	)
	if err := row.Scan(&rec.Key, &rec.RequestHash, &state, &status, &body,
		&rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, unavailable("read webhook delivery", err)
	}

	rec.Status = domain.IdempotencyStatus(state)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("webhook delivery %s has unknown state %q", rec.Key, state)
	}
	if status.Valid {
		rec.HTTPStatus = int(status.Int64)
	}
	rec.ResponseBody = append([]byte(nil), body...)
	rec.TTLAt = rec.TTLAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// MarkDone сохраняет ответ, который получит повторная доставка.
func (r *webhookDeliveries) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed открывает доставку для повторной попытки провайдера.
func (r *webhookDeliveries) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *webhookDeliveries) finish(key string, state domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET state = $2, response_status = $3, response_body = $4, updated_at = $5
		WHERE delivery_key = $1
	`, key, string(state), httpStatus, responseBody, r.now())
	if err != nil {
		return unavailable("finish webhook delivery", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return unavailable("finish webhook delivery", err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет доставки со сроком хранения до before; limit <= 0 снимает ограничение.
func (r *webhookDeliveries) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// NULL в LIMIT означает отсутствие ограничения.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE delivery_key IN (
			SELECT delivery_key
			FROM webhook_deliveries
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, unavailable("purge webhook deliveries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge webhook deliveries", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*webhookDeliveries)(nil)
