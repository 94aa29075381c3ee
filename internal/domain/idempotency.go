package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdempotencyStatus - состояние доставки webhook в журнале дедупликации.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed разрешает повторную доставку того же тела.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid сообщает, известен ли статус хранилищам.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord - запись о доставке события провайдера. Key строится WebhookEventKey,
// RequestHash - sha256 тела. Для завершённой доставки сохраняется отданный ответ.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired сообщает, истёк ли срок хранения записи к моменту at.
func (r IdempotencyRecord) Expired(at time.Time) bool {
	return !r.TTLAt.After(at)
}

// WebhookEventKey строит ключ идемпотентности для события провайдера.
func WebhookEventKey(provider, eventID string) string {
	return "webhook:" + provider + ":" + eventID
}

// RequestHash возвращает sha256 тела запроса в hex.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
