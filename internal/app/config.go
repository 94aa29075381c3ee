package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory    = "memory"
	StorageDriverPostgres  = "postgres"
	StorageDriverFirestore = "firestore"
)

const (
	IdempotencyDriverStorage = "storage"
	IdempotencyDriverRedis   = "redis"
)

// Config описывает настройки запуска payrecon-service.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	FirestoreProject    string
	// FirestoreCredentials - путь к JSON сервисного аккаунта; пусто - ADC или эмулятор.
	FirestoreCredentials string

	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	KafkaBrokers       []string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending - порог backlog, выше которого readiness сообщает degraded.
	OutboxMaxPending int

	StripeSecretKey     string
	StripeWebhookSecret string

	FirebaseProject string
	// DevTokens - статические токены вида "token=uid:email" для локальной разработки.
	DevTokens string
	AdminUIDs []string

	SendGridAPIKey string
	MailFrom       string
	PublicBaseURL  string

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	// DeadLetterMaxUnprocessed - порог необработанных dead-letter записей для readiness.
	DeadLetterMaxUnprocessed int
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyTTL:              72 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		MailFrom:                    "orders@motostore.example",
		PublicBaseURL:               "http://localhost:3000",
		RetryMaxAttempts:            3,
		RetryInitialDelay:           time.Second,
		DeadLetterMaxUnprocessed:    10,
	}
}

// Validate проверяет требования выбранных драйверов.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	case StorageDriverFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			errs = append(errs, errors.New("firestore project is required for firestore storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyDriver {
	case IdempotencyDriverStorage:
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis idempotency driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
	}

	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be > 0"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be > 0"))
	}
	if c.SendGridAPIKey != "" && strings.TrimSpace(c.MailFrom) == "" {
		errs = append(errs, errors.New("mail from is required when sendgrid is enabled"))
	}

	return errors.Join(errs...)
}
