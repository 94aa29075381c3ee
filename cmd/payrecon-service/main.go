package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/app"
	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/version"
)

const (
	envHTTPAddr                    = "PAYRECON_HTTP_ADDR"
	envMetricsAddr                 = "PAYRECON_METRICS_ADDR"
	envStorageDriver               = "PAYRECON_STORAGE_DRIVER"
	envPostgresDSN                 = "PAYRECON_POSTGRES_DSN"
	envPostgresAutoMigrate         = "PAYRECON_POSTGRES_AUTO_MIGRATE"
	envFirestoreProject            = "PAYRECON_FIRESTORE_PROJECT"
	envFirestoreCredentials        = "PAYRECON_FIRESTORE_CREDENTIALS"
	envIdempotencyDriver           = "PAYRECON_IDEMPOTENCY_DRIVER"
	envRedisAddr                   = "PAYRECON_REDIS_ADDR"
	envIdempotencyTTL              = "PAYRECON_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "PAYRECON_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "PAYRECON_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envKafkaBrokers                = "PAYRECON_KAFKA_BROKERS"
	envOutboxPollInterval          = "PAYRECON_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "PAYRECON_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "PAYRECON_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "PAYRECON_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "PAYRECON_OUTBOX_MAX_PENDING"
	envStripeSecretKey             = "PAYRECON_STRIPE_SECRET_KEY"
	envStripeWebhookSecret         = "PAYRECON_STRIPE_WEBHOOK_SECRET"
	envFirebaseProject             = "PAYRECON_FIREBASE_PROJECT"
	envDevTokens                   = "PAYRECON_DEV_TOKENS"
	envAdminUIDs                   = "PAYRECON_ADMIN_UIDS"
	envSendGridAPIKey              = "PAYRECON_SENDGRID_API_KEY"
	envMailFrom                    = "PAYRECON_MAIL_FROM"
	envPublicBaseURL               = "PAYRECON_PUBLIC_BASE_URL"
	envRetryMaxAttempts            = "PAYRECON_RETRY_MAX_ATTEMPTS"
	envRetryInitialDelay           = "PAYRECON_RETRY_INITIAL_DELAY"
	envLogLevel                    = "PAYRECON_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", envLogLevel, err)
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv собирает конфигурацию. Некорректные значения не роняют сервис:
// остаётся значение по умолчанию, а в warnings попадает описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envFirestoreProject, &cfg.FirestoreProject)
	str(envFirestoreCredentials, &cfg.FirestoreCredentials)

	lower(envIdempotencyDriver, &cfg.IdempotencyDriver)
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = auth.ParseList(v)
	}
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	str(envStripeSecretKey, &cfg.StripeSecretKey)
	str(envStripeWebhookSecret, &cfg.StripeWebhookSecret)
	str(envFirebaseProject, &cfg.FirebaseProject)
	str(envDevTokens, &cfg.DevTokens)
	if v, ok := lookup(envAdminUIDs); ok {
		cfg.AdminUIDs = auth.ParseList(v)
	}
	str(envSendGridAPIKey, &cfg.SendGridAPIKey)
	str(envMailFrom, &cfg.MailFrom)
	str(envPublicBaseURL, &cfg.PublicBaseURL)

	integer(envRetryMaxAttempts, &cfg.RetryMaxAttempts, positive, "must be > 0")
	duration(envRetryInitialDelay, &cfg.RetryInitialDelay, nonNegativeDuration, "must be >= 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}
	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn("config: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":          cfg.HTTPAddr,
		"metrics_addr":       cfg.MetricsAddr,
		"storage_driver":     cfg.StorageDriver,
		"idempotency_driver": cfg.IdempotencyDriver,
		"version":            version.String(),
	}).Info("starting payrecon-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("payrecon-service exited with error")
	}

	log.Info("payrecon-service stopped")
}
