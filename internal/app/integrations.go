package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payrecon/internal/service/httpapi"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/payment"
)

// paymentProvider объединяет оба интерфейса шлюза: mock и Stripe реализуют их вместе.
type paymentProvider interface {
	domain.PaymentGateway
	domain.PaymentLinkIssuer
}

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список брокеров не ошибка: события остаются в outbox.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	list := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(list, logger.WithField("component", "kafka"))
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", list).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// newPaymentProvider возвращает Stripe при наличии ключа, иначе mock-шлюз.
func newPaymentProvider(cfg Config, logger *log.Entry) (paymentProvider, error) {
	if cfg.StripeSecretKey == "" {
		logger.Warn("stripe secret key is not set, using mock payment gateway")
		return payment.NewMockGateway(), nil
	}
	gateway, err := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey: cfg.StripeSecretKey,
	}, logger.WithField("component", "stripe"))
	if err != nil {
		return nil, fmt.Errorf("init stripe gateway: %w", err)
	}
	return gateway, nil
}

// newWebhookVerifier возвращает nil без секрета: эндпоинт webhook отвечает 503.
func newWebhookVerifier(cfg Config, logger *log.Entry) (httpapi.WebhookVerifier, error) {
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("stripe webhook secret is not set, webhooks are disabled")
		return nil, nil
	}
	verifier, err := payment.NewStripeWebhookVerifier(cfg.StripeWebhookSecret, 0)
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

// newBaseNotifier выбирает SendGrid или запись писем в лог.
func newBaseNotifier(cfg Config, logger *log.Entry) (domain.Notifier, error) {
	if cfg.SendGridAPIKey == "" {
		return notify.NewLogNotifier(logger.WithField("component", "notify")), nil
	}
	notifier, err := notify.NewSendGridNotifier(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.MailFrom,
		FromName:  "Moto Store",
	}, logger.WithField("component", "sendgrid"))
	if err != nil {
		return nil, fmt.Errorf("init sendgrid notifier: %w", err)
	}
	return notifier, nil
}

// newTokenVerifier выбирает Firebase Auth или статические dev-токены.
func newTokenVerifier(ctx context.Context, cfg Config, logger *log.Entry) (auth.TokenVerifier, error) {
	if cfg.FirebaseProject != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseProject, cfg.FirestoreCredentials)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return verifier, nil
	}
	if cfg.DevTokens == "" {
		logger.Warn("no token verifier configured, authenticated endpoints will reject requests")
		return nil, nil
	}
	tokens, err := auth.ParseStaticTokens(cfg.DevTokens)
	if err != nil {
		return nil, err
	}
	logger.WithField("tokens", len(tokens)).Warn("using static dev tokens")
	return auth.NewStaticVerifier(tokens), nil
}
