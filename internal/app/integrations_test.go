package app

import (
	"context"
	"testing"

	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/payment"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
)

func TestInitKafkaProducer_NoBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{" ", ""}, quietLogger())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if producer != nil {
		t.Fatal("expected nil producer without brokers")
	}

	closeKafka(nil, quietLogger())
}

func TestNewOutboxRelay(t *testing.T) {
	cfg := DefaultConfig()
	repo := memory.NewOutboxRepository()

	if w := newOutboxRelay(cfg, repo, nil, nil, quietLogger()); w != nil {
		t.Fatal("expected nil relay without kafka producer")
	}

	producer := kafka.NewProducerWithSyncProducer(mocks.NewSyncProducer(t, nil), quietLogger())
	defer closeKafka(producer, quietLogger())

	if w := newOutboxRelay(cfg, repo, producer, nil, quietLogger()); w == nil {
		t.Fatal("expected outbox relay with kafka producer")
	}
}

func TestNewPaymentProvider(t *testing.T) {
	provider, err := newPaymentProvider(Config{}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := provider.(*payment.MockGateway); !ok {
		t.Fatalf("expected mock gateway without stripe key, got %T", provider)
	}

	provider, err = newPaymentProvider(Config{StripeSecretKey: "sk_test_123"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := provider.(*payment.StripeGateway); !ok {
		t.Fatalf("expected stripe gateway, got %T", provider)
	}
}

func TestNewWebhookVerifier(t *testing.T) {
	verifier, err := newWebhookVerifier(Config{}, quietLogger())
	if err != nil || verifier != nil {
		t.Fatalf("expected disabled webhooks without secret, got %v / %v", verifier, err)
	}

	verifier, err = newWebhookVerifier(Config{StripeWebhookSecret: "whsec_123"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := verifier.(*payment.StripeWebhookVerifier); !ok {
		t.Fatalf("expected stripe webhook verifier, got %T", verifier)
	}
}

func TestNewBaseNotifier(t *testing.T) {
	notifier, err := newBaseNotifier(Config{}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := notifier.(*notify.LogNotifier); !ok {
		t.Fatalf("expected log notifier without sendgrid key, got %T", notifier)
	}

	notifier, err = newBaseNotifier(Config{SendGridAPIKey: "SG.key", MailFrom: "orders@motostore.example"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := notifier.(*notify.SendGridNotifier); !ok {
		t.Fatalf("expected sendgrid notifier, got %T", notifier)
	}
}

func TestNewTokenVerifier(t *testing.T) {
	ctx := context.Background()

	verifier, err := newTokenVerifier(ctx, Config{}, quietLogger())
	if err != nil || verifier != nil {
		t.Fatalf("expected no verifier without configuration, got %v / %v", verifier, err)
	}

	verifier, err = newTokenVerifier(ctx, Config{DevTokens: "tok-1=user-1:rider@example.com"}, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	principal, err := verifier.Verify(ctx, "tok-1")
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if principal != (auth.Principal{UID: "user-1", Email: "rider@example.com"}) {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	if _, err := newTokenVerifier(ctx, Config{DevTokens: "broken"}, quietLogger()); err == nil {
		t.Fatal("expected error for malformed dev tokens")
	}
}
