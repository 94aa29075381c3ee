package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// Поддерживаемые типы событий Stripe.
const (
	EventIntentSucceeded       = "payment_intent.succeeded"
	EventIntentPaymentFailed   = "payment_intent.payment_failed"
	EventIntentRequiresAction  = "payment_intent.requires_action"
	EventIntentProcessing      = "payment_intent.processing"
	EventIntentCanceled        = "payment_intent.canceled"
	EventSessionCompleted      = "checkout.session.completed"
	EventSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventSessionAsyncFailed    = "checkout.session.async_payment_failed"
)

// StripeWebhookVerifier проверяет подпись Stripe-Signature и разбирает событие.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeWebhookVerifier создаёт верификатор. tolerance <= 0 - значение SDK по умолчанию (5 минут).
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	if secret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Verify возвращает событие провайдера. Неподдерживаемые типы возвращаются без Result.Outcome.
func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (domain.ProcessorEvent, error) {
	if signatureHeader == "" {
		return domain.ProcessorEvent{}, fmt.Errorf("%w: missing signature header", domain.ErrSignatureInvalid)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ProcessorEvent{}, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return ParseEvent(event)
}

// ParseEvent переводит событие Stripe в доменное.
func ParseEvent(event stripe.Event) (domain.ProcessorEvent, error) {
	out := domain.ProcessorEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	occurred := time.Unix(event.Created, 0).UTC()

	switch out.Type {
	case EventIntentSucceeded, EventIntentPaymentFailed, EventIntentRequiresAction,
		EventIntentProcessing, EventIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("%w: decode payment intent: %v", domain.ErrWebhookMalformed, err)
		}
		snap := intentSnapshot(&pi)
		out.OrderID = snap.OrderID
		out.Result = snap.Result()
		if out.Result.AmountMinor == 0 && snap.Outcome == domain.ProcessorOutcomeSucceeded {
			out.Result.AmountMinor = snap.AmountMinor
		}
		out.Result.OccurredAt = occurred

	case EventSessionCompleted, EventSessionAsyncSucceeded, EventSessionAsyncFailed:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return out, fmt.Errorf("%w: decode checkout session: %v", domain.ErrWebhookMalformed, err)
		}
		snap := sessionSnapshot(&cs)
		if out.Type == EventSessionAsyncFailed {
			snap.Outcome = domain.ProcessorOutcomeFailed
		}
		// checkout.session.completed с unpaid означает отложенный метод оплаты: ждём async-событие.
		if out.Type == EventSessionCompleted && snap.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid) {
			snap.Outcome = domain.ProcessorOutcomeRequiresAction
		}
		out.OrderID = snap.OrderID
		out.CheckoutSessionID = snap.ID
		out.Result = snap.Result()
		out.Result.OccurredAt = occurred
	}
	return out, nil
}
