package payment

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	metadataOrderID     = "orderId"
	metadataOrderNumber = "orderNumber"
	metadataUserID      = "userId"
)

// StripeConfig описывает подключение к Stripe.
type StripeConfig struct {
	SecretKey string
	// BaseURL переопределяет адрес API (stripe-mock, тесты).
	BaseURL string
	Timeout time.Duration
	// MaxNetworkRetries - встроенные повторы SDK; повторы сверки живут выше.
	MaxNetworkRetries int64
}

// StripeGateway реализует PaymentGateway и PaymentLinkIssuer поверх stripe-go.
type StripeGateway struct {
	api    *client.API
	logger *log.Entry
}

// NewStripeGateway создаёт клиента Stripe с отдельным backend, без глобального stripe.Key.
func NewStripeGateway(cfg StripeConfig, logger *log.Entry) (*StripeGateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if logger == nil {
		logger = log.New().WithField("component", "stripe")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return &StripeGateway{api: api, logger: logger}, nil
}

// CreateIntent создаёт payment intent с orderId в metadata.
// Ключ идемпотентности привязан к заказу, повторный вызов вернёт тот же intent.
func (g *StripeGateway) CreateIntent(req domain.IntentRequest) (domain.IntentHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(metadataOrderID, req.OrderID)
	if req.OrderNumber != "" {
		params.AddMetadata(metadataOrderNumber, req.OrderNumber)
	}
	if req.UserID != "" {
		params.AddMetadata(metadataUserID, req.UserID)
	}
	params.SetIdempotencyKey(fmt.Sprintf("intent-%s-%d", req.OrderID, req.AmountMinor))

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return domain.IntentHandle{}, classifyStripeError("create payment intent", err)
	}
	g.logger.WithFields(log.Fields{
		"order_id":  req.OrderID,
		"intent_id": pi.ID,
	}).Info("payment intent created")
	return domain.IntentHandle{IntentID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// RetrieveIntent возвращает текущее состояние intent у Stripe.
func (g *StripeGateway) RetrieveIntent(intentID string) (domain.IntentSnapshot, error) {
	if intentID == "" {
		return domain.IntentSnapshot{}, domain.ErrPaymentReferenceRequired
	}
	pi, err := g.api.PaymentIntents.Get(intentID, nil)
	if err != nil {
		return domain.IntentSnapshot{}, classifyStripeError("retrieve payment intent", err)
	}
	return intentSnapshot(pi), nil
}

// RetrieveCheckoutSession возвращает состояние checkout session с развёрнутым payment intent.
func (g *StripeGateway) RetrieveCheckoutSession(sessionID string) (domain.CheckoutSessionSnapshot, error) {
	if sessionID == "" {
		return domain.CheckoutSessionSnapshot{}, domain.ErrPaymentReferenceRequired
	}
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent")

	cs, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return domain.CheckoutSessionSnapshot{}, classifyStripeError("retrieve checkout session", err)
	}
	return sessionSnapshot(cs), nil
}

// CreateCheckoutSession выпускает ссылку на оплату заказа.
func (g *StripeGateway) CreateCheckoutSession(req domain.CheckoutSessionRequest) (domain.CheckoutSessionHandle, error) {
	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	if req.ExtraMinor < 0 {
		// Stripe не принимает отрицательные позиции: скидка сворачивает заказ в одну строку.
		var total int64
		for _, item := range req.Items {
			total += item.LineTotalMinor
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			lineItem(currency, "Order "+req.OrderNumber, total+req.ExtraMinor, 1),
		}
	} else {
		for _, item := range req.Items {
			params.LineItems = append(params.LineItems,
				lineItem(currency, item.Name, item.UnitPriceMinor, int64(item.Quantity)))
		}
		if req.ExtraMinor > 0 {
			params.LineItems = append(params.LineItems,
				lineItem(currency, "Shipping and taxes", req.ExtraMinor, 1))
		}
	}
	params.AddMetadata(metadataOrderID, req.OrderID)
	if req.OrderNumber != "" {
		params.AddMetadata(metadataOrderNumber, req.OrderNumber)
	}

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return domain.CheckoutSessionHandle{}, classifyStripeError("create checkout session", err)
	}
	return domain.CheckoutSessionHandle{SessionID: cs.ID, URL: cs.URL}, nil
}

func lineItem(currency, name string, unitAmount, quantity int64) *stripe.CheckoutSessionLineItemParams {
	if name == "" {
		name = "Item"
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(unitAmount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
		Quantity: stripe.Int64(quantity),
	}
}

func intentSnapshot(pi *stripe.PaymentIntent) domain.IntentSnapshot {
	status := string(pi.Status)
	snap := domain.IntentSnapshot{
		ID:                  pi.ID,
		Status:              status,
		Outcome:             IntentOutcome(status),
		AmountMinor:         pi.Amount,
		AmountReceivedMinor: pi.AmountReceived,
		Currency:            string(pi.Currency),
		PaymentMethod:       intentPaymentMethod(pi),
		OrderID:             pi.Metadata[metadataOrderID],
		Created:             time.Unix(pi.Created, 0).UTC(),
	}
	if pi.LastPaymentError != nil {
		snap.LastError = pi.LastPaymentError.Msg
	}
	if snap.Outcome == domain.ProcessorOutcomeFailed && snap.LastError == "" {
		snap.LastError = "payment intent status: " + status
	}
	return snap
}

func intentPaymentMethod(pi *stripe.PaymentIntent) string {
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		return string(pi.PaymentMethod.Type)
	}
	if len(pi.PaymentMethodTypes) > 0 {
		return pi.PaymentMethodTypes[0]
	}
	return ""
}

func sessionSnapshot(cs *stripe.CheckoutSession) domain.CheckoutSessionSnapshot {
	paymentStatus := string(cs.PaymentStatus)
	snap := domain.CheckoutSessionSnapshot{
		ID:               cs.ID,
		PaymentStatus:    paymentStatus,
		Outcome:          SessionOutcome(paymentStatus),
		AmountTotalMinor: cs.AmountTotal,
		Currency:         string(cs.Currency),
		Created:          time.Unix(cs.Created, 0).UTC(),
		OrderID:          cs.Metadata[metadataOrderID],
	}
	if snap.OrderID == "" {
		snap.OrderID = cs.ClientReferenceID
	}
	if cs.PaymentIntent != nil {
		snap.PaymentIntentID = cs.PaymentIntent.ID
		snap.PaymentMethod = intentPaymentMethod(cs.PaymentIntent)
	}
	if snap.PaymentMethod == "" && len(cs.PaymentMethodTypes) > 0 {
		snap.PaymentMethod = cs.PaymentMethodTypes[0]
	}
	return snap
}

// classifyStripeError сводит ошибки SDK к доменным: 404 - неизвестная ссылка,
// сеть, 429 и 5xx - временная недоступность провайдера.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%s: %w", op, domain.ErrPaymentReferenceNotFound)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrProcessorUnavailable, stripeErr.Msg)
		default:
			return fmt.Errorf("%s: %s", op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrProcessorUnavailable, err)
}

var (
	_ domain.PaymentGateway    = (*StripeGateway)(nil)
	_ domain.PaymentLinkIssuer = (*StripeGateway)(nil)
)
