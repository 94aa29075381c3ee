package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
	"github.com/vladislavdragonenkov/payrecon/internal/service/inventory"
	"github.com/vladislavdragonenkov/payrecon/internal/service/payment"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
	"github.com/vladislavdragonenkov/payrecon/internal/service/timeline"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
)

const (
	webhookSecret = "whsec_http_test"
	customerToken = "customer-token"
	otherToken    = "other-token"
	adminToken    = "admin-token"
)

type APISuite struct {
	suite.Suite

	server  *httptest.Server
	orders  domain.OrderStore
	stock   domain.InventoryStore
	ledger  domain.DeadLetterLedger
	gateway *payment.MockGateway
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	s.orders = memory.NewOrderStore()
	s.stock = memory.NewInventoryStore()
	s.ledger = memory.NewDeadLetterLedger()
	s.gateway = payment.NewMockGateway()
	s.Require().NoError(s.stock.Upsert(domain.InventoryRecord{ProductID: "moto-1", Stock: 3, Tracked: true}))
	s.Require().NoError(s.stock.Upsert(domain.InventoryRecord{ProductID: "moto-2", Stock: 5, Tracked: true}))

	policy := auth.NewAllowListPolicy([]string{"admin-1"})
	tl := memory.NewTimelineRepository()
	events := timeline.NewRecorder(memory.NewOutboxRepository(), tl, nil, entry)
	checker := inventory.NewChecker(s.stock)

	engine := reconcile.NewEngine(reconcile.Dependencies{
		Orders:    s.orders,
		Gateway:   s.gateway,
		Inventory: inventory.NewAdjuster(s.stock, nil, entry),
		Ledger:    s.ledger,
		Events:    events,
		Policy:    policy,
	}, reconcile.WithLogger(entry), reconcile.WithSleep(func(time.Duration) {}))

	svc := checkout.NewService(checkout.Dependencies{
		Orders:        s.orders,
		Checker:       checker,
		Gateway:       s.gateway,
		Links:         s.gateway,
		Events:        events,
		Timeline:      tl,
		Policy:        policy,
		PublicBaseURL: "https://shop.example",
	}, checkout.WithLogger(entry))

	verifier, err := payment.NewStripeWebhookVerifier(webhookSecret, 0)
	s.Require().NoError(err)

	h := New(Dependencies{
		Engine:   engine,
		Checkout: svc,
		Checker:  checker,
		Webhooks: verifier,
		Tokens: auth.NewStaticVerifier(map[string]auth.Principal{
			customerToken: {UID: "user-1", Email: "rider@example.com"},
			otherToken:    {UID: "user-2", Email: "other@example.com"},
			adminToken:    {UID: "admin-1"},
		}),
		Idempotency: memory.NewIdempotencyRepository(),
		Metrics:     metrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry()),
		Logger:      entry,
	})
	s.server = httptest.NewServer(h.Routes())
}

func (s *APISuite) TearDownTest() {
	s.server.Close()
}

func (s *APISuite) do(method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(req)
}

func (s *APISuite) send(req *http.Request) (*http.Response, map[string]interface{}) {
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *APISuite) postWebhook(payload []byte, signature string) (*http.Response, map[string]interface{}) {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/webhooks/stripe", bytes.NewReader(payload))
	s.Require().NoError(err)
	req.Header.Set("Stripe-Signature", signature)
	return s.send(req)
}

func (s *APISuite) createOrder() string {
	resp, body := s.do(http.MethodPost, "/api/orders", customerToken, map[string]interface{}{
		"customer": map[string]string{"firstName": "Ada", "lastName": "Rider"},
		"items": []map[string]interface{}{
			{"productId": "moto-1", "name": "Scrambler", "unitPriceMinor": 30000, "quantity": 1},
			{"productId": "moto-2", "name": "Tourer", "unitPriceMinor": 35000, "quantity": 2},
		},
		"shipping":            map[string]interface{}{"method": "standard", "priceMinor": 5000},
		"currency":            "USD",
		"paymentMethod":       "card",
		"discountAmountMinor": 10000,
		"taxAmountMinor":      5000,
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, body)
	order := body["order"].(map[string]interface{})
	s.Require().Equal(float64(100000), order["totalAmountMinor"])
	return order["id"].(string)
}

func signWebhook(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, err := mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	require.NoError(t, err)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func intentSucceededPayload(eventID, orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_hook",
			"object": "payment_intent",
			"status": "succeeded",
			"amount": %d,
			"amount_received": %d,
			"currency": "usd",
			"payment_method_types": ["card"],
			"metadata": {"orderId": %q}
		}}
	}`, eventID, amount, amount, orderID))
}

func (s *APISuite) stockOf(productID string) int64 {
	rec, err := s.stock.Get(productID)
	s.Require().NoError(err)
	return rec.Stock
}

func (s *APISuite) TestCreateAndReadOrder() {
	orderID := s.createOrder()

	resp, body := s.do(http.MethodGet, "/api/orders/"+orderID, customerToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	paymentView := body["payment"].(map[string]interface{})
	s.Equal("pending", paymentView["status"])
	s.Equal("awaiting payment", paymentView["message"])

	resp, _ = s.do(http.MethodGet, "/api/orders/"+orderID, otherToken, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/orders/"+orderID, "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/orders/"+orderID, "bogus", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(http.MethodGet, "/api/orders", customerToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Len(body["orders"], 1)

	s.Equal(int64(3), s.stockOf("moto-1"), "order creation must not touch stock")
}

func (s *APISuite) TestCreateOrderInsufficientStock() {
	resp, _ := s.do(http.MethodPost, "/api/orders", customerToken, map[string]interface{}{
		"items":    []map[string]interface{}{{"productId": "moto-1", "unitPriceMinor": 100, "quantity": 4}},
		"currency": "USD",
	})
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *APISuite) TestWebhookCompletesOrderOnceForDuplicates() {
	orderID := s.createOrder()
	payload := intentSucceededPayload("evt_1", orderID, 100000)

	resp, body := s.postWebhook(payload, signWebhook(s.T(), payload))
	s.Require().Equal(http.StatusOK, resp.StatusCode, body)
	s.Equal("completed", body["outcome"])

	resp, body = s.postWebhook(payload, signWebhook(s.T(), payload))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["duplicate"])

	order, err := s.orders.Get(orderID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusCompleted, order.PaymentDetails.Status)
	s.Equal(domain.OrderStatusProcessing, order.Status)
	s.Equal(int64(2), s.stockOf("moto-1"))
	s.Equal(int64(3), s.stockOf("moto-2"))
}

func (s *APISuite) TestWebhookReplayWithNewEventIDIsNoop() {
	orderID := s.createOrder()
	first := intentSucceededPayload("evt_a", orderID, 100000)
	second := intentSucceededPayload("evt_b", orderID, 100000)

	resp, _ := s.postWebhook(first, signWebhook(s.T(), first))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp, body := s.postWebhook(second, signWebhook(s.T(), second))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal("already_completed", body["outcome"])
	s.Equal(int64(2), s.stockOf("moto-1"))
}

func (s *APISuite) TestWebhookInvalidSignature() {
	orderID := s.createOrder()
	payload := intentSucceededPayload("evt_bad", orderID, 100000)

	resp, _ := s.postWebhook(payload, "t=1,v1=deadbeef")
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	order, err := s.orders.Get(orderID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPending, order.PaymentDetails.Status)
	letters, err := s.ledger.List(domain.DeadLetterFilter{})
	s.Require().NoError(err)
	s.Empty(letters)
}

func (s *APISuite) TestWebhookMalformedObjectIsNotReportedAsBadSignature() {
	orderID := s.createOrder()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_broken",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_broken", "object": "payment_intent", "amount": "lots", "metadata": {"orderId": %q}}}
	}`, orderID))

	resp, body := s.postWebhook(payload, signWebhook(s.T(), payload))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal(domain.ErrWebhookMalformed.Error(), body["error"])

	order, err := s.orders.Get(orderID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPending, order.PaymentDetails.Status)
}

func (s *APISuite) TestWebhookEventIDReusedWithDifferentBody() {
	orderID := s.createOrder()
	first := intentSucceededPayload("evt_same", orderID, 100000)
	second := intentSucceededPayload("evt_same", orderID, 99999)

	resp, _ := s.postWebhook(first, signWebhook(s.T(), first))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp, _ = s.postWebhook(second, signWebhook(s.T(), second))
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *APISuite) TestWebhookUnknownOrderAcknowledged() {
	payload := intentSucceededPayload("evt_ghost", "missing-order", 100)
	resp, body := s.postWebhook(payload, signWebhook(s.T(), payload))
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("order_not_found", body["outcome"])
}

func (s *APISuite) TestConfirmPayment() {
	orderID := s.createOrder()

	resp, body := s.do(http.MethodPost, "/api/payments/intents", customerToken, map[string]string{"orderId": orderID})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, body)
	intentID := body["intentId"].(string)
	s.NotEmpty(body["clientSecret"])

	s.gateway.PutIntent(domain.IntentSnapshot{
		ID:                  intentID,
		Status:              "succeeded",
		AmountMinor:         100000,
		AmountReceivedMinor: 100000,
		Currency:            "usd",
		PaymentMethod:       "card",
		OrderID:             orderID,
	})

	req := map[string]string{"orderId": orderID, "intentId": intentID}
	resp, _ = s.do(http.MethodPost, "/api/payments/confirm", "", req)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/payments/confirm", otherToken, req)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodPost, "/api/payments/confirm", customerToken, req)
	s.Require().Equal(http.StatusOK, resp.StatusCode, body)
	s.Equal("completed", body["status"])
	s.Equal("completed", body["message"])
	s.NotContains(body, "error")

	resp, _ = s.do(http.MethodPost, "/api/payments/intents", customerToken, map[string]string{"orderId": orderID})
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *APISuite) TestConfirmPaymentExhaustedIsAccepted() {
	orderID := s.createOrder()
	s.gateway.RetrieveErr = domain.ErrProcessorUnavailable

	resp, body := s.do(http.MethodPost, "/api/payments/confirm", customerToken,
		map[string]string{"orderId": orderID, "intentId": "pi_down"})
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	s.Equal("processing", body["status"])

	resp, _ = s.do(http.MethodGet, "/api/admin/dead-letters?orderId="+orderID, customerToken, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodGet, "/api/admin/dead-letters?orderId="+orderID+"&processed=false", adminToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	letters := body["deadLetters"].([]interface{})
	s.Require().Len(letters, 1)
	s.Contains(letters[0].(map[string]interface{})["errorPayload"], "payment processor unavailable")

	resp, _ = s.do(http.MethodGet, "/api/admin/dead-letters?processed=maybe", adminToken, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestAdminRetryResolvesDeadLetters() {
	orderID := s.createOrder()

	resp, body := s.do(http.MethodPost, "/api/admin/orders/"+orderID+"/payment-reminder", adminToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode, body)
	sessionID := body["sessionId"].(string)
	s.NotEmpty(body["url"])

	s.gateway.RetrieveErr = domain.ErrProcessorUnavailable
	resp, body = s.do(http.MethodPost, "/api/admin/payments/retry", adminToken, map[string]string{"orderId": orderID})
	s.Require().Equal(http.StatusInternalServerError, resp.StatusCode)
	s.NotEmpty(body["deadLetterId"])
	s.NotEmpty(body["error"])

	s.gateway.RetrieveErr = nil
	s.gateway.PutCheckoutSession(domain.CheckoutSessionSnapshot{
		ID:               sessionID,
		PaymentStatus:    "paid",
		AmountTotalMinor: 100000,
		Currency:         "usd",
		PaymentIntentID:  "pi_link",
		OrderID:          orderID,
	})

	resp, _ = s.do(http.MethodPost, "/api/admin/payments/retry", customerToken, map[string]string{"orderId": orderID})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodPost, "/api/admin/payments/retry", adminToken, map[string]string{"orderId": orderID})
	s.Require().Equal(http.StatusOK, resp.StatusCode, body)
	s.Equal("completed", body["outcome"])
	s.Equal(float64(1), body["resolvedDeadLetters"])

	processed := true
	letters, err := s.ledger.List(domain.DeadLetterFilter{OrderID: orderID, Processed: &processed})
	s.Require().NoError(err)
	s.Require().Len(letters, 1)
	s.Equal("admin-1", letters[0].ProcessedBy)
}

func (s *APISuite) TestInventoryCheck() {
	resp, body := s.do(http.MethodGet, "/api/inventory/check?items=moto-1:2,moto-2:9", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(false, body["available"])
	s.Len(body["items"], 2)

	resp, _ = s.do(http.MethodGet, "/api/inventory/check?items=moto-1:zero", "", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestFulfillmentEditAndTimeline() {
	orderID := s.createOrder()

	resp, _ := s.do(http.MethodPatch, "/api/admin/orders/"+orderID, adminToken, map[string]string{"status": "shipped"})
	s.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(http.MethodPatch, "/api/admin/orders/"+orderID, adminToken, map[string]string{})
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(http.MethodPatch, "/api/admin/orders/"+orderID, adminToken, map[string]string{"trackingNumber": "TRK-1"})
	s.Require().Equal(http.StatusOK, resp.StatusCode, body)
	s.Equal("TRK-1", body["order"].(map[string]interface{})["trackingNumber"])

	resp, _ = s.do(http.MethodPatch, "/api/admin/orders/"+orderID, customerToken, map[string]string{"notes": "x"})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodGet, "/api/admin/orders/"+orderID+"/timeline", adminToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	events := body["events"].([]interface{})
	s.Require().GreaterOrEqual(len(events), 2)
	s.Equal(domain.EventOrderCreated, events[0].(map[string]interface{})["type"])
}

func (s *APISuite) TestDeleteOrder() {
	orderID := s.createOrder()

	resp, _ := s.do(http.MethodDelete, "/api/admin/orders/"+orderID, customerToken, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodDelete, "/api/admin/orders/"+orderID, adminToken, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/orders/"+orderID, adminToken, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", domain.ErrDeadLetterNotFound), http.StatusNotFound},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: %w", domain.ErrForbidden, domain.ErrIntentOrderMismatch), http.StatusForbidden},
		{domain.ErrSignatureInvalid, http.StatusBadRequest},
		{fmt.Errorf("%w: decode payment intent", domain.ErrWebhookMalformed), http.StatusBadRequest},
		{domain.ErrItemQtyInvalid, http.StatusBadRequest},
		{domain.ErrInsufficientStock, http.StatusConflict},
		{domain.ErrPaymentAlreadyCompleted, http.StatusConflict},
		{domain.ErrIdempotencyHashMismatch, http.StatusConflict},
		{fmt.Errorf("get: %w", domain.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{domain.ErrProcessorUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestParseItemsQuery(t *testing.T) {
	items, err := parseItemsQuery("moto-1:2, moto-2 ,moto-1:1")
	require.NoError(t, err)
	require.Equal(t, []domain.ItemQuantity{
		{ProductID: "moto-1", Quantity: 2},
		{ProductID: "moto-2", Quantity: 1},
		{ProductID: "moto-1", Quantity: 1},
	}, items)

	_, err = parseItemsQuery("")
	require.ErrorIs(t, err, domain.ErrItemsRequired)

	_, err = parseItemsQuery("moto-1:-1")
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	_, err = parseItemsQuery(":3")
	require.ErrorIs(t, err, domain.ErrItemProductRequired)
}
