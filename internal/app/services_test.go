package app

import (
	"bytes"
	"context"
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

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/payment"
)

const testWebhookSecret = "whsec_app_test"

func TestBuildServices_WebhookCompletesOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StripeWebhookSecret = testWebhookSecret
	cfg.DevTokens = "rider-token=user-1:rider@example.com,admin-token=admin-1"
	cfg.AdminUIDs = []string{"admin-1"}

	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer func() { _ = deps.closeFn() }()
	require.NoError(t, deps.inventory.Upsert(domain.InventoryRecord{ProductID: "moto-1", Stock: 2, Tracked: true}))

	webhooks, err := newWebhookVerifier(cfg, quietLogger())
	require.NoError(t, err)
	tokens, err := newTokenVerifier(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	svc := buildServices(cfg, deps, integrations{
		provider: payment.NewMockGateway(),
		webhooks: webhooks,
		tokens:   tokens,
		notifier: notify.NewLogNotifier(quietLogger()),
	}, metrics.NewReconcileMetrics(), quietLogger())

	server := httptest.NewServer(svc.api.Routes())
	defer server.Close()

	orderID := createTestOrder(t, server.URL, "rider-token")

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_app_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_app_1",
			"object": "payment_intent",
			"status": "succeeded",
			"amount": 30000,
			"amount_received": 30000,
			"currency": "usd",
			"metadata": {"orderId": %q}
		}}
	}`, orderID))

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/api/webhooks/stripe", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Stripe-Signature", signTestWebhook(t, payload))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	order, err := deps.orders.Get(orderID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCompleted, order.PaymentDetails.Status)
	require.Equal(t, domain.OrderStatusProcessing, order.Status)

	stock, err := deps.inventory.Get("moto-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stock.Stock, "duplicate delivery must decrement stock once")

	events, err := deps.timelineRepo.List(orderID)
	require.NoError(t, err)
	completed := 0
	for _, ev := range events {
		if ev.Type == domain.EventPaymentCompleted {
			completed++
		}
	}
	require.Equal(t, 1, completed)

	stats, err := deps.outboxRepo.Stats()
	require.NoError(t, err)
	require.Positive(t, stats.PendingCount, "events must be queued for the outbox worker")
}

func createTestOrder(t *testing.T, baseURL, token string) string {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{
		"customer": map[string]string{"firstName": "Ada", "lastName": "Rider", "email": "rider@example.com"},
		"items": []map[string]interface{}{
			{"productId": "moto-1", "name": "Scrambler", "unitPriceMinor": 30000, "quantity": 1},
		},
		"currency":      "USD",
		"paymentMethod": "card",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Order.ID)
	return out.Order.ID
}

func signTestWebhook(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	_, err := mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	require.NoError(t, err)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
