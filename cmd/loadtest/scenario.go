package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	webhookPath   = "/api/webhooks/stripe"
	ordersPath    = "/api/orders"
	defaultAmount = int64(30000)
	defaultQty    = int32(1)
)

// createdOrder содержит поля заказа, нужные для подписи webhook-а на полную сумму.
type createdOrder struct {
	ID               string
	TotalAmountMinor int64
	Currency         string
}

type orderEnvelope struct {
	Order struct {
		ID               string `json:"id"`
		TotalAmountMinor int64  `json:"totalAmountMinor"`
		PaymentDetails   struct {
			Status   string `json:"status"`
			Currency string `json:"currency"`
		} `json:"paymentDetails"`
	} `json:"order"`
}

// runScenario оформляет заказ и, в режиме шторма, оплачивает его повторяющимися webhook-ами.
func runScenario(client *http.Client, opts options, tag string, n int, rec *recorder) (err error) {
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		rec.observe(scenarioSeries, time.Since(started), status, err == nil)
	}()

	order, err := createOrder(client, opts, tag, n, rec)
	if err != nil || opts.mode == modeCreate {
		return err
	}

	payload, err := buildWebhookPayload(order, tag)
	if err != nil {
		return err
	}
	if err := fireWebhookStorm(client, opts, payload, rec); err != nil {
		return err
	}
	if !opts.verify {
		return nil
	}
	return verifyOrder(client, opts, order.ID, rec)
}

func createOrder(client *http.Client, opts options, tag string, n int, rec *recorder) (createdOrder, error) {
	body, err := json.Marshal(map[string]any{
		"customer": map[string]string{
			"firstName": "Load",
			"lastName":  fmt.Sprintf("Rider %d", n),
			"email":     fmt.Sprintf("load+%s@motostore.example", tag),
		},
		"items": []map[string]any{{
			"productId":      opts.productID,
			"name":           "Load test motorcycle",
			"unitPriceMinor": opts.amountMinor,
			"quantity":       defaultQty,
		}},
		"currency":      opts.currency,
		"paymentMethod": "card",
	})
	if err != nil {
		return createdOrder{}, err
	}

	req, err := http.NewRequest(http.MethodPost, opts.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return createdOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.token)

	var env orderEnvelope
	if err := doJSON(client, "CreateOrder", req, http.StatusCreated, &env, rec); err != nil {
		return createdOrder{}, err
	}
	if env.Order.ID == "" {
		return createdOrder{}, errors.New("create response returned empty order id")
	}
	return createdOrder{
		ID:               env.Order.ID,
		TotalAmountMinor: env.Order.TotalAmountMinor,
		Currency:         env.Order.PaymentDetails.Currency,
	}, nil
}

func verifyOrder(client *http.Client, opts options, orderID string, rec *recorder) error {
	req, err := http.NewRequest(http.MethodGet, opts.baseURL+ordersPath+"/"+orderID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)

	var env orderEnvelope
	if err := doJSON(client, "GetOrder", req, http.StatusOK, &env, rec); err != nil {
		return err
	}
	if status := env.Order.PaymentDetails.Status; status != "completed" {
		return fmt.Errorf("order %s payment status %q after webhook storm", orderID, status)
	}
	return nil
}

// buildWebhookPayload собирает событие payment_intent.succeeded на полную сумму заказа.
func buildWebhookPayload(order createdOrder, tag string) ([]byte, error) {
	currency := strings.ToLower(order.Currency)
	if currency == "" {
		currency = "usd"
	}
	return json.Marshal(map[string]any{
		"id":          "evt_lt_" + tag,
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_lt_" + tag,
				"object":          "payment_intent",
				"status":          "succeeded",
				"amount":          order.TotalAmountMinor,
				"amount_received": order.TotalAmountMinor,
				"currency":        currency,
				"metadata":        map[string]string{"orderId": order.ID},
			},
		},
	})
}

// fireWebhookStorm одновременно доставляет одно и то же событие opts.duplicates раз.
// 409 означает, что копия пришла, пока первая ещё обрабатывается, и считается успехом.
func fireWebhookStorm(client *http.Client, opts options, payload []byte, rec *recorder) error {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  opts.webhookSecret,
	})

	errs := make([]error, opts.duplicates)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = deliverWebhook(client, opts.baseURL, payload, signed.Header, rec)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func deliverWebhook(client *http.Client, baseURL string, payload []byte, signature string, rec *recorder) error {
	req, err := http.NewRequest(http.MethodPost, baseURL+webhookPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rec.observe("Webhook", time.Since(started), failureLabel(err), false)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	accepted := resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusConflict
	rec.observe("Webhook", time.Since(started), strconv.Itoa(resp.StatusCode), accepted)
	if !accepted {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func doJSON(client *http.Client, name string, req *http.Request, want int, out any, rec *recorder) error {
	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rec.observe(name, time.Since(started), failureLabel(err), false)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	status := strconv.Itoa(resp.StatusCode)
	switch {
	case err != nil:
		rec.observe(name, time.Since(started), status, false)
		return err
	case resp.StatusCode != want:
		rec.observe(name, time.Since(started), status, false)
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		rec.observe(name, time.Since(started), "decode_error", false)
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	rec.observe(name, time.Since(started), status, true)
	return nil
}

func failureLabel(err error) string {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return "timeout"
	}
	return "transport_error"
}
