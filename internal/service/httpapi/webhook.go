package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const (
	webhookProvider        = "stripe"
	webhookSignatureHeader = "Stripe-Signature"
)

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if h.webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks are not configured")
		return
	}

	event, err := h.webhooks.Verify(body, r.Header.Get(webhookSignatureHeader))
	switch {
	case errors.Is(err, domain.ErrWebhookMalformed):
		h.logger.WithError(err).Warn("webhook event rejected")
		writeError(w, http.StatusBadRequest, domain.ErrWebhookMalformed.Error())
		return
	case err != nil:
		h.logger.WithError(err).Warn("webhook signature rejected")
		writeError(w, http.StatusBadRequest, domain.ErrSignatureInvalid.Error())
		return
	}

	logger := h.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
	})

	if h.idem == nil || event.ID == "" {
		status, resp := h.processWebhook(event, logger)
		writeJSON(w, status, resp)
		return
	}

	key := domain.WebhookEventKey(webhookProvider, event.ID)
	hash := domain.RequestHash(body)
	if replayed := h.replayWebhook(w, key, hash, logger); replayed {
		return
	}

	status, resp := h.processWebhook(event, logger)
	payload, _ := json.Marshal(resp)
	if status >= http.StatusInternalServerError {
		if err := h.idem.MarkFailed(key, payload, status); err != nil {
			logger.WithError(err).Warn("mark webhook key failed")
		}
	} else if err := h.idem.MarkDone(key, payload, status); err != nil {
		logger.WithError(err).Warn("mark webhook key done failed")
	}
	writeJSON(w, status, resp)
}

// replayWebhook захватывает ключ события. Возвращает true, если ответ уже записан:
// событие обработано раньше, обрабатывается сейчас или пришло с другим телом.
func (h *Handler) replayWebhook(w http.ResponseWriter, key, hash string, logger *log.Entry) bool {
	rec, err := h.idem.CreateProcessing(key, hash, h.now().Add(h.idemTTL))
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		logger.Warn("webhook event id reused with different payload")
		writeError(w, http.StatusConflict, err.Error())
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if rec.Status == domain.IdempotencyStatusDone {
			logger.Info("duplicate webhook delivery acknowledged")
			var resp webhookResponse
			if len(rec.ResponseBody) > 0 {
				_ = json.Unmarshal(rec.ResponseBody, &resp)
			}
			resp.Received = true
			resp.Duplicate = true
			writeJSON(w, http.StatusOK, resp)
			return true
		}
		logger.Info("webhook delivery already in progress")
		writeError(w, http.StatusConflict, "event is being processed")
		return true
	default:
		// Хранилище ключей недоступно: обрабатываем без дедупликации,
		// повторная доставка безопасна благодаря идемпотентной сверке.
		logger.WithError(err).Warn("webhook idempotency store unavailable")
		return false
	}
}

func (h *Handler) processWebhook(event domain.ProcessorEvent, logger *log.Entry) (int, webhookResponse) {
	res, err := h.engine.HandleProcessorEvent(event)
	resp := webhookResponse{
		Received: true,
		EventID:  event.ID,
		OrderID:  res.OrderID,
		Outcome:  string(res.Outcome),
	}
	if err == nil {
		return http.StatusOK, resp
	}

	logger = logger.WithError(err)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		// Повторная доставка не поможет: заказа нет.
		logger.Warn("webhook for unknown order acknowledged")
		resp.Outcome = "order_not_found"
		return http.StatusOK, resp
	case errors.Is(err, domain.ErrIntentOrderMismatch):
		logger.Warn("webhook intent does not belong to order")
		resp.Outcome = "mismatch"
		return http.StatusOK, resp
	default:
		logger.Error("webhook processing failed")
		resp.Received = false
		return http.StatusInternalServerError, resp
	}
}
