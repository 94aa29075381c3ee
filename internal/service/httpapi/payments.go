package httpapi

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
)

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.engine.ConfirmClientPayment(principal(r), req.OrderID, req.IntentID)
	if err != nil {
		if errors.Is(err, domain.ErrExhausted) {
			// Покупателю не показываем детали: запись уже в dead-letter, админ разберётся.
			h.logger.WithError(err).WithField("order_id", req.OrderID).Warn("client confirmation exhausted")
			writeJSON(w, http.StatusAccepted, checkout.PaymentView{
				OrderID: req.OrderID,
				Status:  string(domain.PaymentStatusProcessing),
				Message: checkout.PaymentMessage(domain.PaymentStatusProcessing),
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkout.PaymentView{
		OrderID: res.OrderID,
		Status:  string(res.PaymentStatus),
		Message: checkout.PaymentMessage(res.PaymentStatus),
	})
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	handle, err := h.checkout.CreatePaymentIntent(principal(r), req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		OrderID:      req.OrderID,
		IntentID:     handle.IntentID,
		ClientSecret: handle.ClientSecret,
	})
}

func (h *Handler) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	p := principal(r)
	res, err := h.engine.AdminRetry(p, req.OrderID)
	resp := toAdminRetryResponse(req.OrderID, res)
	if err != nil {
		if errors.Is(err, domain.ErrExhausted) {
			h.logger.WithError(err).WithFields(log.Fields{
				"order_id":       req.OrderID,
				"admin":          p.UID,
				"dead_letter_id": res.DeadLetterID,
			}).Warn("admin retry exhausted")
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAdminRetryResponse(orderID string, res reconcile.Result) adminRetryResponse {
	if res.OrderID != "" {
		orderID = res.OrderID
	}
	return adminRetryResponse{
		OrderID:             orderID,
		Outcome:             string(res.Outcome),
		PaymentStatus:       string(res.PaymentStatus),
		ProcessorStatus:     res.ProcessorStatus,
		Attempts:            res.Attempts,
		DeadLetterID:        res.DeadLetterID,
		ResolvedDeadLetters: res.ResolvedDeadLetters,
	}
}
