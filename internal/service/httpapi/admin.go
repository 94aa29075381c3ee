package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

func (h *Handler) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.DeadLetterFilter{OrderID: query.Get("orderId")}

	if raw := query.Get("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			writeDomainError(w, fmt.Errorf("%w: processed must be true or false", errBadRequest))
			return
		}
		filter.Processed = &processed
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter.Limit = limit

	records, err := h.engine.ListDeadLetters(principal(r), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]deadLetterDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toDeadLetterDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deadLetters": out})
}

func (h *Handler) handleEditFulfillment(w http.ResponseWriter, r *http.Request) {
	var req fulfillmentEditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	order, err := h.checkout.EditFulfillment(principal(r), r.PathValue("id"), req.toDomain())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"order": toOrderDTO(order)})
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.DeleteOrder(principal(r), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePaymentReminder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	handle, err := h.checkout.SendPaymentReminder(principal(r), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reminderResponse{
		OrderID:   orderID,
		SessionID: handle.SessionID,
		URL:       handle.URL,
	})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.checkout.Timeline(principal(r), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]timelineEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventDTO{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
