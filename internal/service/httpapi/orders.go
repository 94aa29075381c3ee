package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	order, err := h.checkout.CreateOrder(principal(r), req.toService())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		Order:   toOrderDTO(order),
		Payment: checkout.CustomerPaymentView(order),
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetOrder(principal(r), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		Order:   toOrderDTO(order),
		Payment: checkout.CustomerPaymentView(order),
	})
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	orders, err := h.checkout.ListOrders(principal(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := orderListResponse{Orders: make([]orderDTO, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toOrderDTO(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleInventoryCheck(w http.ResponseWriter, r *http.Request) {
	items, err := parseItemsQuery(r.URL.Query().Get("items"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.checker.Check(items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	available := true
	for _, item := range result {
		available = available && item.Available
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Available: available, Items: result})
}

// parseItemsQuery разбирает строку вида "id:qty,id:qty".
func parseItemsQuery(raw string) ([]domain.ItemQuantity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrItemsRequired
	}
	var items []domain.ItemQuantity
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, qtyRaw, ok := strings.Cut(part, ":")
		if !ok {
			qtyRaw = "1"
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, domain.ErrItemProductRequired
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(qtyRaw), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity for %s: %v", errBadRequest, id, err)
		}
		if qty <= 0 {
			return nil, domain.ErrItemQtyInvalid
		}
		items = append(items, domain.ItemQuantity{ProductID: id, Quantity: int32(qty)})
	}
	if len(items) == 0 {
		return nil, domain.ErrItemsRequired
	}
	return items, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
