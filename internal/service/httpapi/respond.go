package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError переводит доменную ошибку в HTTP-ответ.
// Для 5xx текст ошибки наружу не отдаётся.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrWebhookMalformed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrIntentOrderMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrDeadLetterNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPaymentReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderAlreadyExists),
		errors.Is(err, domain.ErrOrderNumberTaken),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrPaymentAlreadyCompleted),
		errors.Is(err, domain.ErrInvalidFulfillmentTransition),
		errors.Is(err, domain.ErrNoPaymentReference),
		domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	case isValidation(err):
		return http.StatusBadRequest
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var validationErrors = []error{
	domain.ErrUserRequired,
	domain.ErrCurrencyRequired,
	domain.ErrItemsRequired,
	domain.ErrItemProductRequired,
	domain.ErrItemQtyInvalid,
	domain.ErrItemPriceInvalid,
	domain.ErrLineTotalMismatch,
	domain.ErrSubtotalMismatch,
	domain.ErrAmountNegative,
	domain.ErrTotalMismatch,
	domain.ErrOrderIDRequired,
	domain.ErrCustomerEmailRequired,
	domain.ErrPaymentReferenceRequired,
	domain.ErrEmptyFulfillmentEdit,
	errBadRequest,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}
