package payment

import "github.com/vladislavdragonenkov/payrecon/internal/domain"

// IntentOutcome нормализует статус payment intent.
// Неизвестные статусы считаются ожидающими действия: заказ не помечается ни оплаченным, ни отклонённым.
func IntentOutcome(status string) domain.ProcessorOutcome {
	switch status {
	case "succeeded":
		return domain.ProcessorOutcomeSucceeded
	case "requires_payment_method", "canceled":
		return domain.ProcessorOutcomeFailed
	default:
		return domain.ProcessorOutcomeRequiresAction
	}
}

// SessionOutcome нормализует payment_status checkout session.
func SessionOutcome(paymentStatus string) domain.ProcessorOutcome {
	switch paymentStatus {
	case "paid", "no_payment_required":
		return domain.ProcessorOutcomeSucceeded
	default:
		return domain.ProcessorOutcomeFailed
	}
}
