package checkout

import "github.com/vladislavdragonenkov/payrecon/internal/domain"

// PaymentView - ответ покупателю о состоянии оплаты. Технические детали не раскрываются.
type PaymentView struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// CustomerPaymentView строит сообщение по статусу платежа заказа.
func CustomerPaymentView(order domain.Order) PaymentView {
	return PaymentView{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.PaymentDetails.Status),
		Message:     PaymentMessage(order.PaymentDetails.Status),
	}
}

// PaymentMessage возвращает текст для покупателя.
func PaymentMessage(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusCompleted:
		return "completed"
	case domain.PaymentStatusFailed:
		return "payment failed, please retry"
	case domain.PaymentStatusProcessing:
		return "processing"
	default:
		return "awaiting payment"
	}
}
