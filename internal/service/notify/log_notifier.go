package notify

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// LogNotifier только пишет письма в лог. Используется, когда SendGrid не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notify")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOrderConfirmation(msg domain.OrderConfirmation) error {
	n.logger.WithFields(log.Fields{
		"to":           msg.To,
		"order_id":     msg.OrderID,
		"order_number": msg.OrderNumber,
		"total":        FormatMoney(msg.TotalMinor, msg.Currency),
	}).Info("order confirmation (not sent, notifier disabled)")
	return nil
}

func (n *LogNotifier) SendPaymentReminder(msg domain.PaymentReminder) error {
	n.logger.WithFields(log.Fields{
		"to":           msg.To,
		"order_id":     msg.OrderID,
		"order_number": msg.OrderNumber,
		"payment_url":  msg.PaymentURL,
	}).Info("payment reminder (not sent, notifier disabled)")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
