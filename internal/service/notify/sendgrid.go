package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

const sendGridSendPath = "/v3/mail/send"

// SendGridConfig описывает отправителя писем.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host переопределяет адрес API (тесты).
	Host string
}

// SendGridNotifier отправляет письма покупателям через SendGrid.
type SendGridNotifier struct {
	cfg    SendGridConfig
	logger *log.Entry
}

// NewSendGridNotifier создаёт отправителя.
func NewSendGridNotifier(cfg SendGridConfig, logger *log.Entry) (*SendGridNotifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is empty")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("from address is empty")
	}
	if cfg.FromName == "" {
		cfg.FromName = "Moto Store"
	}
	if logger == nil {
		logger = log.New().WithField("component", "sendgrid")
	}
	return &SendGridNotifier{cfg: cfg, logger: logger}, nil
}

// SendOrderConfirmation отправляет письмо о подтверждённой оплате.
func (n *SendGridNotifier) SendOrderConfirmation(msg domain.OrderConfirmation) error {
	rendered, err := renderConfirmation(msg)
	if err != nil {
		return err
	}
	return n.send(rendered)
}

// SendPaymentReminder отправляет письмо со ссылкой на оплату.
func (n *SendGridNotifier) SendPaymentReminder(msg domain.PaymentReminder) error {
	rendered, err := renderReminder(msg)
	if err != nil {
		return err
	}
	return n.send(rendered)
}

func (n *SendGridNotifier) send(msg Message) error {
	if msg.To == "" {
		return errors.New("to address is empty")
	}

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromEmail)
	to := mail.NewEmail(msg.Name, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	client := sendgrid.NewSendClient(n.cfg.APIKey)
	if n.cfg.Host != "" {
		client.Request.BaseURL = strings.TrimRight(n.cfg.Host, "/") + sendGridSendPath
	}

	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		n.logger.WithFields(log.Fields{
			"status": response.StatusCode,
			"body":   response.Body,
		}).Error("sendgrid rejected message")
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}

	n.logger.WithFields(log.Fields{
		"status":  response.StatusCode,
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("mail sent")
	return nil
}

var _ domain.Notifier = (*SendGridNotifier)(nil)
