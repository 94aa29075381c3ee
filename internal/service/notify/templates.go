package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Thank you for your order{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
  <p>We have received your payment for order <strong>{{.OrderNumber}}</strong>.</p>
  <table cellpadding="4">
    <tr><td>Total paid</td><td><strong>{{.Total}}</strong></td></tr>
    {{if .PaymentMethod}}<tr><td>Payment method</td><td>{{.PaymentMethod}}</td></tr>{{end}}
    <tr><td>Paid at</td><td>{{.PaidAt}}</td></tr>
  </table>
  <p>We will let you know as soon as your motorcycle ships.</p>
</body>
</html>`))

var reminderHTML = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Your order is waiting{{if .CustomerName}}, {{.CustomerName}}{{end}}</h2>
  <p>Order <strong>{{.OrderNumber}}</strong> for <strong>{{.Total}}</strong> has not been paid yet.</p>
  <p><a href="{{.PaymentURL}}" style="background:#d32f2f;color:#fff;padding:10px 16px;text-decoration:none;">Complete payment</a></p>
  <p>If you have already paid, please ignore this email.</p>
</body>
</html>`))

type confirmationView struct {
	CustomerName  string
	OrderNumber   string
	Total         string
	PaymentMethod string
	PaidAt        string
}

type reminderView struct {
	CustomerName string
	OrderNumber  string
	Total        string
	PaymentURL   string
}

// Message - готовое к отправке письмо.
type Message struct {
	To      string
	Name    string
	Subject string
	Text    string
	HTML    string
}

func renderConfirmation(msg domain.OrderConfirmation) (Message, error) {
	view := confirmationView{
		CustomerName:  msg.CustomerName,
		OrderNumber:   msg.OrderNumber,
		Total:         FormatMoney(msg.TotalMinor, msg.Currency),
		PaymentMethod: msg.PaymentMethod,
		PaidAt:        msg.PaidAt.UTC().Format("2006-01-02 15:04 MST"),
	}
	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Message{
		To:      msg.To,
		Name:    msg.CustomerName,
		Subject: fmt.Sprintf("Order confirmation %s", msg.OrderNumber),
		Text: fmt.Sprintf("Thank you for your order %s. We received your payment of %s.",
			msg.OrderNumber, view.Total),
		HTML: html.String(),
	}, nil
}

func renderReminder(msg domain.PaymentReminder) (Message, error) {
	view := reminderView{
		CustomerName: msg.CustomerName,
		OrderNumber:  msg.OrderNumber,
		Total:        FormatMoney(msg.TotalMinor, msg.Currency),
		PaymentURL:   msg.PaymentURL,
	}
	var html bytes.Buffer
	if err := reminderHTML.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render reminder: %w", err)
	}
	return Message{
		To:      msg.To,
		Name:    msg.CustomerName,
		Subject: fmt.Sprintf("Payment reminder for order %s", msg.OrderNumber),
		Text: fmt.Sprintf("Order %s for %s is awaiting payment. Complete it here: %s",
			msg.OrderNumber, view.Total, msg.PaymentURL),
		HTML: html.String(),
	}, nil
}

// FormatMoney печатает сумму в минимальных единицах как "7.75 USD".
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
