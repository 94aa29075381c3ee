package domain

import "time"

// OrderConfirmation - письмо о подтверждённой оплате.
type OrderConfirmation struct {
	To            string
	OrderID       string
	OrderNumber   string
	CustomerName  string
	TotalMinor    int64
	Currency      string
	PaymentMethod string
	PaidAt        time.Time
}

// PaymentReminder - письмо со ссылкой на оплату неоплаченного заказа.
type PaymentReminder struct {
	To           string
	OrderID      string
	OrderNumber  string
	CustomerName string
	TotalMinor   int64
	Currency     string
	PaymentURL   string
}
