package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/inventory"
	"github.com/vladislavdragonenkov/payrecon/internal/service/timeline"
)

const maxOrderNumberAttempts = 5

// Dependencies - коллабораторы checkout-сервиса.
type Dependencies struct {
	Orders   domain.OrderStore
	Checker  *inventory.Checker
	Gateway  domain.PaymentGateway
	Links    domain.PaymentLinkIssuer
	Notifier domain.Notifier
	Events   *timeline.Recorder
	Timeline domain.TimelineRepository
	Policy   auth.Policy
	// PublicBaseURL - адрес витрины для ссылок success/cancel.
	PublicBaseURL string
}

// Service обслуживает оформление заказа и операции вокруг оплаты, не относящиеся к сверке.
type Service struct {
	orders   domain.OrderStore
	checker  *inventory.Checker
	gateway  domain.PaymentGateway
	links    domain.PaymentLinkIssuer
	notifier domain.Notifier
	events   *timeline.Recorder
	timeline domain.TimelineRepository
	policy   auth.Policy
	baseURL  string

	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики уведомлений.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов (тесты коллизий номеров).
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService создаёт checkout-сервис.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		orders:   deps.Orders,
		checker:  deps.Checker,
		gateway:  deps.Gateway,
		links:    deps.Links,
		notifier: deps.Notifier,
		events:   deps.Events,
		timeline: deps.Timeline,
		policy:   deps.Policy,
		baseURL:  strings.TrimRight(deps.PublicBaseURL, "/"),
		logger:   log.New().WithField("component", "checkout"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemInput - позиция корзины при оформлении.
type ItemInput struct {
	ProductID      string
	Name           string
	Manufacturer   string
	UnitPriceMinor int64
	Quantity       int32
}

// CreateOrderRequest - данные оформления заказа.
type CreateOrderRequest struct {
	Customer            domain.Customer
	Items               []ItemInput
	Shipping            domain.ShippingDetails
	Currency            string
	PaymentMethod       string
	DiscountAmountMinor int64
	TaxAmountMinor      int64
	PromoCode           string
}

// CreateOrder проверяет наличие, замораживает котировку и сохраняет заказ в статусе pending.
// Остатки не списываются: это происходит при первом подтверждении оплаты.
func (s *Service) CreateOrder(principal auth.Principal, req CreateOrderRequest) (domain.Order, error) {
	if !principal.Authenticated() {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if len(req.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	quantities := make([]domain.ItemQuantity, 0, len(req.Items))
	var subtotal int64
	for _, in := range req.Items {
		line := domain.OrderItem{
			ProductID:      in.ProductID,
			Name:           in.Name,
			Manufacturer:   in.Manufacturer,
			UnitPriceMinor: in.UnitPriceMinor,
			Quantity:       in.Quantity,
			LineTotalMinor: in.UnitPriceMinor * int64(in.Quantity),
		}
		items = append(items, line)
		quantities = append(quantities, domain.ItemQuantity{ProductID: in.ProductID, Quantity: in.Quantity})
		subtotal += line.LineTotalMinor
	}

	if s.checker != nil {
		if err := s.checker.RequireAvailable(quantities); err != nil {
			return domain.Order{}, err
		}
	}

	now := s.now()
	shipping := req.Shipping.PriceMinor
	customer := req.Customer
	if customer.Email == "" {
		customer.Email = principal.Email
	}

	order := domain.Order{
		ID:       s.newID(),
		UserID:   principal.UID,
		Customer: customer,
		Status:   domain.OrderStatusPending,
		PaymentDetails: domain.PaymentDetails{
			Method:   req.PaymentMethod,
			Status:   domain.PaymentStatusPending,
			Currency: strings.ToLower(req.Currency),
		},
		Items:               items,
		ShippingDetails:     req.Shipping,
		SubtotalMinor:       subtotal,
		ShippingCostMinor:   shipping,
		DiscountAmountMinor: req.DiscountAmountMinor,
		TaxAmountMinor:      req.TaxAmountMinor,
		TotalAmountMinor:    domain.ComputeTotal(subtotal, req.DiscountAmountMinor, shipping, req.TaxAmountMinor),
		PromoCode:           req.PromoCode,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	order.PaymentDetails.AmountMinor = order.TotalAmountMinor

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	var err error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = domain.FormatOrderNumber(now, s.newID())
		err = s.orders.Create(order)
		if !errors.Is(err, domain.ErrOrderNumberTaken) {
			break
		}
		s.logger.WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"attempt":      attempt,
		}).Warn("order number collision, regenerating")
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.events.Emit(order.ID, domain.EventOrderCreated, map[string]interface{}{
		"order_number": order.OrderNumber,
		"user_id":      order.UserID,
		"total_amount": order.TotalAmountMinor,
		"currency":     order.PaymentDetails.Currency,
		"items":        len(order.Items),
	})
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.TotalAmountMinor,
	}).Info("order created")
	return order, nil
}

// GetOrder возвращает заказ владельцу или администратору.
func (s *Service) GetOrder(principal auth.Principal, orderID string) (domain.Order, error) {
	if !principal.Authenticated() {
		return domain.Order{}, domain.ErrUnauthorized
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != principal.UID && !auth.IsAdmin(s.policy, principal) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы вызывающего.
func (s *Service) ListOrders(principal auth.Principal, limit int) ([]domain.Order, error) {
	if !principal.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	return s.orders.ListByUser(principal.UID, limit)
}

// CreatePaymentIntent создаёт intent для оплаты заказа владельцем.
func (s *Service) CreatePaymentIntent(principal auth.Principal, orderID string) (domain.IntentHandle, error) {
	order, err := s.GetOrder(principal, orderID)
	if err != nil {
		return domain.IntentHandle{}, err
	}
	if order.PaymentCompleted() {
		return domain.IntentHandle{}, domain.ErrPaymentAlreadyCompleted
	}

	handle, err := s.gateway.CreateIntent(domain.IntentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		AmountMinor: order.TotalAmountMinor,
		Currency:    order.PaymentDetails.Currency,
	})
	if err != nil {
		return domain.IntentHandle{}, err
	}

	if _, err := s.orders.ApplyPaymentTransition(order.ID, domain.PaymentIntentAttached{IntentID: handle.IntentID}); err != nil {
		return domain.IntentHandle{}, err
	}
	s.events.Emit(order.ID, domain.EventPaymentIntentAttached, map[string]interface{}{
		"intent_id": handle.IntentID,
		"amount":    order.TotalAmountMinor,
	})
	return handle, nil
}

// SendPaymentReminder выпускает ссылку на оплату и отправляет напоминание покупателю.
func (s *Service) SendPaymentReminder(principal auth.Principal, orderID string) (domain.CheckoutSessionHandle, error) {
	if err := s.authorize(principal, auth.ActionPaymentReminder); err != nil {
		return domain.CheckoutSessionHandle{}, err
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.CheckoutSessionHandle{}, err
	}
	if order.PaymentCompleted() {
		return domain.CheckoutSessionHandle{}, domain.ErrPaymentAlreadyCompleted
	}
	if order.Customer.Email == "" {
		return domain.CheckoutSessionHandle{}, domain.ErrCustomerEmailRequired
	}

	handle, err := s.links.CreateCheckoutSession(domain.CheckoutSessionRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Currency:      order.PaymentDetails.Currency,
		Items:         order.Items,
		ExtraMinor:    order.TotalAmountMinor - order.SubtotalMinor,
		SuccessURL:    fmt.Sprintf("%s/checkout/success?orderId=%s", s.baseURL, order.ID),
		CancelURL:     fmt.Sprintf("%s/account/orders/%s", s.baseURL, order.ID),
	})
	if err != nil {
		return domain.CheckoutSessionHandle{}, err
	}

	sentAt := s.now()
	if _, err := s.orders.ApplyPaymentTransition(order.ID, domain.CheckoutSessionAttached{
		SessionID:      handle.SessionID,
		ReminderSentAt: sentAt,
	}); err != nil {
		return domain.CheckoutSessionHandle{}, err
	}

	if s.notifier != nil {
		err := s.notifier.SendPaymentReminder(domain.PaymentReminder{
			To:           order.Customer.Email,
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			CustomerName: order.Customer.FullName(),
			TotalMinor:   order.TotalAmountMinor,
			Currency:     order.PaymentDetails.Currency,
			PaymentURL:   handle.URL,
		})
		s.metrics.RecordNotification("payment_reminder", err)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("payment reminder notification failed")
		}
	}

	s.events.Emit(order.ID, domain.EventPaymentReminderSent, map[string]interface{}{
		"checkout_session_id": handle.SessionID,
		"sent_by":             principal.UID,
		"reason":              "payment reminder sent by " + principal.UID,
	})
	return handle, nil
}

// EditFulfillment применяет ручную правку администратора с проверкой автомата исполнения.
func (s *Service) EditFulfillment(principal auth.Principal, orderID string, edit domain.FulfillmentEdit) (domain.Order, error) {
	if err := s.authorize(principal, auth.ActionFulfillmentEdit); err != nil {
		return domain.Order{}, err
	}
	if edit.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyFulfillmentEdit
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if edit.Status != nil && !domain.CanAdminTransitionFulfillment(order.Status, *edit.Status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidFulfillmentTransition, order.Status, *edit.Status)
	}

	updated, err := s.orders.ApplyFulfillmentEdit(orderID, edit)
	if err != nil {
		return domain.Order{}, err
	}
	s.events.Emit(orderID, domain.EventFulfillmentUpdated, map[string]interface{}{
		"from_status":     order.Status,
		"status":          updated.Status,
		"tracking_number": updated.TrackingNumber,
		"edited_by":       principal.UID,
		"reason":          fmt.Sprintf("%s -> %s", order.Status, updated.Status),
	})
	return updated, nil
}

// Timeline возвращает события заказа для администратора.
func (s *Service) Timeline(principal auth.Principal, orderID string) ([]domain.TimelineEvent, error) {
	if err := s.authorize(principal, auth.ActionTimelineRead); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// DeleteOrder удаляет заказ по явной команде администратора.
func (s *Service) DeleteOrder(principal auth.Principal, orderID string) error {
	if err := s.authorize(principal, auth.ActionOrderDelete); err != nil {
		return err
	}
	if err := s.orders.Delete(orderID); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "admin": principal.UID}).Warn("order deleted")
	return nil
}

func (s *Service) authorize(principal auth.Principal, action auth.Action) error {
	if !principal.Authenticated() {
		return domain.ErrUnauthorized
	}
	if s.policy == nil || !s.policy.Allow(principal, action) {
		return domain.ErrForbidden
	}
	return nil
}
