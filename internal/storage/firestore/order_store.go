package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

type customerDoc struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Email     string `firestore:"email"`
	Phone     string `firestore:"phone"`
}

type shippingDoc struct {
	Address       string `firestore:"address"`
	City          string `firestore:"city"`
	PostalCode    string `firestore:"postalCode"`
	Country       string `firestore:"country"`
	Method        string `firestore:"method"`
	PriceMinor    int64  `firestore:"priceMinor"`
	EstimatedDays int32  `firestore:"estimatedDays"`
}

type paymentDetailsDoc struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	TransactionID string     `firestore:"transactionId"`
	AmountMinor   int64      `firestore:"amountMinor"`
	Currency      string     `firestore:"currency"`
	PaymentDate   *time.Time `firestore:"paymentDate"`
	LastError     string     `firestore:"lastError"`
	LastAction    string     `firestore:"lastAction"`
}

type itemDoc struct {
	ProductID      string `firestore:"id"`
	Name           string `firestore:"name"`
	Manufacturer   string `firestore:"manufacturer"`
	UnitPriceMinor int64  `firestore:"priceMinor"`
	Quantity       int32  `firestore:"quantity"`
	LineTotalMinor int64  `firestore:"totalPriceMinor"`
}

// orderDoc - документ коллекции orders. Идентификатор заказа совпадает с ID документа.
type orderDoc struct {
	OrderNumber     string            `firestore:"orderNumber"`
	UserID          string            `firestore:"userId"`
	Customer        customerDoc       `firestore:"customer"`
	Status          string            `firestore:"status"`
	PaymentDetails  paymentDetailsDoc `firestore:"paymentDetails"`
	Items           []itemDoc         `firestore:"items"`
	ShippingDetails shippingDoc       `firestore:"shippingDetails"`

	SubtotalMinor       int64  `firestore:"subtotalMinor"`
	ShippingCostMinor   int64  `firestore:"shippingCostMinor"`
	DiscountAmountMinor int64  `firestore:"discountAmountMinor"`
	TaxAmountMinor      int64  `firestore:"taxAmountMinor"`
	TotalAmountMinor    int64  `firestore:"totalAmountMinor"`
	PromoCode           string `firestore:"promoCode"`

	CheckoutSessionID  string     `firestore:"checkoutSessionId"`
	AmountPaidMinor    int64      `firestore:"amountPaidMinor"`
	PaymentMethod      string     `firestore:"paymentMethod"`
	PaymentCompletedAt *time.Time `firestore:"paymentCompletedAt"`
	ReminderSentAt     *time.Time `firestore:"reminderSentAt"`

	TrackingNumber        string     `firestore:"trackingNumber"`
	Notes                 string     `firestore:"notes"`
	EstimatedDeliveryDate *time.Time `firestore:"estimatedDeliveryDate"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderStore struct {
	client *firestore.Client
	now    func() time.Time
}

// NewOrderStore создаёт Firestore-реализацию OrderStore.
func NewOrderStore(c *Client) domain.OrderStore {
	return &orderStore{
		client: c.Firestore(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *orderStore) orders() *firestore.CollectionRef {
	return s.client.Collection(ordersCollection)
}

// Create атомарно резервирует номер заказа в orderNumbers и записывает документ заказа.
func (s *orderStore) Create(order domain.Order) error {
	if order.ID == "" {
		return domain.ErrOrderIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	orderRef := s.orders().Doc(order.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(orderRef); err == nil {
			return domain.ErrOrderAlreadyExists
		} else if !isNotFound(err) {
			return err
		}

		var numberRef *firestore.DocumentRef
		if order.OrderNumber != "" {
			numberRef = s.client.Collection(orderNumbersCollection).Doc(order.OrderNumber)
			if _, err := tx.Get(numberRef); err == nil {
				return domain.ErrOrderNumberTaken
			} else if !isNotFound(err) {
				return err
			}
		}

		if err := tx.Create(orderRef, toOrderDoc(order)); err != nil {
			return err
		}
		if numberRef != nil {
			return tx.Create(numberRef, map[string]interface{}{
				"orderId":   order.ID,
				"createdAt": order.CreatedAt.UTC(),
			})
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		if isAlreadyExists(err) {
			return domain.ErrOrderAlreadyExists
		}
		return unavailable("create order", err)
	}
	return nil
}

func (s *orderStore) Get(id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	snap, err := s.orders().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("get order", err)
	}
	return decodeOrder(snap)
}

// ListByUser требует составного индекса (userId, createdAt desc).
func (s *orderStore) ListByUser(userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	q := s.orders().
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	it := q.Documents(ctx)
	defer it.Stop()

	result := make([]domain.Order, 0)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, unavailable("list orders", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, nil
}

// ApplyPaymentTransition выполняется в транзакции: завершённый платёж, прочитанный
// внутри транзакции, не перезаписывается конкурирующим подтверждением.
func (s *orderStore) ApplyPaymentTransition(id string, transition domain.PaymentTransition) (domain.Order, error) {
	if err := transition.Validate(); err != nil {
		return domain.Order{}, err
	}
	return s.mutate(id, "apply payment transition", func(order *domain.Order) ([]firestore.Update, error) {
		if err := domain.ApplyPaymentTransition(order, transition, s.now()); err != nil {
			return nil, err
		}
		return paymentUpdates(*order), nil
	})
}

func (s *orderStore) ApplyFulfillmentEdit(id string, edit domain.FulfillmentEdit) (domain.Order, error) {
	if edit.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyFulfillmentEdit
	}
	return s.mutate(id, "apply fulfillment edit", func(order *domain.Order) ([]firestore.Update, error) {
		if err := domain.ApplyFulfillmentEdit(order, edit, s.now()); err != nil {
			return nil, err
		}
		return []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "trackingNumber", Value: order.TrackingNumber},
			{Path: "notes", Value: order.Notes},
			{Path: "estimatedDeliveryDate", Value: order.EstimatedDeliveryDate},
			{Path: "updatedAt", Value: order.UpdatedAt},
		}, nil
	})
}

// Delete удаляет только документ заказа; резерв номера остаётся.
func (s *orderStore) Delete(id string) error {
	if id == "" {
		return domain.ErrOrderNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.orders().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return domain.ErrOrderNotFound
		}
		return unavailable("delete order", err)
	}
	return nil
}

func (s *orderStore) mutate(id, op string, apply func(order *domain.Order) ([]firestore.Update, error)) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ref := s.orders().Doc(id)
	var result domain.Order
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return domain.ErrOrderNotFound
			}
			return err
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		updates, err := apply(&order)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, unavailable(op, err)
	}
	return result, nil
}

func paymentUpdates(order domain.Order) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "paymentDetails", Value: toPaymentDetailsDoc(order.PaymentDetails)},
		{Path: "checkoutSessionId", Value: order.CheckoutSessionID},
		{Path: "amountPaidMinor", Value: order.AmountPaidMinor},
		{Path: "paymentMethod", Value: order.PaymentMethod},
		{Path: "paymentCompletedAt", Value: order.PaymentCompletedAt},
		{Path: "reminderSentAt", Value: order.ReminderSentAt},
		{Path: "updatedAt", Value: order.UpdatedAt},
	}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, unavailable("decode order "+snap.Ref.ID, err)
	}
	return fromOrderDoc(snap.Ref.ID, doc), nil
}

func toPaymentDetailsDoc(pd domain.PaymentDetails) paymentDetailsDoc {
	return paymentDetailsDoc{
		Method:        pd.Method,
		Status:        string(pd.Status),
		TransactionID: pd.TransactionID,
		AmountMinor:   pd.AmountMinor,
		Currency:      pd.Currency,
		PaymentDate:   utcPtr(pd.PaymentDate),
		LastError:     pd.LastError,
		LastAction:    pd.LastAction,
	}
}

func toOrderDoc(o domain.Order) orderDoc {
	items := make([]itemDoc, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, itemDoc{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Manufacturer:   item.Manufacturer,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
			LineTotalMinor: item.LineTotalMinor,
		})
	}
	return orderDoc{
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Customer: customerDoc{
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
			Phone:     o.Customer.Phone,
		},
		Status:         string(o.Status),
		PaymentDetails: toPaymentDetailsDoc(o.PaymentDetails),
		Items:          items,
		ShippingDetails: shippingDoc{
			Address:       o.ShippingDetails.Address,
			City:          o.ShippingDetails.City,
			PostalCode:    o.ShippingDetails.PostalCode,
			Country:       o.ShippingDetails.Country,
			Method:        o.ShippingDetails.Method,
			PriceMinor:    o.ShippingDetails.PriceMinor,
			EstimatedDays: o.ShippingDetails.EstimatedDays,
		},
		SubtotalMinor:         o.SubtotalMinor,
		ShippingCostMinor:     o.ShippingCostMinor,
		DiscountAmountMinor:   o.DiscountAmountMinor,
		TaxAmountMinor:        o.TaxAmountMinor,
		TotalAmountMinor:      o.TotalAmountMinor,
		PromoCode:             o.PromoCode,
		CheckoutSessionID:     o.CheckoutSessionID,
		AmountPaidMinor:       o.AmountPaidMinor,
		PaymentMethod:         o.PaymentMethod,
		PaymentCompletedAt:    utcPtr(o.PaymentCompletedAt),
		ReminderSentAt:        utcPtr(o.ReminderSentAt),
		TrackingNumber:        o.TrackingNumber,
		Notes:                 o.Notes,
		EstimatedDeliveryDate: utcPtr(o.EstimatedDeliveryDate),
		CreatedAt:             o.CreatedAt.UTC(),
		UpdatedAt:             o.UpdatedAt.UTC(),
	}
}

func fromOrderDoc(id string, d orderDoc) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Manufacturer:   item.Manufacturer,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
			LineTotalMinor: item.LineTotalMinor,
		})
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Customer: domain.Customer{
			FirstName: d.Customer.FirstName,
			LastName:  d.Customer.LastName,
			Email:     d.Customer.Email,
			Phone:     d.Customer.Phone,
		},
		Status: domain.OrderStatus(d.Status),
		PaymentDetails: domain.PaymentDetails{
			Method:        d.PaymentDetails.Method,
			Status:        domain.PaymentStatus(d.PaymentDetails.Status),
			TransactionID: d.PaymentDetails.TransactionID,
			AmountMinor:   d.PaymentDetails.AmountMinor,
			Currency:      d.PaymentDetails.Currency,
			PaymentDate:   utcPtr(d.PaymentDetails.PaymentDate),
			LastError:     d.PaymentDetails.LastError,
			LastAction:    d.PaymentDetails.LastAction,
		},
		Items: items,
		ShippingDetails: domain.ShippingDetails{
			Address:       d.ShippingDetails.Address,
			City:          d.ShippingDetails.City,
			PostalCode:    d.ShippingDetails.PostalCode,
			Country:       d.ShippingDetails.Country,
			Method:        d.ShippingDetails.Method,
			PriceMinor:    d.ShippingDetails.PriceMinor,
			EstimatedDays: d.ShippingDetails.EstimatedDays,
		},
		SubtotalMinor:         d.SubtotalMinor,
		ShippingCostMinor:     d.ShippingCostMinor,
		DiscountAmountMinor:   d.DiscountAmountMinor,
		TaxAmountMinor:        d.TaxAmountMinor,
		TotalAmountMinor:      d.TotalAmountMinor,
		PromoCode:             d.PromoCode,
		CheckoutSessionID:     d.CheckoutSessionID,
		AmountPaidMinor:       d.AmountPaidMinor,
		PaymentMethod:         d.PaymentMethod,
		PaymentCompletedAt:    utcPtr(d.PaymentCompletedAt),
		ReminderSentAt:        utcPtr(d.ReminderSentAt),
		TrackingNumber:        d.TrackingNumber,
		Notes:                 d.Notes,
		EstimatedDeliveryDate: utcPtr(d.EstimatedDeliveryDate),
		CreatedAt:             d.CreatedAt.UTC(),
		UpdatedAt:             d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ domain.OrderStore = (*orderStore)(nil)
