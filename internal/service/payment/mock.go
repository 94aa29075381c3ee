package payment

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
)

// MockGateway - конфигурируемая in-memory замена платёжного провайдера.
// Используется в тестах и при PAYRECON_PAYMENT_DRIVER=mock.
type MockGateway struct {
	mu       sync.Mutex
	intents  map[string]domain.IntentSnapshot
	sessions map[string]domain.CheckoutSessionSnapshot

	// RetrieveErr возвращается из Retrieve*, пока FailRetrieves > 0 (0 и RetrieveErr != nil - всегда).
	RetrieveErr   error
	FailRetrieves int
	CreateErr     error

	IntentCalls   int
	SessionCalls  int
	RetrieveCalls int
}

// NewMockGateway создаёт пустой mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		intents:  make(map[string]domain.IntentSnapshot),
		sessions: make(map[string]domain.CheckoutSessionSnapshot),
	}
}

// PutIntent задаёт состояние intent у «провайдера». Outcome вычисляется по статусу, если не задан.
func (m *MockGateway) PutIntent(snap domain.IntentSnapshot) {
	if snap.Outcome == "" {
		snap.Outcome = IntentOutcome(snap.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[snap.ID] = snap
}

// PutCheckoutSession задаёт состояние checkout session.
func (m *MockGateway) PutCheckoutSession(snap domain.CheckoutSessionSnapshot) {
	if snap.Outcome == "" {
		snap.Outcome = SessionOutcome(snap.PaymentStatus)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[snap.ID] = snap
}

// CreateIntent создаёт intent в статусе requires_payment_method.
func (m *MockGateway) CreateIntent(req domain.IntentRequest) (domain.IntentHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IntentCalls++
	if m.CreateErr != nil {
		return domain.IntentHandle{}, m.CreateErr
	}

	id := "pi_" + compactID()
	m.intents[id] = domain.IntentSnapshot{
		ID:          id,
		Status:      "requires_payment_method",
		Outcome:     domain.ProcessorOutcomeFailed,
		AmountMinor: req.AmountMinor,
		Currency:    strings.ToLower(req.Currency),
		OrderID:     req.OrderID,
		Created:     time.Now().UTC(),
	}
	return domain.IntentHandle{IntentID: id, ClientSecret: id + "_secret_" + compactID()[:8]}, nil
}

// RetrieveIntent возвращает сохранённый intent.
func (m *MockGateway) RetrieveIntent(intentID string) (domain.IntentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.retrieveFailure(); err != nil {
		return domain.IntentSnapshot{}, err
	}
	snap, ok := m.intents[intentID]
	if !ok {
		return domain.IntentSnapshot{}, domain.ErrPaymentReferenceNotFound
	}
	return snap, nil
}

// RetrieveCheckoutSession возвращает сохранённую session.
func (m *MockGateway) RetrieveCheckoutSession(sessionID string) (domain.CheckoutSessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.retrieveFailure(); err != nil {
		return domain.CheckoutSessionSnapshot{}, err
	}
	snap, ok := m.sessions[sessionID]
	if !ok {
		return domain.CheckoutSessionSnapshot{}, domain.ErrPaymentReferenceNotFound
	}
	return snap, nil
}

// CreateCheckoutSession выпускает неоплаченную session.
func (m *MockGateway) CreateCheckoutSession(req domain.CheckoutSessionRequest) (domain.CheckoutSessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionCalls++
	if m.CreateErr != nil {
		return domain.CheckoutSessionHandle{}, m.CreateErr
	}

	var total int64
	for _, item := range req.Items {
		total += item.LineTotalMinor
	}
	id := "cs_" + compactID()
	m.sessions[id] = domain.CheckoutSessionSnapshot{
		ID:               id,
		PaymentStatus:    "unpaid",
		Outcome:          domain.ProcessorOutcomeFailed,
		AmountTotalMinor: total + req.ExtraMinor,
		Currency:         strings.ToLower(req.Currency),
		OrderID:          req.OrderID,
		Created:          time.Now().UTC(),
	}
	return domain.CheckoutSessionHandle{SessionID: id, URL: "https://checkout.invalid/pay/" + id}, nil
}

func (m *MockGateway) retrieveFailure() error {
	m.RetrieveCalls++
	if m.RetrieveErr == nil {
		return nil
	}
	if m.FailRetrieves == 0 {
		return m.RetrieveErr
	}
	m.FailRetrieves--
	if m.FailRetrieves == 0 {
		err := m.RetrieveErr
		m.RetrieveErr = nil
		return err
	}
	return m.RetrieveErr
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var (
	_ domain.PaymentGateway    = (*MockGateway)(nil)
	_ domain.PaymentLinkIssuer = (*MockGateway)(nil)
)
