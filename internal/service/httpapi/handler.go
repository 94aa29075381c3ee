package httpapi

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
	"github.com/vladislavdragonenkov/payrecon/internal/service/inventory"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
)

const (
	maxBodyBytes          = 1 << 20
	defaultIdempotencyTTL = 72 * time.Hour
)

// WebhookVerifier проверяет подпись и разбирает событие провайдера.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (domain.ProcessorEvent, error)
}

// Dependencies - сервисы, которые обслуживает HTTP API.
type Dependencies struct {
	Engine      *reconcile.Engine
	Checkout    *checkout.Service
	Checker     *inventory.Checker
	Webhooks    WebhookVerifier
	Tokens      auth.TokenVerifier
	Idempotency domain.IdempotencyRepository
	// IdempotencyTTL - срок хранения ключа webhook-события.
	IdempotencyTTL time.Duration
	Metrics        *metrics.HTTPMetrics
	Logger         *log.Entry
}

// Handler - HTTP API сервиса.
type Handler struct {
	engine   *reconcile.Engine
	checkout *checkout.Service
	checker  *inventory.Checker
	webhooks WebhookVerifier
	tokens   auth.TokenVerifier
	idem     domain.IdempotencyRepository
	idemTTL  time.Duration
	metrics  *metrics.HTTPMetrics
	logger   *log.Entry
	now      func() time.Time
}

// New создаёт HTTP API.
func New(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &Handler{
		engine:   deps.Engine,
		checkout: deps.Checkout,
		checker:  deps.Checker,
		webhooks: deps.Webhooks,
		tokens:   deps.Tokens,
		idem:     deps.Idempotency,
		idemTTL:  ttl,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes возвращает маршрутизатор со всеми эндпоинтами API.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	h.handle(mux, "POST /api/webhooks/stripe", h.handleStripeWebhook)
	h.handle(mux, "POST /api/payments/confirm", h.handleConfirmPayment)
	h.handle(mux, "POST /api/payments/intents", h.handleCreateIntent)
	h.handle(mux, "GET /api/inventory/check", h.handleInventoryCheck)

	h.handle(mux, "POST /api/orders", h.handleCreateOrder)
	h.handle(mux, "GET /api/orders", h.handleListOrders)
	h.handle(mux, "GET /api/orders/{id}", h.handleGetOrder)

	h.handle(mux, "POST /api/admin/payments/retry", h.handleAdminRetry)
	h.handle(mux, "GET /api/admin/dead-letters", h.handleListDeadLetters)
	h.handle(mux, "PATCH /api/admin/orders/{id}", h.handleEditFulfillment)
	h.handle(mux, "DELETE /api/admin/orders/{id}", h.handleDeleteOrder)
	h.handle(mux, "POST /api/admin/orders/{id}/payment-reminder", h.handlePaymentReminder)
	h.handle(mux, "GET /api/admin/orders/{id}/timeline", h.handleTimeline)

	return h.recoverer(mux)
}

func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.instrument(pattern, h.authenticate(fn)))
}

// authenticate кладёт личность в контекст, если передан Bearer-токен.
// Неверный токен сразу даёт 401; отсутствие токена решают сами обработчики.
func (h *Handler) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || h.tokens == nil {
			next(w, r)
			return
		}
		token, ok := auth.BearerToken(header)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		principal, err := h.tokens.Verify(r.Context(), token)
		if err != nil {
			h.logger.WithError(err).WithField("path", r.URL.Path).Debug("token verification failed")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		h.metrics.Observe(route, rec.status, elapsed)
		h.logger.WithFields(log.Fields{
			"route":       route,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("http request")
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.WithFields(log.Fields{
					"panic": rec,
					"path":  r.URL.Path,
				}).Error("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// principal возвращает личность из контекста; без токена - пустую.
// Сервисы сами отвечают ErrUnauthorized для неаутентифицированных вызовов.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
