package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/auth"
	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/checkout"
	"github.com/vladislavdragonenkov/payrecon/internal/service/httpapi"
	"github.com/vladislavdragonenkov/payrecon/internal/service/inventory"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
	"github.com/vladislavdragonenkov/payrecon/internal/service/timeline"
)

// integrations - внешние клиенты, выбранные конфигурацией.
type integrations struct {
	provider paymentProvider
	webhooks httpapi.WebhookVerifier
	tokens   auth.TokenVerifier
	notifier domain.Notifier
}

// services - собранный граф сервисов поверх хранилищ.
type services struct {
	engine   *reconcile.Engine
	checkout *checkout.Service
	checker  *inventory.Checker
	api      *httpapi.Handler
}

// buildServices связывает движок сверки, checkout и HTTP API.
func buildServices(
	cfg Config,
	deps *runtimeDependencies,
	ext integrations,
	reconcileMetrics *metrics.ReconcileMetrics,
	logger *log.Entry,
) *services {
	policy := auth.NewAllowListPolicy(cfg.AdminUIDs)
	recorder := timeline.NewRecorder(deps.outboxRepo, deps.timelineRepo, reconcileMetrics, logger.WithField("component", "timeline"))
	checker := inventory.NewChecker(deps.inventory)

	engine := reconcile.NewEngine(reconcile.Dependencies{
		Orders:    deps.orders,
		Gateway:   ext.provider,
		Inventory: inventory.NewAdjuster(deps.inventory, reconcileMetrics, logger.WithField("component", "inventory")),
		Ledger:    deps.ledger,
		Notifier:  ext.notifier,
		Events:    recorder,
		Policy:    policy,
	},
		reconcile.WithLogger(logger.WithField("component", "reconcile")),
		reconcile.WithMetrics(reconcileMetrics),
		reconcile.WithRetryConfig(reconcile.RetryConfig{
			MaxAttempts:  cfg.RetryMaxAttempts,
			InitialDelay: cfg.RetryInitialDelay,
		}),
	)

	checkoutSvc := checkout.NewService(checkout.Dependencies{
		Orders:        deps.orders,
		Checker:       checker,
		Gateway:       ext.provider,
		Links:         ext.provider,
		Notifier:      ext.notifier,
		Events:        recorder,
		Timeline:      deps.timelineRepo,
		Policy:        policy,
		PublicBaseURL: cfg.PublicBaseURL,
	},
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(reconcileMetrics),
	)

	api := httpapi.New(httpapi.Dependencies{
		Engine:         engine,
		Checkout:       checkoutSvc,
		Checker:        checker,
		Webhooks:       ext.webhooks,
		Tokens:         ext.tokens,
		Idempotency:    deps.idempotencyRepo,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Metrics:        metrics.NewHTTPMetrics(),
		Logger:         logger.WithField("component", "httpapi"),
	})

	return &services{
		engine:   engine,
		checkout: checkoutSvc,
		checker:  checker,
		api:      api,
	}
}
