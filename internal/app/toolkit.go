package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/reconcile"
)

// Toolkit открывает хранилища и движок сверки для CLI-утилит без HTTP-сервера и воркеров.
type Toolkit struct {
	Engine *reconcile.Engine
	Orders domain.OrderStore
	Ledger domain.DeadLetterLedger

	deps *runtimeDependencies
}

// OpenToolkit собирает движок сверки по той же конфигурации, что и сервис.
// Письма отправляются синхронно: у утилиты нет фонового диспетчера.
func OpenToolkit(ctx context.Context, cfg Config, logger *log.Entry) (*Toolkit, error) {
	if logger == nil {
		logger = log.WithField("component", "toolkit")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	provider, err := newPaymentProvider(cfg, logger)
	if err != nil {
		_ = deps.closeFn()
		return nil, err
	}
	notifier, err := newBaseNotifier(cfg, logger)
	if err != nil {
		_ = deps.closeFn()
		return nil, err
	}

	svc := buildServices(cfg, deps, integrations{
		provider: provider,
		notifier: notifier,
	}, metrics.NewReconcileMetrics(), logger)

	return &Toolkit{
		Engine: svc.engine,
		Orders: deps.orders,
		Ledger: deps.ledger,
		deps:   deps,
	}, nil
}

// Close закрывает подключения к хранилищам.
func (t *Toolkit) Close() error {
	if t == nil || t.deps == nil {
		return nil
	}
	return t.deps.closeFn()
}
