package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/health"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/firestore"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/payrecon/internal/storage/redis"
)

// runtimeDependencies - хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	orders          domain.OrderStore
	inventory       domain.InventoryStore
	ledger          domain.DeadLetterLedger
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// pingers попадают в readiness как отдельные проверки.
	pingers map[string]health.Pinger
	closers []func() error
}

// closeFn закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилища по cfg.StorageDriver и cfg.IdempotencyDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{pingers: make(map[string]health.Pinger)}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps.orders = memory.NewOrderStore()
		deps.inventory = memory.NewInventoryStore()
		deps.ledger = memory.NewDeadLetterLedger()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			applied, err := store.MigrateUp(ctx, 0)
			if err != nil {
				_ = deps.closeFn()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.WithField("applied", len(applied)).Info("postgres migrations applied")
		}
		deps.orders = postgres.NewOrderStore(store)
		deps.inventory = postgres.NewInventoryStore(store)
		deps.ledger = postgres.NewDeadLetterLedger(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.pingers["postgres"] = store
		logger.Info("using postgres storage")

	case StorageDriverFirestore:
		project := strings.TrimSpace(cfg.FirestoreProject)
		if project == "" {
			return nil, errors.New("firestore project is required for firestore storage driver")
		}
		client, err := firestore.NewClient(ctx, project, cfg.FirestoreCredentials, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		deps.orders = firestore.NewOrderStore(client)
		deps.inventory = firestore.NewInventoryStore(client)
		deps.ledger = firestore.NewDeadLetterLedger(client)
		// Outbox и timeline в документной базе не ведутся: события уходят в брокер.
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.pingers["firestore"] = client
		logger.WithField("project", project).Info("using firestore storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.IdempotencyDriver {
	case "", IdempotencyDriverStorage:
	case IdempotencyDriverRedis:
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			_ = deps.closeFn()
			return nil, errors.New("redis addr is required for redis idempotency driver")
		}
		repo, closeRedis, err := openRedisIdempotency(ctx, addr)
		if err != nil {
			_ = deps.closeFn()
			return nil, err
		}
		deps.closers = append(deps.closers, closeRedis)
		deps.idempotencyRepo = repo
		deps.pingers["redis"] = repo
		logger.WithField("addr", addr).Info("using redis idempotency store")
	default:
		_ = deps.closeFn()
		return nil, fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}

	return deps, nil
}

func openRedisIdempotency(ctx context.Context, addr string) (*redisstore.IdempotencyRepository, func() error, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	repo := redisstore.NewIdempotencyRepository(client)

	pingCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return repo, client.Close, nil
}
