package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/payrecon/internal/health"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
	redisstore "github.com/vladislavdragonenkov/payrecon/internal/storage/redis"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, quietLogger())
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	if deps.orders == nil || deps.inventory == nil || deps.ledger == nil {
		t.Fatal("order, inventory and ledger stores must be initialized")
	}
	if deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatal("outbox, timeline and idempotency stores must be initialized")
	}
	if len(deps.pingers) != 0 {
		t.Fatalf("memory storage has nothing to ping, got %v", deps.pingers)
	}
}

func TestInitRuntimeDependencies_DriverErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"postgres without dsn", Config{StorageDriver: StorageDriverPostgres}, "postgres dsn is required"},
		{"firestore without project", Config{StorageDriver: StorageDriverFirestore}, "firestore project is required"},
		{"unsupported storage", Config{StorageDriver: "sqlite"}, "unsupported storage driver"},
		{"redis without addr", Config{IdempotencyDriver: IdempotencyDriverRedis}, "redis addr is required"},
		{"unsupported idempotency", Config{IdempotencyDriver: "memcached"}, "unsupported idempotency driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := initRuntimeDependencies(context.Background(), tt.cfg, quietLogger())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInitRuntimeDependencies_RedisIdempotency(t *testing.T) {
	server := miniredis.RunT(t)

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:     StorageDriverMemory,
		IdempotencyDriver: IdempotencyDriverRedis,
		RedisAddr:         server.Addr(),
	}, quietLogger())
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	if _, ok := deps.idempotencyRepo.(*redisstore.IdempotencyRepository); !ok {
		t.Fatalf("expected redis idempotency repository, got %T", deps.idempotencyRepo)
	}
	if _, ok := deps.pingers["redis"]; !ok {
		t.Fatal("expected redis pinger to be registered")
	}

	record, err := deps.idempotencyRepo.CreateProcessing("stripe:evt_1", "hash", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected status %s", record.Status)
	}
	if !server.Exists("payrecon:idempotency:stripe:evt_1") {
		t.Fatal("expected key to be stored in redis")
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := initRuntimeDependencies(context.Background(), Config{
		IdempotencyDriver: IdempotencyDriverRedis,
		RedisAddr:         addr,
	}, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "ping redis") {
		t.Fatalf("expected ping redis error, got %v", err)
	}
}

func TestRuntimeDependencies_CloseFnReverseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "redis"); return errors.New("redis close failed") },
	}}

	err := deps.closeFn()
	if err == nil || !strings.Contains(err.Error(), "redis close failed") {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if strings.Join(order, ",") != "redis,postgres" {
		t.Fatalf("unexpected close order: %v", order)
	}
	if err := deps.closeFn(); err != nil {
		t.Fatalf("second closeFn must be a no-op, got %v", err)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestNewHealthHandler_Checkers(t *testing.T) {
	outboxRepo := memory.NewOutboxRepository()
	ledger := memory.NewDeadLetterLedger()
	deps := &runtimeDependencies{
		outboxRepo: outboxRepo,
		ledger:     ledger,
		pingers: map[string]healthcheck.Pinger{
			"postgres": stubPinger{},
		},
	}
	cfg := DefaultConfig()
	cfg.OutboxMaxPending = 1
	cfg.DeadLetterMaxUnprocessed = 1

	h := newHealthHandler(cfg, deps)
	if got := strings.Join(h.Names(), ","); got != "dead_letters,outbox_backlog,postgres" {
		t.Fatalf("unexpected checkers: %s", got)
	}

	status, _ := h.Run(context.Background())
	if status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy, got %s", status)
	}

	for i := 0; i < 2; i++ {
		if _, err := outboxRepo.Enqueue(domain.OutboxMessage{AggregateID: "order-1", EventType: domain.EventPaymentCompleted}); err != nil {
			t.Fatal(err)
		}
		if _, err := ledger.Append(domain.DeadLetterRecord{OrderID: "order-1", Source: domain.SignalSourceWebhook}); err != nil {
			t.Fatal(err)
		}
	}

	status, checks := h.Run(context.Background())
	if status != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded, got %s (%+v)", status, checks)
	}
	if checks["outbox_backlog"].Status != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded outbox backlog, got %+v", checks["outbox_backlog"])
	}
	if checks["dead_letters"].Status != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded dead letters, got %+v", checks["dead_letters"])
	}

	deps.pingers["postgres"] = stubPinger{err: errors.New("connection refused")}
	h = newHealthHandler(cfg, deps)
	if status, _ := h.Run(context.Background()); status != healthcheck.StatusUnhealthy {
		t.Fatalf("expected unhealthy with failing storage, got %s", status)
	}
}
