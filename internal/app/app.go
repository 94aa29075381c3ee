package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/payrecon/internal/health"
	"github.com/vladislavdragonenkov/payrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payrecon/internal/metrics"
	"github.com/vladislavdragonenkov/payrecon/internal/service/idempotency"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/outbox"
	"github.com/vladislavdragonenkov/payrecon/internal/version"
)

const (
	defaultShutdownTimeout   = 5 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Run поднимает HTTP API, сервер метрик и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	reconcileMetrics := metrics.NewReconcileMetrics()
	workerMetrics := metrics.NewWorkerMetrics()

	provider, err := newPaymentProvider(cfg, logger)
	if err != nil {
		return err
	}
	webhooks, err := newWebhookVerifier(cfg, logger)
	if err != nil {
		return err
	}
	tokens, err := newTokenVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	baseNotifier, err := newBaseNotifier(cfg, logger)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(baseNotifier, 0, reconcileMetrics, logger.WithField("component", "notify-dispatcher"))

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		kafkaProducer = nil
	}
	defer closeKafka(kafkaProducer, logger)

	svc := buildServices(cfg, deps, integrations{
		provider: provider,
		webhooks: webhooks,
		tokens:   tokens,
		notifier: dispatcher,
	}, reconcileMetrics, logger)

	healthHandler := newHealthHandler(cfg, deps)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workersCtx)
		}()
	}

	startWorker(dispatcher.Run)
	if relay := newOutboxRelay(cfg, deps.outboxRepo, kafkaProducer, workerMetrics, logger); relay != nil {
		startWorker(relay.Run)
	} else {
		logger.Info("kafka is not configured, outbox events stay in storage")
	}
	startWorker(idempotency.NewPurger(deps.idempotencyRepo, idempotency.PurgeConfig{
		Interval:  cfg.IdempotencyCleanupInterval,
		BatchSize: cfg.IdempotencyCleanupBatchSize,
	}, workerMetrics, logger).Run)

	stopBackground := func() {
		stopWorkers()
		wg.Wait()
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopBackground()
		return err
	}
	apiSrv := &http.Server{
		Handler:           svc.api.Routes(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("http api listening")
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http api")
		shutdownHTTP(apiSrv, logger)
		stopBackground()
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopBackground()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newOutboxRelay возвращает nil без Kafka: публиковать события некуда.
func newOutboxRelay(
	cfg Config,
	repo domain.OutboxRepository,
	producer *kafka.Producer,
	m *metrics.WorkerMetrics,
	logger *log.Entry,
) *outbox.Relay {
	if producer == nil || repo == nil {
		return nil
	}
	return outbox.NewRelay(repo, kafka.NewOutboxPublisher(producer, kafka.TopicPaymentEvents), outbox.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Backoff:      cfg.OutboxRetryDelay,
		Quarantine:   kafka.NewOutboxPublisher(producer, kafka.TopicOutboxDLQ),
	}, m, logger)
}

// newHealthHandler регистрирует проверки хранилищ и backlog-пороги.
func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion())
	for name, pinger := range deps.pingers {
		h.RegisterChecker(name, healthcheck.NewPingChecker(name, pinger))
	}

	if deps.outboxRepo != nil && cfg.OutboxMaxPending > 0 {
		repo := deps.outboxRepo
		h.RegisterChecker("outbox_backlog", healthcheck.NewThresholdChecker("outbox_backlog", cfg.OutboxMaxPending, func() (int, error) {
			stats, err := repo.Stats()
			if err != nil {
				return 0, err
			}
			return stats.PendingCount, nil
		}))
	}

	if deps.ledger != nil && cfg.DeadLetterMaxUnprocessed > 0 {
		ledger := deps.ledger
		threshold := cfg.DeadLetterMaxUnprocessed
		unprocessed := false
		h.RegisterChecker("dead_letters", healthcheck.NewThresholdChecker("dead_letters", threshold, func() (int, error) {
			records, err := ledger.List(domain.DeadLetterFilter{Processed: &unprocessed, Limit: threshold + 1})
			if err != nil {
				return 0, err
			}
			return len(records), nil
		}))
	}

	return h
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: defaultReadHeaderTimeout}
	go func() {
		logger.WithField("addr", addr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
