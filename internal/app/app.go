// Package app собирает все контексты fulfillment в один процесс: HTTP API,
// транспорт событий, outbox publisher и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/local"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// Run запускает приложение и блокируется до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Транспорт: Kafka при настроенных брокерах, иначе шина внутри процесса.
	var producer domain.EventProducer
	var consumers []*kafka.Consumer
	var bus *local.Bus

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	if kafkaProducer != nil {
		producer = kafkaProducer
		consumers, err = startKafkaConsumers(ctx, cfg.KafkaBrokers, deps, kafkaProducer)
		if err != nil {
			closeKafka(kafkaProducer, logger)
			return err
		}
	} else {
		logger.Info("kafka brokers are not configured, using in-process bus")
		bus = local.NewBus(0, logger.WithField("component", "local-bus"))
		bus.Subscribe(messaging.TopicOrderReplies, deps.OrderDispatcher.Dispatch)
		bus.Subscribe(messaging.TopicInventoryRequests, deps.InventoryDispatcher.Dispatch)
		bus.Subscribe(messaging.TopicPaymentRequests, deps.PaymentDispatcher.Dispatch)
		bus.Start(ctx)
		producer = bus
	}

	// Каждый unit of work несёт свой outbox, поэтому publisher'ов столько же,
	// сколько store'ов: контекст заказа и контексты-соседи.
	publishers := []*outbox.Publisher{outbox.NewPublisher(deps.UoW, producer,
		outbox.WithLogger(logger.WithField("component", "outbox-publisher")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
	)}
	if deps.PeerUoW != deps.UoW {
		publishers = append(publishers, outbox.NewPublisher(deps.PeerUoW, producer,
			outbox.WithLogger(logger.WithField("component", "peer-outbox-publisher")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
		))
	}
	for _, p := range publishers {
		go p.Run(ctx)
	}
	go deps.Expirer.Run(ctx)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("outbox", healthcheck.NewSimpleChecker("outbox", func() error {
		if err := checkOutboxBacklog(ctx, deps.UoW); err != nil {
			return err
		}
		if deps.PeerUoW != deps.UoW {
			return checkOutboxBacklog(ctx, deps.PeerUoW)
		}
		return nil
	}))
	if deps.Postgres != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return deps.Postgres.Ping(ctx)
		}))
	}
	if deps.Redis != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			return deps.Redis.Ping(ctx).Err()
		}))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: NewRouter(deps)}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	shutdown := func() {
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		for _, p := range publishers {
			p.Wait()
		}
		stopKafkaConsumers(consumers, logger)
		closeKafka(kafkaProducer, logger)
		if bus != nil {
			_ = bus.Close()
			bus.Wait()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем приложение")
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// checkOutboxBacklog сигнализирует о dead-записях в outbox: они требуют
// операторского вмешательства через cmd/outbox-redrive.
func checkOutboxBacklog(ctx context.Context, uow domain.UnitOfWork) error {
	var stats domain.OutboxStats
	err := uow.Do(ctx, func(tx domain.Repositories) error {
		var statsErr error
		stats, statsErr = tx.Outbox().Stats()
		return statsErr
	})
	if err != nil {
		return err
	}
	if stats.DeadCount > 0 {
		return fmt.Errorf("%d dead outbox records awaiting redrive", stats.DeadCount)
	}
	return nil
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
