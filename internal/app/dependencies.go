package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/dispatch"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/product"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const postgresConnectTimeout = 30 * time.Second

// Dependencies содержит все зависимости приложения: четыре контекста поверх
// unit of work и dispatcher на каждый потребляющий контекст. Контекст заказа
// (заказы, саги, его outbox/inbox) живёт в UoW — Postgres при заданном
// POSTGRES_DSN, иначе память; остальные контексты разделяют PeerUoW в памяти.
// NOTE: платёжный провайдер — mock; в production он заменяется реальным
// клиентом провайдера.
type Dependencies struct {
	UoW      domain.UnitOfWork
	PeerUoW  domain.UnitOfWork
	Postgres *postgres.Store
	Redis    *redis.Client

	Orders      *order.Service
	Inventory   *inventory.Handler
	Payments    *payment.Handler
	Products    *product.Service
	PriceCache  *product.PriceCache
	Coordinator *saga.Coordinator
	Expirer     *inventory.Expirer

	OrderDispatcher     *dispatch.Dispatcher
	InventoryDispatcher *dispatch.Dispatcher
	PaymentDispatcher   *dispatch.Dispatcher

	Logger *log.Entry
}

// NewDependencies создаёт и связывает все зависимости приложения.
func NewDependencies(cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	// Контексты склада, платежей и каталога разделяют in-memory store;
	// контекст заказа при заданном DSN переезжает в Postgres.
	peerStore := memory.NewStore()
	var orderStore domain.UnitOfWork = peerStore

	var pgStore *postgres.Store
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
		defer cancel()

		var err error
		pgStore, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			pgStore.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		orderStore = pgStore
		logger.Info("order context backed by postgres")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.WithField("addr", cfg.RedisAddr).Info("redis price cache enabled")
	}

	priceCache := product.NewPriceCache(peerStore, redisClient, cfg.PriceCacheTTL,
		logger.WithField("component", "price-cache"))
	products := product.NewService(peerStore, priceCache, logger.WithField("component", "product-service"))

	coordinator := saga.NewCoordinator(orderStore, logger.WithField("component", "saga"))
	orders := order.NewService(orderStore, priceCache, logger.WithField("component", "order-service"), coordinator.Metrics())

	inventoryHandler := inventory.NewHandler(peerStore, logger.WithField("component", "inventory"))
	expirer := inventory.NewExpirer(peerStore,
		inventory.WithExpirerLogger(logger.WithField("component", "reservation-expirer")),
		inventory.WithReservationTTL(cfg.ReservationTTL),
		inventory.WithExpireInterval(cfg.ReservationExpireInterval),
	)

	paymentHandler := payment.NewHandler(peerStore, payment.NewMockProvider(), "mock",
		logger.WithField("component", "payment"))

	inboxMetrics := metrics.NewInboxMetrics()

	sagaHandler := dispatch.HandlerFunc(coordinator.Handle)
	orderDispatcher, err := dispatch.NewDispatcher("order", orderStore, map[domain.EventType]dispatch.Handler{
		domain.EventReservationCreateSucceeded:  sagaHandler,
		domain.EventReservationCreateFailed:     sagaHandler,
		domain.EventReservationConfirmSucceeded: sagaHandler,
		domain.EventReservationConfirmFailed:    sagaHandler,
		domain.EventReservationReleaseSucceeded: sagaHandler,
		domain.EventPaymentCreateSucceeded:      sagaHandler,
		domain.EventPaymentCreateFailed:         sagaHandler,
	}, []domain.EventType{
		domain.EventReservationCreateSucceeded,
		domain.EventReservationCreateFailed,
		domain.EventReservationConfirmSucceeded,
		domain.EventReservationConfirmFailed,
		domain.EventReservationReleaseSucceeded,
		domain.EventPaymentCreateSucceeded,
		domain.EventPaymentCreateFailed,
	}, logger.WithField("component", "dispatcher").WithField("service", "order"), inboxMetrics)
	if err != nil {
		return nil, fmt.Errorf("build order dispatcher: %w", err)
	}

	inventoryDispatcher, err := dispatch.NewDispatcher("inventory", peerStore, map[domain.EventType]dispatch.Handler{
		domain.EventReservationCreateRequested:  dispatch.HandlerFunc(inventoryHandler.HandleReserve),
		domain.EventReservationConfirmRequested: dispatch.HandlerFunc(inventoryHandler.HandleConfirm),
		domain.EventReservationReleaseRequested: dispatch.HandlerFunc(inventoryHandler.HandleRelease),
	}, []domain.EventType{
		domain.EventReservationCreateRequested,
		domain.EventReservationConfirmRequested,
		domain.EventReservationReleaseRequested,
	}, logger.WithField("component", "dispatcher").WithField("service", "inventory"), inboxMetrics)
	if err != nil {
		return nil, fmt.Errorf("build inventory dispatcher: %w", err)
	}

	paymentDispatcher, err := dispatch.NewDispatcher("payment", peerStore, map[domain.EventType]dispatch.Handler{
		domain.EventPaymentCreateRequested: dispatch.HandlerFunc(paymentHandler.HandleCharge),
	}, []domain.EventType{
		domain.EventPaymentCreateRequested,
	}, logger.WithField("component", "dispatcher").WithField("service", "payment"), inboxMetrics)
	if err != nil {
		return nil, fmt.Errorf("build payment dispatcher: %w", err)
	}

	return &Dependencies{
		UoW:                 orderStore,
		PeerUoW:             peerStore,
		Postgres:            pgStore,
		Redis:               redisClient,
		Orders:              orders,
		Inventory:           inventoryHandler,
		Payments:            paymentHandler,
		Products:            products,
		PriceCache:          priceCache,
		Coordinator:         coordinator,
		Expirer:             expirer,
		OrderDispatcher:     orderDispatcher,
		InventoryDispatcher: inventoryDispatcher,
		PaymentDispatcher:   paymentDispatcher,
		Logger:              logger,
	}, nil
}

// Close освобождает внешние ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
