package integration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/local"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/dispatch"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/product"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// FulfillmentLifecycleTestSuite прогоняет полный асинхронный цикл саги поверх
// in-process шины: outbox publisher, dispatcher'ы всех контекстов и компенсации.
type FulfillmentLifecycleTestSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc

	store     *memory.Store
	bus       *local.Bus
	publisher *outbox.Publisher

	products  *product.Service
	orders    *order.Service
	inventory *inventory.Handler
	payments  *payment.Handler
	provider  *payment.MockProvider
}

func (suite *FulfillmentLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.store = memory.NewStore()

	priceCache := product.NewPriceCache(suite.store, nil, time.Minute, logger)
	suite.products = product.NewService(suite.store, priceCache, logger)

	coordinator := saga.NewCoordinatorWithoutMetrics(suite.store, logger)
	suite.orders = order.NewService(suite.store, priceCache, logger, nil)
	suite.inventory = inventory.NewHandler(suite.store, logger)
	suite.provider = payment.NewMockProvider()
	suite.payments = payment.NewHandler(suite.store, suite.provider, "mock", logger)

	sagaHandler := dispatch.HandlerFunc(coordinator.Handle)
	orderDispatcher, err := dispatch.NewDispatcher("order", suite.store, map[domain.EventType]dispatch.Handler{
		domain.EventReservationCreateSucceeded:  sagaHandler,
		domain.EventReservationCreateFailed:     sagaHandler,
		domain.EventReservationConfirmSucceeded: sagaHandler,
		domain.EventReservationReleaseSucceeded: sagaHandler,
		domain.EventPaymentCreateSucceeded:      sagaHandler,
		domain.EventPaymentCreateFailed:         sagaHandler,
	}, nil, logger, nil)
	require.NoError(suite.T(), err)

	inventoryDispatcher, err := dispatch.NewDispatcher("inventory", suite.store, map[domain.EventType]dispatch.Handler{
		domain.EventReservationCreateRequested:  dispatch.HandlerFunc(suite.inventory.HandleReserve),
		domain.EventReservationConfirmRequested: dispatch.HandlerFunc(suite.inventory.HandleConfirm),
		domain.EventReservationReleaseRequested: dispatch.HandlerFunc(suite.inventory.HandleRelease),
	}, nil, logger, nil)
	require.NoError(suite.T(), err)

	paymentDispatcher, err := dispatch.NewDispatcher("payment", suite.store, map[domain.EventType]dispatch.Handler{
		domain.EventPaymentCreateRequested: dispatch.HandlerFunc(suite.payments.HandleCharge),
	}, nil, logger, nil)
	require.NoError(suite.T(), err)

	suite.bus = local.NewBus(0, logger)
	suite.bus.Subscribe(messaging.TopicOrderReplies, orderDispatcher.Dispatch)
	suite.bus.Subscribe(messaging.TopicInventoryRequests, inventoryDispatcher.Dispatch)
	suite.bus.Subscribe(messaging.TopicPaymentRequests, paymentDispatcher.Dispatch)

	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	suite.bus.Start(suite.ctx)

	suite.publisher = outbox.NewPublisher(suite.store, suite.bus,
		outbox.WithLogger(logger),
		outbox.WithPollInterval(10*time.Millisecond),
	)
	go suite.publisher.Run(suite.ctx)
}

func (suite *FulfillmentLifecycleTestSuite) TearDownTest() {
	suite.cancel()
	_ = suite.bus.Close()
	suite.bus.Wait()
	suite.publisher.Wait()
}

func (suite *FulfillmentLifecycleTestSuite) TestCompletedOrderLifecycle() {
	ctx := context.Background()

	laptop := suite.createProduct(ctx, "laptop-pro", 199900)
	mouse := suite.createProduct(ctx, "mouse-wireless", 4999)
	suite.setStock(ctx, laptop.ID, 5)
	suite.setStock(ctx, mouse.ID, 10)

	placed, err := suite.orders.PlaceOrder(ctx, order.PlaceOrderCommand{
		CustomerID: "customer-123",
		Currency:   "USD",
		Items: []order.PlaceOrderItem{
			{ProductID: laptop.ID, Qty: 1},
			{ProductID: mouse.ID, Qty: 2},
		},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, placed.Status)
	require.Equal(suite.T(), int64(209898), placed.AmountMinor) // $1999 + 2*$49.99

	suite.waitForOrderStatus(placed.ID, domain.OrderStatusCompleted, 5*time.Second)

	// Платёж одобрен, ровно одно обращение к провайдеру.
	pay, err := suite.payments.GetByOrder(ctx, placed.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.PaymentStatusApproved, pay.Status)
	require.Equal(suite.T(), 1, suite.provider.ChargeCalls)

	// Резерв подтверждён, сток списан.
	res := suite.getReservation(placed.ID)
	require.Equal(suite.T(), domain.ReservationStatusConfirmed, res.Status)
	require.Equal(suite.T(), int32(4), suite.getStock(ctx, laptop.ID).OnHand)
	require.Equal(suite.T(), int32(8), suite.getStock(ctx, mouse.ID).OnHand)

	// Timeline содержит размещение и завершение.
	timeline, err := suite.orders.Timeline(ctx, placed.ID)
	require.NoError(suite.T(), err)
	suite.requireTimelineEvent(timeline, "OrderPlaced")
	suite.requireTimelineEvent(timeline, "OrderCompleted")
}

func (suite *FulfillmentLifecycleTestSuite) TestInsufficientStockCancelsOrder() {
	ctx := context.Background()

	item := suite.createProduct(ctx, "out-of-stock-item", 10000)
	suite.setStock(ctx, item.ID, 1)

	placed, err := suite.orders.PlaceOrder(ctx, order.PlaceOrderCommand{
		CustomerID: "customer-456",
		Currency:   "USD",
		Items:      []order.PlaceOrderItem{{ProductID: item.ID, Qty: 3}},
	})
	require.NoError(suite.T(), err)

	suite.waitForOrderStatus(placed.ID, domain.OrderStatusCancelled, 5*time.Second)

	cancelled, err := suite.orders.GetOrder(ctx, placed.ID)
	require.NoError(suite.T(), err)
	require.Contains(suite.T(), cancelled.CancelReason, "insufficient inventory")

	// Платёж не инициировался, сток не изменился.
	require.Equal(suite.T(), 0, suite.provider.ChargeCalls)
	require.Equal(suite.T(), int32(1), suite.getStock(ctx, item.ID).OnHand)
}

func (suite *FulfillmentLifecycleTestSuite) TestPaymentDeclineCompensates() {
	ctx := context.Background()

	item := suite.createProduct(ctx, "declined-item", 5000)
	suite.setStock(ctx, item.ID, 4)
	suite.provider.ChargeErr = errors.New("card declined")

	placed, err := suite.orders.PlaceOrder(ctx, order.PlaceOrderCommand{
		CustomerID: "customer-fail",
		Currency:   "USD",
		Items:      []order.PlaceOrderItem{{ProductID: item.ID, Qty: 2}},
	})
	require.NoError(suite.T(), err)

	suite.waitForOrderStatus(placed.ID, domain.OrderStatusCancelled, 5*time.Second)

	// Причина отказа платежа доезжает до заказа через компенсацию.
	cancelled, err := suite.orders.GetOrder(ctx, placed.ID)
	require.NoError(suite.T(), err)
	require.Contains(suite.T(), cancelled.CancelReason, "card declined")

	// Резерв снят, сток возвращён.
	res := suite.getReservation(placed.ID)
	require.Equal(suite.T(), domain.ReservationStatusReleased, res.Status)
	require.Equal(suite.T(), int32(4), suite.getStock(ctx, item.ID).OnHand)

	require.Equal(suite.T(), 1, suite.provider.ChargeCalls)
}

// Вспомогательные методы

func (suite *FulfillmentLifecycleTestSuite) createProduct(ctx context.Context, name string, priceMinor int64) domain.Product {
	created, err := suite.products.CreateProduct(ctx, product.CreateProductCommand{
		Name:       name,
		PriceMinor: priceMinor,
		Currency:   "USD",
	})
	require.NoError(suite.T(), err)
	return created
}

func (suite *FulfillmentLifecycleTestSuite) setStock(ctx context.Context, sku string, onHand int32) {
	require.NoError(suite.T(), suite.inventory.SetStock(ctx, sku, onHand))
}

func (suite *FulfillmentLifecycleTestSuite) getStock(ctx context.Context, sku string) domain.StockItem {
	item, err := suite.inventory.GetStock(ctx, sku)
	require.NoError(suite.T(), err)
	return item
}

func (suite *FulfillmentLifecycleTestSuite) getReservation(orderID string) domain.Reservation {
	var res domain.Reservation
	err := suite.store.Do(context.Background(), func(tx domain.Repositories) error {
		var getErr error
		res, getErr = tx.Reservations().GetByOrder(orderID)
		return getErr
	})
	require.NoError(suite.T(), err)
	return res
}

func (suite *FulfillmentLifecycleTestSuite) requireTimelineEvent(timeline []domain.TimelineEvent, eventType string) {
	for _, event := range timeline {
		if event.Type == eventType {
			return
		}
	}
	types := make([]string, 0, len(timeline))
	for _, event := range timeline {
		types = append(types, event.Type)
	}
	suite.T().Fatalf("timeline does not contain %s, got: %s", eventType, strings.Join(types, ", "))
}

func (suite *FulfillmentLifecycleTestSuite) waitForOrderStatus(orderID string, expected domain.OrderStatus, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		current, err := suite.orders.GetOrder(context.Background(), orderID)
		if err == nil && current.Status == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Если не дождались, показываем текущий статус
	current, _ := suite.orders.GetOrder(context.Background(), orderID)
	suite.T().Fatalf("Order %s did not reach status %s within %v, current status: %s",
		orderID, expected, timeout, current.Status)
}

func TestFulfillmentLifecycle(t *testing.T) {
	suite.Run(t, new(FulfillmentLifecycleTestSuite))
}
