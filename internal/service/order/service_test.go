package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/product"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newOrderService(t *testing.T) (*order.Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	cache := product.NewPriceCache(store, nil, time.Minute, nil)
	return order.NewService(store, cache, nil, nil), store
}

func seedCatalogProduct(t *testing.T, store *memory.Store, id string, priceMinor int64, currency string) {
	t.Helper()

	now := time.Now().UTC()
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		return tx.Products().Create(domain.Product{
			ID:         id,
			Name:       "product " + id,
			PriceMinor: priceMinor,
			Currency:   currency,
			Status:     domain.ProductStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func placedOutbox(t *testing.T, store *memory.Store) []domain.OutboxMessage {
	t.Helper()

	var batch []domain.OutboxMessage
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		var err error
		batch, err = tx.Outbox().ClaimReadyToPublish(100)
		return err
	}); err != nil {
		t.Fatalf("claim outbox: %v", err)
	}
	return batch
}

func TestPlaceOrder_CreatesOrderSagaAndCommands(t *testing.T) {
	svc, store := newOrderService(t)
	seedCatalogProduct(t, store, "prod-laptop", 199900, "USD")
	seedCatalogProduct(t, store, "prod-mouse", 4999, "USD")

	ctx := context.Background()
	placed, err := svc.PlaceOrder(ctx, order.PlaceOrderCommand{
		CustomerID: "customer-1",
		Currency:   "USD",
		Items: []order.PlaceOrderItem{
			{ProductID: "prod-laptop", Qty: 1},
			{ProductID: "prod-mouse", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// $1999.00 + 2 x $49.99 = $2098.98.
	if placed.AmountMinor != 209898 {
		t.Fatalf("unexpected amount: %d", placed.AmountMinor)
	}
	if placed.Status != domain.OrderStatusPending || len(placed.Items) != 2 {
		t.Fatalf("unexpected order: %+v", placed)
	}

	// Сага создана на первом шаге.
	if err := store.Do(ctx, func(tx domain.Repositories) error {
		saga, getErr := tx.Sagas().Get(placed.ID)
		if getErr != nil {
			return getErr
		}
		if saga.CurrentStep != domain.SagaStepAwaitingReservation {
			t.Fatalf("unexpected saga step: %s", saga.CurrentStep)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Команда резерва и событие создания лежат в одной транзакции с заказом.
	emitted := placedOutbox(t, store)
	if len(emitted) != 2 {
		t.Fatalf("expected 2 outbox records, got %+v", emitted)
	}
	byType := make(map[domain.EventType]domain.OutboxMessage, len(emitted))
	for _, msg := range emitted {
		byType[msg.EventType] = msg
	}
	command, ok := byType[domain.EventReservationCreateRequested]
	if !ok {
		t.Fatalf("expected reservation command, got %+v", emitted)
	}
	if _, ok := byType[domain.EventOrderCreated]; !ok {
		t.Fatalf("expected order.created, got %+v", emitted)
	}

	var req domain.ReservationRequest
	if err := json.Unmarshal(command.Payload, &req); err != nil {
		t.Fatalf("decode reservation request: %v", err)
	}
	if len(req.Lines) != 2 || req.Lines[0].SKU != "prod-laptop" || req.Lines[1].Qty != 2 {
		t.Fatalf("unexpected reservation lines: %+v", req.Lines)
	}

	// Журнал зафиксировал размещение.
	events, err := svc.Timeline(ctx, placed.ID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != "OrderPlaced" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	svc, store := newOrderService(t)
	seedCatalogProduct(t, store, "prod-1", 100, "USD")

	tests := []struct {
		name string
		cmd  order.PlaceOrderCommand
	}{
		{
			name: "missing customer",
			cmd: order.PlaceOrderCommand{
				Currency: "USD",
				Items:    []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 1}},
			},
		},
		{
			name: "missing currency",
			cmd: order.PlaceOrderCommand{
				CustomerID: "customer-1",
				Items:      []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 1}},
			},
		},
		{
			name: "no items",
			cmd:  order.PlaceOrderCommand{CustomerID: "customer-1", Currency: "USD"},
		},
		{
			name: "empty product id",
			cmd: order.PlaceOrderCommand{
				CustomerID: "customer-1",
				Currency:   "USD",
				Items:      []order.PlaceOrderItem{{Qty: 1}},
			},
		},
		{
			name: "non-positive qty",
			cmd: order.PlaceOrderCommand{
				CustomerID: "customer-1",
				Currency:   "USD",
				Items:      []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 0}},
			},
		},
		{
			name: "unknown product",
			cmd: order.PlaceOrderCommand{
				CustomerID: "customer-1",
				Currency:   "USD",
				Items:      []order.PlaceOrderItem{{ProductID: "prod-missing", Qty: 1}},
			},
		},
		{
			name: "currency mismatch",
			cmd: order.PlaceOrderCommand{
				CustomerID: "customer-1",
				Currency:   "EUR",
				Items:      []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(context.Background(), tt.cmd); !errors.Is(err, domain.ErrInvalidCommand) {
				t.Fatalf("expected ErrInvalidCommand, got %v", err)
			}
		})
	}

	// Отклонённые команды ничего не оставляют в outbox.
	if emitted := placedOutbox(t, store); len(emitted) != 0 {
		t.Fatalf("rejected commands must not emit, got %+v", emitted)
	}
}

func TestGetOrder(t *testing.T) {
	svc, store := newOrderService(t)
	seedCatalogProduct(t, store, "prod-1", 100, "USD")

	ctx := context.Background()
	placed, err := svc.PlaceOrder(ctx, order.PlaceOrderCommand{
		CustomerID: "customer-1",
		Currency:   "USD",
		Items:      []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	got, err := svc.GetOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != placed.ID || got.AmountMinor != 100 {
		t.Fatalf("unexpected order: %+v", got)
	}

	if _, err := svc.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListByCustomer(t *testing.T) {
	svc, store := newOrderService(t)
	seedCatalogProduct(t, store, "prod-1", 100, "USD")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.PlaceOrder(ctx, order.PlaceOrderCommand{
			CustomerID: "customer-1",
			Currency:   "USD",
			Items:      []order.PlaceOrderItem{{ProductID: "prod-1", Qty: 1}},
		}); err != nil {
			t.Fatalf("place failed: %v", err)
		}
	}

	orders, err := svc.ListByCustomer(ctx, "customer-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected limit applied, got %d orders", len(orders))
	}

	orders, err = svc.ListByCustomer(ctx, "customer-other", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders for other customer, got %+v", orders)
	}
}
