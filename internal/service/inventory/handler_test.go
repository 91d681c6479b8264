package inventory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newInventoryFixture(t *testing.T, stock map[string]int32) (*inventory.Handler, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		for sku, onHand := range stock {
			if err := tx.Stock().Upsert(domain.StockItem{
				SKU:       sku,
				OnHand:    onHand,
				UpdatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return inventory.NewHandler(store, nil), store
}

func reserveEnvelope(t *testing.T, eventID string, lines ...domain.ReservationLine) domain.EventEnvelope {
	t.Helper()

	payload, err := json.Marshal(domain.ReservationRequest{OrderID: "order-1", Lines: lines})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return domain.EventEnvelope{
		EventID:     eventID,
		AggregateID: "order-1",
		EventType:   domain.EventReservationCreateRequested,
		Payload:     payload,
	}
}

func resultEnvelope(t *testing.T, eventID string, eventType domain.EventType, result domain.ReservationResult) domain.EventEnvelope {
	t.Helper()

	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return domain.EventEnvelope{
		EventID:     eventID,
		AggregateID: result.OrderID,
		EventType:   eventType,
		Payload:     payload,
	}
}

func stockLevel(t *testing.T, store *memory.Store, sku string) int32 {
	t.Helper()

	var item domain.StockItem
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		var err error
		item, err = tx.Stock().Get(sku)
		return err
	}); err != nil {
		t.Fatalf("get stock %s: %v", sku, err)
	}
	return item.OnHand
}

func reservationByOrder(t *testing.T, store *memory.Store) domain.Reservation {
	t.Helper()

	var res domain.Reservation
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		var err error
		res, err = tx.Reservations().GetByOrder("order-1")
		return err
	}); err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	return res
}

func claimOutbox(t *testing.T, store *memory.Store) []domain.OutboxMessage {
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

func TestHandleReserve_DecreasesStockAndCreatesReservation(t *testing.T) {
	handler, store := newInventoryFixture(t, map[string]int32{"sku-1": 5, "sku-2": 10})

	env := reserveEnvelope(t, "evt-1",
		domain.ReservationLine{SKU: "sku-1", Qty: 1},
		domain.ReservationLine{SKU: "sku-2", Qty: 2},
	)
	if err := handler.HandleReserve(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := stockLevel(t, store, "sku-1"); got != 4 {
		t.Fatalf("sku-1 stock: want 4, got %d", got)
	}
	if got := stockLevel(t, store, "sku-2"); got != 8 {
		t.Fatalf("sku-2 stock: want 8, got %d", got)
	}

	res := reservationByOrder(t, store)
	if res.Status != domain.ReservationStatusActive || len(res.Lines) != 2 {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	emitted := claimOutbox(t, store)
	if len(emitted) != 1 || emitted[0].EventType != domain.EventReservationCreateSucceeded {
		t.Fatalf("expected reservation.create.succeeded, got %+v", emitted)
	}
}

func TestHandleReserve_InsufficientStockIsAllOrNothing(t *testing.T) {
	handler, store := newInventoryFixture(t, map[string]int32{"sku-1": 5, "sku-2": 1})

	env := reserveEnvelope(t, "evt-1",
		domain.ReservationLine{SKU: "sku-1", Qty: 2},
		domain.ReservationLine{SKU: "sku-2", Qty: 3},
	)
	if err := handler.HandleReserve(context.Background(), env); err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}

	// Списание sku-1 откатилось вместе с транзакцией.
	if got := stockLevel(t, store, "sku-1"); got != 5 {
		t.Fatalf("sku-1 stock must be untouched, got %d", got)
	}
	if got := stockLevel(t, store, "sku-2"); got != 1 {
		t.Fatalf("sku-2 stock must be untouched, got %d", got)
	}

	emitted := claimOutbox(t, store)
	if len(emitted) != 1 || emitted[0].EventType != domain.EventReservationCreateFailed {
		t.Fatalf("expected reservation.create.failed, got %+v", emitted)
	}

	var result domain.ReservationResult
	if err := json.Unmarshal(emitted[0].Payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reason != "insufficient inventory for sku sku-2: requested 3, available 1" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestHandleReserve_UnknownSKUFailsWithZeroAvailable(t *testing.T) {
	handler, store := newInventoryFixture(t, nil)

	env := reserveEnvelope(t, "evt-1", domain.ReservationLine{SKU: "sku-missing", Qty: 1})
	if err := handler.HandleReserve(context.Background(), env); err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}

	emitted := claimOutbox(t, store)
	if len(emitted) != 1 || emitted[0].EventType != domain.EventReservationCreateFailed {
		t.Fatalf("expected reservation.create.failed, got %+v", emitted)
	}
}

func TestHandleReserve_RedeliveryIsIdempotent(t *testing.T) {
	handler, store := newInventoryFixture(t, map[string]int32{"sku-1": 5})

	env := reserveEnvelope(t, "evt-1", domain.ReservationLine{SKU: "sku-1", Qty: 1})
	ctx := context.Background()
	if err := handler.HandleReserve(ctx, env); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := handler.HandleReserve(ctx, env); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	// Повторная доставка не списывает сток второй раз и не эмитит дубликат.
	if got := stockLevel(t, store, "sku-1"); got != 4 {
		t.Fatalf("stock must be decreased once, got %d", got)
	}
	if emitted := claimOutbox(t, store); len(emitted) != 1 {
		t.Fatalf("expected single emitted event, got %+v", emitted)
	}
}

func TestHandleConfirm_FinalizesReservation(t *testing.T) {
	handler, store := newInventoryFixture(t, map[string]int32{"sku-1": 5})

	ctx := context.Background()
	if err := handler.HandleReserve(ctx, reserveEnvelope(t, "evt-1", domain.ReservationLine{SKU: "sku-1", Qty: 1})); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	claimOutbox(t, store)

	env := resultEnvelope(t, "evt-2", domain.EventReservationConfirmRequested, domain.ReservationResult{OrderID: "order-1"})
	if err := handler.HandleConfirm(ctx, env); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if res := reservationByOrder(t, store); res.Status != domain.ReservationStatusConfirmed {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	// Списанный сток остаётся списанным.
	if got := stockLevel(t, store, "sku-1"); got != 4 {
		t.Fatalf("confirmed stock must stay decreased, got %d", got)
	}

	emitted := claimOutbox(t, store)
	if len(emitted) != 1 || emitted[0].EventType != domain.EventReservationConfirmSucceeded {
		t.Fatalf("expected reservation.confirm.succeeded, got %+v", emitted)
	}

	// Повторный confirm — no-op без нового события.
	if err := handler.HandleConfirm(ctx, resultEnvelope(t, "evt-3", domain.EventReservationConfirmRequested, domain.ReservationResult{OrderID: "order-1"})); err != nil {
		t.Fatalf("repeated confirm failed: %v", err)
	}
	if emitted := claimOutbox(t, store); len(emitted) != 0 {
		t.Fatalf("repeated confirm must not emit, got %+v", emitted)
	}
}

func TestHandleRelease_RestocksAndEchoesReason(t *testing.T) {
	handler, store := newInventoryFixture(t, map[string]int32{"sku-1": 5})

	ctx := context.Background()
	if err := handler.HandleReserve(ctx, reserveEnvelope(t, "evt-1", domain.ReservationLine{SKU: "sku-1", Qty: 2})); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	claimOutbox(t, store)

	env := resultEnvelope(t, "evt-2", domain.EventReservationReleaseRequested, domain.ReservationResult{
		OrderID: "order-1",
		Reason:  "card declined",
	})
	if err := handler.HandleRelease(ctx, env); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if res := reservationByOrder(t, store); res.Status != domain.ReservationStatusReleased {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if got := stockLevel(t, store, "sku-1"); got != 5 {
		t.Fatalf("stock must be restored, got %d", got)
	}

	emitted := claimOutbox(t, store)
	if len(emitted) != 1 || emitted[0].EventType != domain.EventReservationReleaseSucceeded {
		t.Fatalf("expected reservation.release.succeeded, got %+v", emitted)
	}

	// Причина из команды возвращается в подтверждении.
	var result domain.ReservationResult
	if err := json.Unmarshal(emitted[0].Payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Reason != "card declined" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}

	// Повторный release — no-op, сток не возвращается дважды.
	if err := handler.HandleRelease(ctx, env); err != nil {
		t.Fatalf("repeated release failed: %v", err)
	}
	if got := stockLevel(t, store, "sku-1"); got != 5 {
		t.Fatalf("stock must not be restored twice, got %d", got)
	}
}

func TestSetStock_Validation(t *testing.T) {
	handler, store := newInventoryFixture(t, nil)
	ctx := context.Background()

	if err := handler.SetStock(ctx, "", 5); !errors.Is(err, domain.ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for empty sku, got %v", err)
	}
	if err := handler.SetStock(ctx, "sku-1", -1); !errors.Is(err, domain.ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for negative qty, got %v", err)
	}

	if err := handler.SetStock(ctx, "sku-1", 7); err != nil {
		t.Fatalf("set stock failed: %v", err)
	}
	if got := stockLevel(t, store, "sku-1"); got != 7 {
		t.Fatalf("unexpected stock level: %d", got)
	}
}

func TestAdjustStock(t *testing.T) {
	handler, _ := newInventoryFixture(t, map[string]int32{"sku-1": 5})
	ctx := context.Background()

	item, err := handler.AdjustStock(ctx, "sku-1", 3)
	if err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	if item.OnHand != 8 {
		t.Fatalf("want 8, got %d", item.OnHand)
	}

	item, err = handler.AdjustStock(ctx, "sku-1", -2)
	if err != nil {
		t.Fatalf("decrease failed: %v", err)
	}
	if item.OnHand != 6 {
		t.Fatalf("want 6, got %d", item.OnHand)
	}

	if _, err := handler.AdjustStock(ctx, "sku-1", -100); !domain.IsInsufficientInventory(err) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	if _, err := handler.AdjustStock(ctx, "sku-missing", 1); !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
}

func TestGetStock(t *testing.T) {
	handler, _ := newInventoryFixture(t, map[string]int32{"sku-1": 5})

	item, err := handler.GetStock(context.Background(), "sku-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.OnHand != 5 {
		t.Fatalf("want 5, got %d", item.OnHand)
	}

	if _, err := handler.GetStock(context.Background(), "missing"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
}
