package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func makeReservation() domain.Reservation {
	now := time.Now().UTC()
	return domain.Reservation{
		ID:      "res-1",
		OrderID: "order-1",
		Lines: []domain.ReservationLine{
			{SKU: "sku-1", Qty: 2},
		},
		Status:    domain.ReservationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStockItemIncrease(t *testing.T) {
	item := domain.StockItem{SKU: "sku-1", OnHand: 3}
	if err := item.Increase(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.OnHand != 5 {
		t.Fatalf("unexpected on_hand: %d", item.OnHand)
	}

	if err := item.Increase(0); !errors.Is(err, domain.ErrQtyNotPositive) {
		t.Fatalf("expected ErrQtyNotPositive, got %v", err)
	}
	if item.OnHand != 5 {
		t.Fatalf("rejected operation must not change on_hand: %d", item.OnHand)
	}
}

func TestStockItemDecrease(t *testing.T) {
	item := domain.StockItem{SKU: "sku-1", OnHand: 3}
	if err := item.Decrease(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.OnHand != 1 {
		t.Fatalf("unexpected on_hand: %d", item.OnHand)
	}

	err := item.Decrease(5)
	if !domain.IsInsufficientInventory(err) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	// Ошибка несёт запрошенное и доступное количество.
	var insufficient *domain.InsufficientInventoryError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientInventoryError, got %T", err)
	}
	if insufficient.Requested != 5 || insufficient.Available != 1 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
	if item.OnHand != 1 {
		t.Fatalf("rejected operation must not change on_hand: %d", item.OnHand)
	}

	if err := item.Decrease(-1); !errors.Is(err, domain.ErrQtyNotPositive) {
		t.Fatalf("expected ErrQtyNotPositive, got %v", err)
	}
}

func TestReservationTransitions(t *testing.T) {
	cases := []struct {
		name       string
		transition func(r *domain.Reservation) error
		want       domain.ReservationStatus
	}{
		{name: "confirm", transition: (*domain.Reservation).Confirm, want: domain.ReservationStatusConfirmed},
		{name: "release", transition: (*domain.Reservation).Release, want: domain.ReservationStatusReleased},
		{name: "expire", transition: (*domain.Reservation).Expire, want: domain.ReservationStatusExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := makeReservation()
			if err := tc.transition(&res); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tc.want {
				t.Fatalf("unexpected status: %s", res.Status)
			}

			// Все терминальные статусы резерва не допускают дальнейших переходов.
			if err := res.Confirm(); !domain.IsInvalidTransition(err) {
				t.Fatalf("expected invalid transition from %s, got %v", res.Status, err)
			}
			if res.Status != tc.want {
				t.Fatalf("status must be unchanged after rejected transition: %s", res.Status)
			}
		})
	}
}

func TestReservationValidate(t *testing.T) {
	res := makeReservation()
	if errs := res.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}

	res.OrderID = ""
	res.Lines = []domain.ReservationLine{{SKU: "", Qty: 0}}
	if errs := res.Validate(); len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %v", errs)
	}
}
