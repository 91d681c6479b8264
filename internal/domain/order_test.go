package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		AmountMinor: 500,
		Items: []domain.OrderItem{
			{
				ID:         "item-1",
				SKU:        "sku-1",
				Qty:        5,
				PriceMinor: 100,
				CreatedAt:  now,
			},
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
		},
		{
			name: "no currency",
			mut: func(o *domain.Order) {
				o.Currency = ""
			},
		},
		{
			name: "negative amount",
			mut: func(o *domain.Order) {
				o.AmountMinor = -1
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Qty = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].PriceMinor = -5
			},
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.AmountMinor = 999
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			// Изменяем состояние согласно сценарию.
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderComplete(t *testing.T) {
	order := makeOrder()
	if err := order.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected status: %s", order.Status)
	}
	if !order.Terminal() {
		t.Fatal("completed order must be terminal")
	}

	// Повторное завершение отклоняется, статус не меняется.
	if err := order.Complete(); !domain.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("status must be unchanged after rejected transition: %s", order.Status)
	}
}

func TestOrderCancel(t *testing.T) {
	order := makeOrder()
	if err := order.Cancel("payment declined"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected status: %s", order.Status)
	}
	if order.CancelReason != "payment declined" {
		t.Fatalf("unexpected cancel reason: %q", order.CancelReason)
	}

	if err := order.Cancel("again"); !domain.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if order.CancelReason != "payment declined" {
		t.Fatalf("rejected transition must not overwrite reason: %q", order.CancelReason)
	}
}

func TestOrderCancelAfterComplete(t *testing.T) {
	order := makeOrder()
	if err := order.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := order.Cancel("too late"); !domain.IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
