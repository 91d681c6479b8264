package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOrderSagaAdvance(t *testing.T) {
	saga := domain.OrderSaga{
		OrderID:     "order-1",
		CurrentStep: domain.SagaStepAwaitingReservation,
	}

	saga.Advance(domain.SagaStepAwaitingPayment, "evt-1")
	if saga.CurrentStep != domain.SagaStepAwaitingPayment {
		t.Fatalf("unexpected step: %s", saga.CurrentStep)
	}
	if saga.LastEventID != "evt-1" {
		t.Fatalf("unexpected last event id: %s", saga.LastEventID)
	}
	if saga.Done() {
		t.Fatal("saga must not be done yet")
	}

	saga.Advance(domain.SagaStepDone, "evt-2")
	if !saga.Done() {
		t.Fatal("saga must be done")
	}
}
