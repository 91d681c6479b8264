package domain

import "encoding/json"

// EventType дискриминирует форму payload доставленного события.
type EventType string

const (
	// Команды складу.
	EventReservationCreateRequested  EventType = "reservation.create.requested"
	EventReservationConfirmRequested EventType = "reservation.confirm.requested"
	EventReservationReleaseRequested EventType = "reservation.release.requested"

	// Ответы склада.
	EventReservationCreateSucceeded  EventType = "reservation.create.succeeded"
	EventReservationCreateFailed     EventType = "reservation.create.failed"
	EventReservationConfirmSucceeded EventType = "reservation.confirm.succeeded"
	EventReservationConfirmFailed    EventType = "reservation.confirm.failed"
	EventReservationReleaseSucceeded EventType = "reservation.release.succeeded"
	EventReservationExpired          EventType = "reservation.expired"

	// Команда платёжному сервису и его ответы.
	EventPaymentCreateRequested EventType = "payment.create.requested"
	EventPaymentCreateSucceeded EventType = "payment.create.succeeded"
	EventPaymentCreateFailed    EventType = "payment.create.failed"

	// Жизненный цикл заказа (наружу, сагой не потребляются).
	EventOrderCreated   EventType = "order.created"
	EventOrderCompleted EventType = "order.completed"
	EventOrderCancelled EventType = "order.cancelled"

	// События каталога.
	EventProductUpdated EventType = "product.updated"
	EventProductDeleted EventType = "product.deleted"

	// EventDeadLetter — конверт, перенаправленный в DLQ после исчерпания повторов.
	EventDeadLetter EventType = "dead.letter"
)

// EventEnvelope — конверт доставленного события. EventID уникален и служит
// ключом дедупликации в inbox; AggregateID коррелирует событие с агрегатом.
type EventEnvelope struct {
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   EventType       `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
}

// ReservationLine — одна позиция запроса на резервирование.
type ReservationLine struct {
	SKU string `json:"sku"`
	Qty int32  `json:"qty"`
}

// ReservationRequest — payload команды создания/подтверждения/снятия резерва.
type ReservationRequest struct {
	OrderID string            `json:"order_id"`
	Lines   []ReservationLine `json:"lines,omitempty"`
}

// ReservationResult — payload ответа склада.
type ReservationResult struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentRequest — payload команды на списание средств.
type PaymentRequest struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// PaymentResult — payload ответа платёжного сервиса.
type PaymentResult struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// OrderLifecycle — payload событий жизненного цикла заказа.
type OrderLifecycle struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}
