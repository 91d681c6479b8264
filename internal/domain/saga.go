package domain

import "time"

// SagaStep описывает текущий шаг распределённого выполнения заказа.
type SagaStep string

const (
	// SagaStepAwaitingReservation — команда на резерв отправлена, ждём ответ склада.
	SagaStepAwaitingReservation SagaStep = "awaiting_reservation"
	// SagaStepAwaitingPayment — резерв создан, ждём ответ платёжного сервиса.
	SagaStepAwaitingPayment SagaStep = "awaiting_payment"
	// SagaStepConfirming — оплата прошла, ждём подтверждение резерва.
	SagaStepConfirming SagaStep = "confirming"
	// SagaStepCompensating — оплата не прошла, ждём снятие резерва.
	SagaStepCompensating SagaStep = "compensating"
	// SagaStepDone — сага достигла конечного исхода; дальнейшие события — дубликаты.
	SagaStepDone SagaStep = "done"
)

// OrderSaga — запись один-к-одному с заказом: аудит распределённого выполнения.
// Мутируется только координатором саги и никогда не удаляется.
type OrderSaga struct {
	OrderID             string
	CurrentStep         SagaStep
	CompensationPending bool
	LastEventID         string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Done сообщает, завершена ли сага.
func (s *OrderSaga) Done() bool {
	return s.CurrentStep == SagaStepDone
}

// Advance переводит сагу на следующий шаг и запоминает событие, которое его вызвало.
func (s *OrderSaga) Advance(step SagaStep, eventID string) {
	s.CurrentStep = step
	s.LastEventID = eventID
	s.UpdatedAt = time.Now().UTC()
}
