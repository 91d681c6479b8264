package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора заказа в платежах/резервах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrReservationNotFound возвращается, если резерв не найден.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrStockNotFound возвращается, если SKU отсутствует на складе.
	ErrStockNotFound = errors.New("stock item not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrSagaNotFound возвращается, если сага для заказа не найдена.
	ErrSagaNotFound = errors.New("order saga not found")
	// ErrOutboxNotFound возвращается, если запись outbox не найдена.
	ErrOutboxNotFound = errors.New("outbox message not found")
	// ErrInboxNotFound возвращается, если запись inbox не найдена.
	ErrInboxNotFound = errors.New("inbox record not found")
	// ErrAlreadyExists сигнализирует о попытке создать запись с занятым ID.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении
	// (optimistic locking): вызывающая сторона обязана перечитать агрегат
	// и повторить попытку.
	ErrVersionConflict = errors.New("aggregate version conflict")
	// ErrInvalidTransition — попытка перевода агрегата в статус вне допустимого графа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidCommand — некорректный вход use case, поднимается вызывающей стороне.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrInsufficientInventory — бизнес-ошибка склада: запрошено больше, чем доступно.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrQtyNotPositive — операнд изменения количества должен быть строго положительным.
	ErrQtyNotPositive = errors.New("qty must be greater than zero")
	// ErrPublishFailed — ошибка публикации сообщения из outbox в транспорт.
	ErrPublishFailed = errors.New("message publish failed")
	// ErrUnroutableEvent — для доставленного типа события не зарегистрирован обработчик.
	ErrUnroutableEvent = errors.New("no handler registered for event type")
	// ErrUnexpectedSagaEvent — событие не согласуется с текущим шагом саги.
	ErrUnexpectedSagaEvent = errors.New("event does not match current saga step")
)

// InvalidTransitionError описывает отклонённый переход статуса с контекстом
// для диагностики: тип и ID агрегата плюс пара (from, to).
type InvalidTransitionError struct {
	AggregateType string
	AggregateID   string
	From          string
	To            string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid transition %s -> %s", e.AggregateType, e.AggregateID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// InsufficientInventoryError несёт запрошенное и доступное количество для диагностики.
type InsufficientInventoryError struct {
	SKU       string
	Requested int32
	Available int32
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for sku %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// UnroutableEventError фиксирует событие без обработчика — признак рассинхронизации версий.
type UnroutableEventError struct {
	EventID   string
	EventType EventType
}

func (e *UnroutableEventError) Error() string {
	return fmt.Sprintf("unroutable event %s of type %s", e.EventID, e.EventType)
}

func (e *UnroutableEventError) Unwrap() error {
	return ErrUnroutableEvent
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInvalidTransition проверяет, является ли ошибка отклонённым переходом статуса.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsInsufficientInventory проверяет, является ли ошибка нехваткой стока.
func IsInsufficientInventory(err error) bool {
	return errors.Is(err, ErrInsufficientInventory)
}
