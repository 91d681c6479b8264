package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, распределённое выполнение ещё идёт.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted — резерв подтверждён и оплата прошла; терминальный статус.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён (отказ склада, отказ оплаты или компенсация); терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// SKU — внешний идентификатор товара.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, копейки).
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции. Статус меняется только
// через переходы Complete/Cancel; Version инкрементируется репозиторием при
// каждом сохранении (optimistic locking).
type Order struct {
	ID           string
	CustomerID   string
	Status       OrderStatus
	Currency     string
	AmountMinor  int64
	Items        []OrderItem
	CancelReason string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Complete переводит заказ pending -> completed.
func (o *Order) Complete() error {
	if o.Status != OrderStatusPending {
		return &InvalidTransitionError{
			AggregateType: "order",
			AggregateID:   o.ID,
			From:          string(o.Status),
			To:            string(OrderStatusCompleted),
		}
	}
	o.Status = OrderStatusCompleted
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel переводит заказ pending -> cancelled и сохраняет причину отмены.
func (o *Order) Cancel(reason string) error {
	if o.Status != OrderStatusPending {
		return &InvalidTransitionError{
			AggregateType: "order",
			AggregateID:   o.ID,
			From:          string(o.Status),
			To:            string(OrderStatusCancelled),
		}
	}
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Terminal сообщает, достиг ли заказ конечного статуса.
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
