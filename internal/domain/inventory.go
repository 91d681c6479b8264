package domain

import "time"

// StockItem хранит доступное количество по SKU.
type StockItem struct {
	SKU       string
	OnHand    int32
	Version   int64
	UpdatedAt time.Time
}

// Increase увеличивает доступное количество. Операнд должен быть строго положительным.
func (s *StockItem) Increase(qty int32) error {
	if qty <= 0 {
		return ErrQtyNotPositive
	}
	s.OnHand += qty
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Decrease уменьшает доступное количество. Требует qty > 0 и достаточного остатка.
func (s *StockItem) Decrease(qty int32) error {
	if qty <= 0 {
		return ErrQtyNotPositive
	}
	if s.OnHand < qty {
		return &InsufficientInventoryError{
			SKU:       s.SKU,
			Requested: qty,
			Available: s.OnHand,
		}
	}
	s.OnHand -= qty
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// ReservationStatus отражает статус резервирования товара под заказ.
type ReservationStatus string

const (
	// ReservationStatusActive — сток списан, резерв удерживается до подтверждения или снятия.
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusConfirmed — резерв финализирован после успешной оплаты; терминальный статус.
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	// ReservationStatusReleased — резерв снят (компенсация); терминальный статус.
	ReservationStatusReleased ReservationStatus = "released"
	// ReservationStatusExpired — резерв истёк по TTL без подтверждения; терминальный статус.
	ReservationStatusExpired ReservationStatus = "expired"
)

// Reservation описывает удержание стока под конкретный заказ.
type Reservation struct {
	ID        string
	OrderID   string
	Lines     []ReservationLine
	Status    ReservationStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Reservation) transition(to ReservationStatus) error {
	if r.Status != ReservationStatusActive {
		return &InvalidTransitionError{
			AggregateType: "reservation",
			AggregateID:   r.ID,
			From:          string(r.Status),
			To:            string(to),
		}
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Confirm переводит резерв active -> confirmed.
func (r *Reservation) Confirm() error {
	return r.transition(ReservationStatusConfirmed)
}

// Release переводит резерв active -> released.
func (r *Reservation) Release() error {
	return r.transition(ReservationStatusReleased)
}

// Expire переводит резерв active -> expired.
func (r *Reservation) Expire() error {
	return r.transition(ReservationStatusExpired)
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(r.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, line := range r.Lines {
		if line.SKU == "" {
			errs = append(errs, ErrStockNotFound)
		}
		if line.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}

	return errs
}
