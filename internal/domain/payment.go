package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusInitiated — платёж создан, провайдер ещё не ответил.
	PaymentStatusInitiated PaymentStatus = "initiated"
	// PaymentStatusApproved — провайдер подтвердил списание; терминальный статус.
	PaymentStatusApproved PaymentStatus = "approved"
	// PaymentStatusFailed — провайдер отклонил платёж или истёк таймаут; терминальный статус.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — платёж отменён до ответа провайдера; терминальный статус.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment описывает платёж, связанный с заказом. Возврата в initiated из
// терминальных статусов нет.
type Payment struct {
	ID          string
	OrderID     string
	Provider    string
	ExternalID  string // Может быть пустым, если провайдер не возвращает идентификатор.
	Status      PaymentStatus
	AmountMinor int64
	Currency    string
	Reason      string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Payment) transition(to PaymentStatus) error {
	if p.Status != PaymentStatusInitiated {
		return &InvalidTransitionError{
			AggregateType: "payment",
			AggregateID:   p.ID,
			From:          string(p.Status),
			To:            string(to),
		}
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Approve переводит платёж initiated -> approved.
func (p *Payment) Approve(externalID string) error {
	if err := p.transition(PaymentStatusApproved); err != nil {
		return err
	}
	p.ExternalID = externalID
	return nil
}

// Fail переводит платёж initiated -> failed с причиной отказа.
func (p *Payment) Fail(reason string) error {
	if err := p.transition(PaymentStatusFailed); err != nil {
		return err
	}
	p.Reason = reason
	return nil
}

// Cancel переводит платёж initiated -> cancelled.
func (p *Payment) Cancel() error {
	return p.transition(PaymentStatusCancelled)
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}
