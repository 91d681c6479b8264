package memory

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// paymentRepository — in-memory реализация PaymentRepository.
type paymentRepository struct {
	d *data
}

func (r *paymentRepository) Create(payment domain.Payment) error {
	if _, exists := r.d.payments[payment.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if _, exists := r.d.paymentByOrder[payment.OrderID]; exists {
		return domain.ErrAlreadyExists
	}
	r.d.payments[payment.ID] = payment
	r.d.paymentByOrder[payment.OrderID] = payment.ID
	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	payment, ok := r.d.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *paymentRepository) GetByOrder(orderID string) (domain.Payment, error) {
	id, ok := r.d.paymentByOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.Get(id)
}

func (r *paymentRepository) Save(payment domain.Payment) error {
	current, ok := r.d.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	r.d.payments[payment.ID] = payment
	return nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
