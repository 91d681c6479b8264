package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх данных транзакции.
type orderRepository struct {
	d *data
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(order domain.Order) error {
	if _, exists := r.d.orders[order.ID]; exists {
		return domain.ErrAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.d.orders[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(id string) (domain.Order, error) {
	order, ok := r.d.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(r.d.orders))
	for _, order := range r.d.orders {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(order domain.Order) error {
	current, ok := r.d.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.d.orders[order.ID] = cloneOrder(order)
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
