package memory

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// productRepository — in-memory реализация ProductRepository.
type productRepository struct {
	d *data
}

func (r *productRepository) Create(product domain.Product) error {
	if _, exists := r.d.products[product.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.d.products[product.ID] = product
	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	product, ok := r.d.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepository) Save(product domain.Product) error {
	current, ok := r.d.products[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}
	product.Version++
	r.d.products[product.ID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)

// sagaRepository — in-memory реализация SagaRepository.
type sagaRepository struct {
	d *data
}

func (r *sagaRepository) Create(saga domain.OrderSaga) error {
	if _, exists := r.d.sagas[saga.OrderID]; exists {
		return domain.ErrAlreadyExists
	}
	r.d.sagas[saga.OrderID] = saga
	return nil
}

func (r *sagaRepository) Get(orderID string) (domain.OrderSaga, error) {
	saga, ok := r.d.sagas[orderID]
	if !ok {
		return domain.OrderSaga{}, domain.ErrSagaNotFound
	}
	return saga, nil
}

func (r *sagaRepository) Save(saga domain.OrderSaga) error {
	current, ok := r.d.sagas[saga.OrderID]
	if !ok {
		return domain.ErrSagaNotFound
	}
	if current.Version != saga.Version {
		return domain.ErrVersionConflict
	}
	saga.Version++
	r.d.sagas[saga.OrderID] = saga
	return nil
}

var _ domain.SagaRepository = (*sagaRepository)(nil)

// timelineRepository — in-memory реализация TimelineRepository.
type timelineRepository struct {
	d *data
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	r.d.timeline[event.OrderID] = append(r.d.timeline[event.OrderID], event)
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	events := r.d.timeline[orderID]
	return append([]domain.TimelineEvent(nil), events...), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
