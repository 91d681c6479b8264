package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// stockRepository — in-memory реализация StockRepository.
type stockRepository struct {
	d *data
}

func (r *stockRepository) Upsert(item domain.StockItem) error {
	if item.SKU == "" {
		return domain.ErrStockNotFound
	}
	if current, ok := r.d.stock[item.SKU]; ok {
		item.Version = current.Version + 1
	}
	item.UpdatedAt = time.Now().UTC()
	r.d.stock[item.SKU] = item
	return nil
}

func (r *stockRepository) Get(sku string) (domain.StockItem, error) {
	item, ok := r.d.stock[sku]
	if !ok {
		return domain.StockItem{}, domain.ErrStockNotFound
	}
	return item, nil
}

func (r *stockRepository) Save(item domain.StockItem) error {
	current, ok := r.d.stock[item.SKU]
	if !ok {
		return domain.ErrStockNotFound
	}
	if current.Version != item.Version {
		return domain.ErrVersionConflict
	}
	item.Version++
	r.d.stock[item.SKU] = item
	return nil
}

var _ domain.StockRepository = (*stockRepository)(nil)

// reservationRepository — in-memory реализация ReservationRepository.
type reservationRepository struct {
	d *data
}

func cloneReservation(res domain.Reservation) domain.Reservation {
	res.Lines = append([]domain.ReservationLine(nil), res.Lines...)
	return res
}

func (r *reservationRepository) Create(res domain.Reservation) error {
	if _, exists := r.d.reservations[res.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if _, exists := r.d.reservationByOrder[res.OrderID]; exists {
		return domain.ErrAlreadyExists
	}
	r.d.reservations[res.ID] = cloneReservation(res)
	r.d.reservationByOrder[res.OrderID] = res.ID
	return nil
}

func (r *reservationRepository) Get(id string) (domain.Reservation, error) {
	res, ok := r.d.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return cloneReservation(res), nil
}

func (r *reservationRepository) GetByOrder(orderID string) (domain.Reservation, error) {
	id, ok := r.d.reservationByOrder[orderID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r.Get(id)
}

func (r *reservationRepository) ListActiveBefore(cutoff time.Time, limit int) ([]domain.Reservation, error) {
	result := make([]domain.Reservation, 0)
	for _, res := range r.d.reservations {
		if res.Status != domain.ReservationStatusActive {
			continue
		}
		if !res.CreatedAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneReservation(res))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *reservationRepository) Save(res domain.Reservation) error {
	current, ok := r.d.reservations[res.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if current.Version != res.Version {
		return domain.ErrVersionConflict
	}
	res.Version++
	r.d.reservations[res.ID] = cloneReservation(res)
	return nil
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
