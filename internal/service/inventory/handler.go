// Package inventory реализует складской контекст: резервы под заказы
// и административные операции над стоком.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Handler обрабатывает команды резервирования. Вместе с inbox guard даёт
// идемпотентность: существование резерва означает, что ответное событие уже
// лежит в outbox той же транзакции.
type Handler struct {
	uow    domain.UnitOfWork
	logger *log.Entry
}

// NewHandler создаёт обработчик складских команд.
func NewHandler(uow domain.UnitOfWork, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	return &Handler{uow: uow, logger: logger}
}

// HandleReserve обрабатывает reservation.create.requested: списывает сток по
// всем позициям атомарно и создаёт активный резерв. Нехватка хотя бы одной
// позиции откатывает списания целиком и отвечает отказом с причиной.
func (h *Handler) HandleReserve(ctx context.Context, env domain.EventEnvelope) error {
	var req domain.ReservationRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("decode reservation request: %w", err)
	}

	err := h.uow.Do(ctx, func(tx domain.Repositories) error {
		if _, getErr := tx.Reservations().GetByOrder(req.OrderID); getErr == nil {
			// Резерв уже создан предыдущей доставкой, ответ уже в outbox.
			return nil
		} else if !errors.Is(getErr, domain.ErrReservationNotFound) {
			return getErr
		}

		for _, line := range req.Lines {
			item, getErr := tx.Stock().Get(line.SKU)
			if getErr != nil {
				if errors.Is(getErr, domain.ErrStockNotFound) {
					return &domain.InsufficientInventoryError{SKU: line.SKU, Requested: line.Qty, Available: 0}
				}
				return getErr
			}
			if decErr := item.Decrease(line.Qty); decErr != nil {
				return decErr
			}
			if saveErr := tx.Stock().Save(item); saveErr != nil {
				return saveErr
			}
		}

		now := time.Now().UTC()
		res := domain.Reservation{
			ID:        uuid.NewString(),
			OrderID:   req.OrderID,
			Lines:     req.Lines,
			Status:    domain.ReservationStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errs := res.Validate(); len(errs) > 0 {
			return fmt.Errorf("%v: %w", errs[0], domain.ErrInvalidCommand)
		}
		if createErr := tx.Reservations().Create(res); createErr != nil {
			return createErr
		}
		return h.emit(tx, req.OrderID, domain.EventReservationCreateSucceeded, domain.ReservationResult{
			OrderID:       req.OrderID,
			ReservationID: res.ID,
		})
	})

	if domain.IsInsufficientInventory(err) {
		// Списания откатились вместе с транзакцией; отказ фиксируется отдельно.
		h.logger.WithFields(log.Fields{
			"order_id": req.OrderID,
			"cause":    err.Error(),
		}).Warn("reservation rejected, insufficient stock")
		reason := err.Error()
		return h.uow.Do(ctx, func(tx domain.Repositories) error {
			return h.emit(tx, req.OrderID, domain.EventReservationCreateFailed, domain.ReservationResult{
				OrderID: req.OrderID,
				Reason:  reason,
			})
		})
	}
	return err
}

// HandleConfirm обрабатывает reservation.confirm.requested: резерв
// финализируется, списанный сток остаётся списанным. Если экспайрер успел
// снять резерв раньше, подтверждать нечего — наружу уходит отказ с причиной.
func (h *Handler) HandleConfirm(ctx context.Context, env domain.EventEnvelope) error {
	var req domain.ReservationRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("decode confirm request: %w", err)
	}

	return h.uow.Do(ctx, func(tx domain.Repositories) error {
		res, err := tx.Reservations().GetByOrder(req.OrderID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationStatusConfirmed:
			return nil
		case domain.ReservationStatusExpired, domain.ReservationStatusReleased:
			h.logger.WithFields(log.Fields{
				"order_id":       req.OrderID,
				"reservation_id": res.ID,
				"status":         res.Status,
			}).Warn("confirm arrived after reservation was taken down")
			return h.emit(tx, req.OrderID, domain.EventReservationConfirmFailed, domain.ReservationResult{
				OrderID:       req.OrderID,
				ReservationID: res.ID,
				Reason:        fmt.Sprintf("reservation %s before confirmation", res.Status),
			})
		}
		if err := res.Confirm(); err != nil {
			return err
		}
		if err := tx.Reservations().Save(res); err != nil {
			return err
		}
		return h.emit(tx, req.OrderID, domain.EventReservationConfirmSucceeded, domain.ReservationResult{
			OrderID:       req.OrderID,
			ReservationID: res.ID,
		})
	})
}

// HandleRelease обрабатывает reservation.release.requested (компенсация):
// сток возвращается, резерв снимается. Причина отказа из команды echo'ится в
// подтверждении, чтобы доехать до отмены заказа.
func (h *Handler) HandleRelease(ctx context.Context, env domain.EventEnvelope) error {
	var req domain.ReservationResult
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("decode release request: %w", err)
	}

	return h.uow.Do(ctx, func(tx domain.Repositories) error {
		res, err := tx.Reservations().GetByOrder(req.OrderID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationStatusReleased:
			return nil
		case domain.ReservationStatusExpired:
			// Экспайрер уже вернул сток; сагу всё равно нужно довести до конца.
			return h.emit(tx, req.OrderID, domain.EventReservationReleaseSucceeded, domain.ReservationResult{
				OrderID:       req.OrderID,
				ReservationID: res.ID,
				Reason:        req.Reason,
			})
		}
		if err := res.Release(); err != nil {
			return err
		}
		if err := restock(tx, res.Lines); err != nil {
			return err
		}
		if err := tx.Reservations().Save(res); err != nil {
			return err
		}
		return h.emit(tx, req.OrderID, domain.EventReservationReleaseSucceeded, domain.ReservationResult{
			OrderID:       req.OrderID,
			ReservationID: res.ID,
			Reason:        req.Reason,
		})
	})
}

// SetStock создаёт или перезаписывает позицию стока (административная операция).
func (h *Handler) SetStock(ctx context.Context, sku string, onHand int32) error {
	if sku == "" {
		return fmt.Errorf("sku is required: %w", domain.ErrInvalidCommand)
	}
	if onHand < 0 {
		return fmt.Errorf("%v: %w", domain.ErrItemQtyInvalid, domain.ErrInvalidCommand)
	}
	return h.uow.Do(ctx, func(tx domain.Repositories) error {
		return tx.Stock().Upsert(domain.StockItem{
			SKU:       sku,
			OnHand:    onHand,
			UpdatedAt: time.Now().UTC(),
		})
	})
}

// AdjustStock изменяет доступное количество на delta (может быть отрицательным).
func (h *Handler) AdjustStock(ctx context.Context, sku string, delta int32) (domain.StockItem, error) {
	var item domain.StockItem
	err := h.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		item, getErr = tx.Stock().Get(sku)
		if getErr != nil {
			return getErr
		}
		var opErr error
		if delta >= 0 {
			opErr = item.Increase(delta)
		} else {
			opErr = item.Decrease(-delta)
		}
		if opErr != nil {
			return opErr
		}
		return tx.Stock().Save(item)
	})
	return item, err
}

// GetStock возвращает позицию стока по SKU.
func (h *Handler) GetStock(ctx context.Context, sku string) (domain.StockItem, error) {
	var item domain.StockItem
	err := h.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		item, getErr = tx.Stock().Get(sku)
		return getErr
	})
	return item, err
}

func restock(tx domain.Repositories, lines []domain.ReservationLine) error {
	for _, line := range lines {
		item, err := tx.Stock().Get(line.SKU)
		if err != nil {
			return err
		}
		if err := item.Increase(line.Qty); err != nil {
			return err
		}
		if err := tx.Stock().Save(item); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) emit(tx domain.Repositories, orderID string, eventType domain.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "reservation",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	})
	return err
}
