// Package order реализует use case'ы сервиса заказов.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// PlaceOrderItem — одна позиция команды размещения заказа.
type PlaceOrderItem struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

// PlaceOrderCommand — вход use case размещения заказа.
type PlaceOrderCommand struct {
	CustomerID string           `json:"customer_id"`
	Currency   string           `json:"currency"`
	Items      []PlaceOrderItem `json:"items"`
}

// Service — use case'ы заказов: размещение, чтение, аудит.
type Service struct {
	uow     domain.UnitOfWork
	prices  domain.PriceLookup
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewService создаёт сервис заказов. metrics может быть nil (тесты).
func NewService(uow domain.UnitOfWork, prices domain.PriceLookup, logger *log.Entry, m *metrics.SagaMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	return &Service{uow: uow, prices: prices, logger: logger, metrics: m}
}

// PlaceOrder валидирует команду, снимает цены и атомарно создаёт заказ,
// сагу и первую команду саги в outbox.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	if err := validateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	// Снимаем цены до открытия транзакции: lookup ходит по сети и не должен
	// удерживать транзакцию или попадать в критический путь саги.
	productIDs := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	snapshots, err := s.prices.GetPriceSnapshots(ctx, productIDs)
	if err != nil {
		return domain.Order{}, fmt.Errorf("price lookup failed: %w", err)
	}
	priceByProduct := make(map[string]domain.PriceSnapshot, len(snapshots))
	for _, snap := range snapshots {
		priceByProduct[snap.ProductID] = snap
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.NewString(),
		CustomerID: cmd.CustomerID,
		Status:     domain.OrderStatusPending,
		Currency:   cmd.Currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	lines := make([]domain.ReservationLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		snap, ok := priceByProduct[item.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("product %s is not available: %w", item.ProductID, domain.ErrInvalidCommand)
		}
		if snap.Currency != cmd.Currency {
			return domain.Order{}, fmt.Errorf("product %s is priced in %s, not %s: %w",
				item.ProductID, snap.Currency, cmd.Currency, domain.ErrInvalidCommand)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			SKU:        item.ProductID,
			Qty:        item.Qty,
			PriceMinor: snap.PriceMinor,
			CreatedAt:  now,
		})
		order.AmountMinor += int64(item.Qty) * snap.PriceMinor
		lines = append(lines, domain.ReservationLine{SKU: item.ProductID, Qty: item.Qty})
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("%v: %w", errs[0], domain.ErrInvalidCommand)
	}

	err = s.uow.Do(ctx, func(tx domain.Repositories) error {
		if err := tx.Orders().Create(order); err != nil {
			return err
		}
		if err := tx.Sagas().Create(domain.OrderSaga{
			OrderID:     order.ID,
			CurrentStep: domain.SagaStepAwaitingReservation,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		if err := enqueue(tx, order.ID, domain.EventReservationCreateRequested, domain.ReservationRequest{
			OrderID: order.ID,
			Lines:   lines,
		}); err != nil {
			return err
		}
		if err := enqueue(tx, order.ID, domain.EventOrderCreated, domain.OrderLifecycle{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     string(order.Status),
		}); err != nil {
			return err
		}
		return tx.Timeline().Append(domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderPlaced",
			Occurred: now,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordSagaStarted()
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"amount":      order.AmountMinor,
	}).Info("order placed")
	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		order, getErr = tx.Orders().Get(id)
		return getErr
	})
	return order, err
}

// ListByCustomer возвращает заказы клиента, свежие первыми.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		var listErr error
		orders, listErr = tx.Orders().ListByCustomer(customerID, limit)
		return listErr
	})
	return orders, err
}

// Timeline возвращает журнал жизненного цикла заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		var listErr error
		events, listErr = tx.Timeline().List(orderID)
		return listErr
	})
	return events, err
}

func validateCommand(cmd PlaceOrderCommand) error {
	switch {
	case cmd.CustomerID == "":
		return fmt.Errorf("%v: %w", domain.ErrCustomerRequired, domain.ErrInvalidCommand)
	case cmd.Currency == "":
		return fmt.Errorf("%v: %w", domain.ErrCurrencyRequired, domain.ErrInvalidCommand)
	case len(cmd.Items) == 0:
		return fmt.Errorf("%v: %w", domain.ErrItemsRequired, domain.ErrInvalidCommand)
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" {
			return fmt.Errorf("product_id is required: %w", domain.ErrInvalidCommand)
		}
		if item.Qty <= 0 {
			return fmt.Errorf("%v: %w", domain.ErrItemQtyInvalid, domain.ErrInvalidCommand)
		}
	}
	return nil
}

func enqueue(tx domain.Repositories, orderID string, eventType domain.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	})
	return err
}
