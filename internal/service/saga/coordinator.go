// Package saga реализует координатор распределённого выполнения заказа:
// резерв -> оплата -> подтверждение, с компенсацией при отказе оплаты.
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	maxRetries = 3
	baseDelay  = 10 * time.Millisecond
)

// Coordinator решает, какое исходящее событие эмитить в ответ на входящее,
// исходя из текущего шага саги. Переходы защищены шагом: событие, не
// согласующееся с ним, отклоняется как протокольная ошибка, а всё пришедшее
// после завершения — поздний дубликат.
type Coordinator struct {
	uow     domain.UnitOfWork
	logger  *log.Entry
	metrics *metrics.SagaMetrics
}

// NewCoordinator создаёт рабочий экземпляр координатора.
func NewCoordinator(uow domain.UnitOfWork, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "saga")
	}
	return &Coordinator{
		uow:     uow,
		logger:  logger,
		metrics: metrics.NewSagaMetrics(),
	}
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(uow domain.UnitOfWork, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "saga")
	}
	return &Coordinator{uow: uow, logger: logger}
}

// Metrics отдаёт метрики координатора (для регистрации started извне).
func (c *Coordinator) Metrics() *metrics.SagaMetrics {
	return c.metrics
}

// Handle обрабатывает входящее событие саги. Конфликты версий при сохранении
// заказа или саги повторяются с exponential backoff.
func (c *Coordinator) Handle(ctx context.Context, env domain.EventEnvelope) error {
	start := time.Now()
	defer func() {
		c.metrics.RecordStepDuration(string(env.EventType), time.Since(start))
	}()

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.uow.Do(ctx, func(tx domain.Repositories) error {
			return c.apply(tx, env)
		})
		if err == nil {
			return nil
		}
		if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
			c.logger.WithFields(log.Fields{
				"order_id": env.AggregateID,
				"attempt":  attempt + 1,
			}).Warn("version conflict detected, retrying")

			delay := baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return err
	}
	return domain.ErrVersionConflict
}

// apply выполняет один защищённый шагом переход внутри атомарной единицы.
func (c *Coordinator) apply(tx domain.Repositories, env domain.EventEnvelope) error {
	orderID := env.AggregateID
	saga, err := tx.Sagas().Get(orderID)
	if err != nil {
		return fmt.Errorf("load saga for order %s: %w", orderID, err)
	}

	if saga.Done() {
		c.metrics.RecordSagaDuplicate()
		c.logger.WithFields(log.Fields{
			"order_id":   orderID,
			"event_id":   env.EventID,
			"event_type": env.EventType,
		}).Debug("saga already done, late event discarded")
		return nil
	}

	// Повторная доставка уже применённого события: шаг сдвинут, но
	// LastEventID совпадает. Тихо пропускаем вместо протокольной ошибки.
	if env.EventID != "" && saga.LastEventID == env.EventID {
		c.metrics.RecordSagaDuplicate()
		c.logger.WithFields(log.Fields{
			"order_id":   orderID,
			"event_id":   env.EventID,
			"event_type": env.EventType,
		}).Debug("event already applied to saga, redelivery discarded")
		return nil
	}

	switch env.EventType {
	case domain.EventReservationCreateSucceeded:
		return c.onReservationCreated(tx, &saga, env)
	case domain.EventReservationCreateFailed:
		return c.onReservationFailed(tx, &saga, env)
	case domain.EventPaymentCreateSucceeded:
		return c.onPaymentSucceeded(tx, &saga, env)
	case domain.EventPaymentCreateFailed:
		return c.onPaymentFailed(tx, &saga, env)
	case domain.EventReservationConfirmSucceeded:
		return c.onReservationConfirmed(tx, &saga, env)
	case domain.EventReservationConfirmFailed:
		return c.onReservationConfirmFailed(tx, &saga, env)
	case domain.EventReservationReleaseSucceeded:
		return c.onReservationReleased(tx, &saga, env)
	default:
		return c.reject(&saga, env)
	}
}

// reject фиксирует событие, не согласующееся с текущим шагом: это баг или
// доставка вне допустимого порядка, которую дизайн не прощает.
func (c *Coordinator) reject(saga *domain.OrderSaga, env domain.EventEnvelope) error {
	c.metrics.RecordSagaRejected()
	c.logger.WithFields(log.Fields{
		"order_id":   saga.OrderID,
		"step":       saga.CurrentStep,
		"event_id":   env.EventID,
		"event_type": env.EventType,
	}).Error("event inconsistent with saga step")
	return fmt.Errorf("saga for order %s at step %s got %s: %w",
		saga.OrderID, saga.CurrentStep, env.EventType, domain.ErrUnexpectedSagaEvent)
}

func (c *Coordinator) onReservationCreated(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepAwaitingReservation {
		return c.reject(saga, env)
	}

	order, err := tx.Orders().Get(saga.OrderID)
	if err != nil {
		return err
	}

	if err := c.emit(tx, order.ID, domain.EventPaymentCreateRequested, domain.PaymentRequest{
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
	}); err != nil {
		return err
	}

	saga.Advance(domain.SagaStepAwaitingPayment, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	return c.appendTimeline(tx, order.ID, "ReservationCreated", "")
}

func (c *Coordinator) onReservationFailed(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepAwaitingReservation {
		return c.reject(saga, env)
	}

	var result domain.ReservationResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decode reservation result: %w", err)
	}

	// Резерва нет, компенсировать нечего: заказ сразу отменяется.
	if err := c.cancelOrder(tx, saga.OrderID, result.Reason); err != nil {
		return err
	}
	saga.Advance(domain.SagaStepDone, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	c.metrics.RecordSagaCompensated()
	return c.appendTimeline(tx, saga.OrderID, "ReservationFailed", result.Reason)
}

func (c *Coordinator) onPaymentSucceeded(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepAwaitingPayment {
		return c.reject(saga, env)
	}

	if err := c.emit(tx, saga.OrderID, domain.EventReservationConfirmRequested, domain.ReservationRequest{
		OrderID: saga.OrderID,
	}); err != nil {
		return err
	}

	saga.Advance(domain.SagaStepConfirming, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	return c.appendTimeline(tx, saga.OrderID, "PaymentSucceeded", "")
}

func (c *Coordinator) onPaymentFailed(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepAwaitingPayment {
		return c.reject(saga, env)
	}

	var result domain.PaymentResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decode payment result: %w", err)
	}

	// Причина отказа едет в команде release и вернётся в подтверждении,
	// чтобы сохраниться в заказе при отмене.
	if err := c.emit(tx, saga.OrderID, domain.EventReservationReleaseRequested, domain.ReservationResult{
		OrderID: saga.OrderID,
		Reason:  result.Reason,
	}); err != nil {
		return err
	}

	saga.CompensationPending = true
	saga.Advance(domain.SagaStepCompensating, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	return c.appendTimeline(tx, saga.OrderID, "PaymentFailed", result.Reason)
}

func (c *Coordinator) onReservationConfirmed(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepConfirming {
		return c.reject(saga, env)
	}

	order, err := tx.Orders().Get(saga.OrderID)
	if err != nil {
		return err
	}
	if err := order.Complete(); err != nil {
		return err
	}
	if err := tx.Orders().Save(order); err != nil {
		return err
	}

	if err := c.emit(tx, order.ID, domain.EventOrderCompleted, domain.OrderLifecycle{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
	}); err != nil {
		return err
	}

	saga.Advance(domain.SagaStepDone, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	c.metrics.RecordSagaCompleted()
	c.logger.WithField("order_id", order.ID).Info("saga completed successfully")
	return c.appendTimeline(tx, order.ID, "OrderCompleted", "")
}

// onReservationConfirmFailed закрывает сагу, когда склад не смог подтвердить
// резерв (например, TTL истёк раньше подтверждения). Оплата к этому моменту
// уже прошла и автоматически не возвращается — это работа для оператора.
func (c *Coordinator) onReservationConfirmFailed(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepConfirming {
		return c.reject(saga, env)
	}

	var result domain.ReservationResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decode reservation result: %w", err)
	}

	if err := c.cancelOrder(tx, saga.OrderID, result.Reason); err != nil {
		return err
	}

	saga.Advance(domain.SagaStepDone, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	c.metrics.RecordSagaCompensated()
	c.logger.WithFields(log.Fields{
		"order_id": saga.OrderID,
		"reason":   result.Reason,
	}).Warn("reservation confirm failed after payment, refund requires operator action")
	return c.appendTimeline(tx, saga.OrderID, "ReservationConfirmFailed", result.Reason)
}

func (c *Coordinator) onReservationReleased(tx domain.Repositories, saga *domain.OrderSaga, env domain.EventEnvelope) error {
	if saga.CurrentStep != domain.SagaStepCompensating {
		return c.reject(saga, env)
	}

	var result domain.ReservationResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decode reservation result: %w", err)
	}

	if err := c.cancelOrder(tx, saga.OrderID, result.Reason); err != nil {
		return err
	}

	saga.CompensationPending = false
	saga.Advance(domain.SagaStepDone, env.EventID)
	if err := tx.Sagas().Save(*saga); err != nil {
		return err
	}
	c.metrics.RecordSagaCompensated()
	c.logger.WithFields(log.Fields{
		"order_id": saga.OrderID,
		"reason":   result.Reason,
	}).Info("saga finished through compensation")
	return c.appendTimeline(tx, saga.OrderID, "ReservationReleased", result.Reason)
}

// cancelOrder переводит заказ в cancelled с сохранённой причиной и эмитит
// событие жизненного цикла.
func (c *Coordinator) cancelOrder(tx domain.Repositories, orderID, reason string) error {
	order, err := tx.Orders().Get(orderID)
	if err != nil {
		return err
	}
	if err := order.Cancel(reason); err != nil {
		return err
	}
	if err := tx.Orders().Save(order); err != nil {
		return err
	}
	return c.emit(tx, order.ID, domain.EventOrderCancelled, domain.OrderLifecycle{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		Reason:     reason,
	})
}

// emit кладёт исходящее событие в outbox текущей транзакции.
func (c *Coordinator) emit(tx domain.Repositories, orderID string, eventType domain.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	c.metrics.RecordOutboxEvent()
	return nil
}

func (c *Coordinator) appendTimeline(tx domain.Repositories, orderID, eventType, reason string) error {
	if err := tx.Timeline().Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("append timeline event failed")
	}
	return nil
}
