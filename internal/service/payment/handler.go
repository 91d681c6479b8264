// Package payment реализует платёжный контекст: проведение платежа через
// внешнего провайдера с ответом в сагу заказа.
package payment

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

const defaultChargeTimeout = 15 * time.Second

// Handler обрабатывает payment.create.requested. Таймаут провайдера
// трактуется как отказ: платёж не остаётся в initiated навсегда.
type Handler struct {
	uow           domain.UnitOfWork
	provider      domain.ChargeProvider
	providerName  string
	chargeTimeout time.Duration
	logger        *log.Entry
}

// NewHandler создаёт обработчик платёжных команд.
func NewHandler(uow domain.UnitOfWork, provider domain.ChargeProvider, providerName string, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "payment")
	}
	if providerName == "" {
		providerName = "mock"
	}
	return &Handler{
		uow:           uow,
		provider:      provider,
		providerName:  providerName,
		chargeTimeout: defaultChargeTimeout,
		logger:        logger,
	}
}

// HandleCharge обрабатывает payment.create.requested: создаёт платёж,
// вызывает провайдера и фиксирует исход вместе с ответным событием.
func (h *Handler) HandleCharge(ctx context.Context, env domain.EventEnvelope) error {
	var req domain.PaymentRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("decode payment request: %w", err)
	}

	// Платёж создаётся до вызова провайдера: повторная доставка после сбоя
	// увидит запись и не спишет деньги второй раз.
	var payment domain.Payment
	err := h.uow.Do(ctx, func(tx domain.Repositories) error {
		existing, getErr := tx.Payments().GetByOrder(req.OrderID)
		if getErr == nil {
			payment = existing
			return nil
		}
		if !errors.Is(getErr, domain.ErrPaymentNotFound) {
			return getErr
		}

		now := time.Now().UTC()
		payment = domain.Payment{
			ID:          uuid.NewString(),
			OrderID:     req.OrderID,
			Provider:    h.providerName,
			Status:      domain.PaymentStatusInitiated,
			AmountMinor: req.AmountMinor,
			Currency:    req.Currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if errs := payment.Validate(); len(errs) > 0 {
			return fmt.Errorf("%v: %w", errs[0], domain.ErrInvalidCommand)
		}
		return tx.Payments().Create(payment)
	})
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentStatusInitiated {
		// Исход уже зафиксирован предыдущей доставкой, ответ уже в outbox.
		return nil
	}

	externalID, chargeErr := h.charge(ctx, payment)

	return h.uow.Do(ctx, func(tx domain.Repositories) error {
		current, getErr := tx.Payments().Get(payment.ID)
		if getErr != nil {
			return getErr
		}
		if current.Status != domain.PaymentStatusInitiated {
			return nil
		}

		if chargeErr != nil {
			if failErr := current.Fail(chargeErr.Error()); failErr != nil {
				return failErr
			}
			if saveErr := tx.Payments().Save(current); saveErr != nil {
				return saveErr
			}
			h.logger.WithFields(log.Fields{
				"order_id":   current.OrderID,
				"payment_id": current.ID,
				"cause":      chargeErr.Error(),
			}).Warn("payment declined")
			return h.emit(tx, current.OrderID, domain.EventPaymentCreateFailed, domain.PaymentResult{
				OrderID:   current.OrderID,
				PaymentID: current.ID,
				Reason:    chargeErr.Error(),
			})
		}

		if approveErr := current.Approve(externalID); approveErr != nil {
			return approveErr
		}
		if saveErr := tx.Payments().Save(current); saveErr != nil {
			return saveErr
		}
		h.logger.WithFields(log.Fields{
			"order_id":   current.OrderID,
			"payment_id": current.ID,
		}).Info("payment approved")
		return h.emit(tx, current.OrderID, domain.EventPaymentCreateSucceeded, domain.PaymentResult{
			OrderID:   current.OrderID,
			PaymentID: current.ID,
		})
	})
}

// GetByOrder возвращает платёж по заказу.
func (h *Handler) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	var payment domain.Payment
	err := h.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		payment, getErr = tx.Payments().GetByOrder(orderID)
		return getErr
	})
	return payment, err
}

// charge вызывает провайдера с ограничением по времени.
func (h *Handler) charge(ctx context.Context, payment domain.Payment) (string, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, h.chargeTimeout)
	defer cancel()

	externalID, err := h.provider.Charge(chargeCtx, payment.OrderID, payment.AmountMinor, payment.Currency)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errors.New("payment provider timed out")
		}
		return "", err
	}
	return externalID, nil
}

func (h *Handler) emit(tx domain.Repositories, orderID string, eventType domain.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	})
	return err
}
