// Package dispatch маршрутизирует доставленные события к обработчикам,
// отсекая дубликаты через inbox guard.
package dispatch

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Handler обрабатывает один конверт события. Обработчики обязаны быть
// идемпотентными на своих агрегатах: между регистрацией в inbox и отметкой
// processed возможна повторная обработка после сбоя.
type Handler interface {
	Handle(ctx context.Context, env domain.EventEnvelope) error
}

// HandlerFunc адаптирует функцию к интерфейсу Handler.
type HandlerFunc func(ctx context.Context, env domain.EventEnvelope) error

func (f HandlerFunc) Handle(ctx context.Context, env domain.EventEnvelope) error {
	return f(ctx, env)
}

// Dispatcher — единая входная точка сервиса для доставленных событий.
// Таблица маршрутизации неизменяема после конструирования.
type Dispatcher struct {
	service  string
	uow      domain.UnitOfWork
	handlers map[domain.EventType]Handler
	logger   *log.Entry
	metrics  *metrics.InboxMetrics
}

// NewDispatcher строит dispatcher и падает на этапе старта, если для
// заявленного типа события нет обработчика: это ошибка деплоя, а не ситуация
// времени выполнения.
func NewDispatcher(
	service string,
	uow domain.UnitOfWork,
	handlers map[domain.EventType]Handler,
	declared []domain.EventType,
	logger *log.Entry,
	m *metrics.InboxMetrics,
) (*Dispatcher, error) {
	if uow == nil {
		return nil, fmt.Errorf("dispatcher %s: unit of work is required", service)
	}
	for eventType, handler := range handlers {
		if eventType == "" {
			return nil, fmt.Errorf("dispatcher %s: empty event type in handler table", service)
		}
		if handler == nil {
			return nil, fmt.Errorf("dispatcher %s: nil handler for event type %s", service, eventType)
		}
	}
	for _, eventType := range declared {
		if _, ok := handlers[eventType]; !ok {
			return nil, fmt.Errorf("dispatcher %s: declared event type %s has no handler", service, eventType)
		}
	}
	if logger == nil {
		logger = log.WithField("component", "dispatcher").WithField("service", service)
	}

	table := make(map[domain.EventType]Handler, len(handlers))
	for eventType, handler := range handlers {
		table[eventType] = handler
	}

	return &Dispatcher{
		service:  service,
		uow:      uow,
		handlers: table,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Dispatch обрабатывает доставленный конверт: находит обработчик, отсекает
// дубликаты и помечает событие обработанным после успеха.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.EventEnvelope) error {
	handler, ok := d.handlers[env.EventType]
	if !ok {
		// Неизвестный тип события — рассинхронизация версий, молча игнорировать нельзя.
		d.metrics.RecordUnroutable()
		err := &domain.UnroutableEventError{EventID: env.EventID, EventType: env.EventType}
		d.logger.WithFields(log.Fields{
			"event_id":   env.EventID,
			"event_type": env.EventType,
		}).Error("no handler registered for delivered event")
		return err
	}

	var firstSeen bool
	err := d.uow.Do(ctx, func(tx domain.Repositories) error {
		var regErr error
		firstSeen, regErr = tx.Inbox().RegisterIfNotProcessed(env.EventID, env.EventType, env.Payload, time.Now().UTC())
		return regErr
	})
	if err != nil {
		return fmt.Errorf("register inbound event %s: %w", env.EventID, err)
	}

	if !firstSeen {
		processed, err := d.alreadyProcessed(ctx, env.EventID)
		if err != nil {
			return err
		}
		if processed {
			d.metrics.RecordDuplicate(d.service)
			d.logger.WithFields(log.Fields{
				"event_id":   env.EventID,
				"event_type": env.EventType,
			}).Debug("duplicate event skipped")
			return nil
		}
		// Запись есть, но processed не выставлен: предыдущая обработка оборвалась,
		// событие доставлено повторно. Обрабатываем ещё раз.
	}

	start := time.Now()
	handleErr := handler.Handle(ctx, env)
	d.metrics.RecordHandlerDuration(string(env.EventType), time.Since(start))
	if handleErr != nil {
		d.metrics.RecordHandlerFailure(string(env.EventType))
		return handleErr
	}

	err = d.uow.Do(ctx, func(tx domain.Repositories) error {
		_, markErr := tx.Inbox().MarkProcessed(env.EventID, time.Now().UTC())
		return markErr
	})
	if err != nil {
		// Обработка прошла; при повторной доставке inbox отработает как дубликат
		// после успешного MarkProcessed, а до него сработают guards агрегатов.
		d.logger.WithError(err).WithField("event_id", env.EventID).Warn("failed to mark event as processed")
	}

	return nil
}

func (d *Dispatcher) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := d.uow.Do(ctx, func(tx domain.Repositories) error {
		rec, getErr := tx.Inbox().Get(eventID)
		if getErr != nil {
			return getErr
		}
		processed = rec.Processed()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("inspect inbox record %s: %w", eventID, err)
	}
	return processed, nil
}
