// Package product реализует каталог товаров и выдачу срезов цен.
package product

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// CreateProductCommand — вход use case создания товара.
type CreateProductCommand struct {
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
}

// Service — use case'ы каталога. Каждая мутация эмитит событие каталога и
// инвалидирует кэш цен в одной атомарной единице с записью товара.
type Service struct {
	uow    domain.UnitOfWork
	cache  *PriceCache
	logger *log.Entry
}

// NewService создаёт сервис каталога. cache может быть nil.
func NewService(uow domain.UnitOfWork, cache *PriceCache, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "product-service")
	}
	return &Service{uow: uow, cache: cache, logger: logger}
}

// CreateProduct создаёт товар в статусе active.
func (s *Service) CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error) {
	switch {
	case cmd.Name == "":
		return domain.Product{}, fmt.Errorf("name is required: %w", domain.ErrInvalidCommand)
	case cmd.PriceMinor < 0:
		return domain.Product{}, fmt.Errorf("%v: %w", domain.ErrAmountNegative, domain.ErrInvalidCommand)
	case cmd.Currency == "":
		return domain.Product{}, fmt.Errorf("%v: %w", domain.ErrCurrencyRequired, domain.ErrInvalidCommand)
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:         uuid.NewString(),
		Name:       cmd.Name,
		PriceMinor: cmd.PriceMinor,
		Currency:   cmd.Currency,
		Status:     domain.ProductStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		if err := tx.Products().Create(product); err != nil {
			return err
		}
		return s.emit(tx, product, domain.EventProductUpdated)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"name":       product.Name,
	}).Info("product created")
	return product, nil
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		product, getErr = tx.Products().Get(id)
		return getErr
	})
	return product, err
}

// UpdatePrice меняет цену товара.
func (s *Service) UpdatePrice(ctx context.Context, id string, priceMinor int64) (domain.Product, error) {
	if priceMinor < 0 {
		return domain.Product{}, fmt.Errorf("%v: %w", domain.ErrAmountNegative, domain.ErrInvalidCommand)
	}
	return s.mutate(ctx, id, domain.EventProductUpdated, func(p *domain.Product) error {
		p.PriceMinor = priceMinor
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Activate возвращает товар в продажу. Повторная активация идемпотентна.
func (s *Service) Activate(ctx context.Context, id string) (domain.Product, error) {
	return s.mutate(ctx, id, domain.EventProductUpdated, (*domain.Product).Activate)
}

// Deactivate временно скрывает товар. Повторная деактивация идемпотентна.
func (s *Service) Deactivate(ctx context.Context, id string) (domain.Product, error) {
	return s.mutate(ctx, id, domain.EventProductUpdated, (*domain.Product).Deactivate)
}

// Delete удаляет товар. Повторное удаление — ошибка вызывающей стороны.
func (s *Service) Delete(ctx context.Context, id string) (domain.Product, error) {
	return s.mutate(ctx, id, domain.EventProductDeleted, (*domain.Product).Delete)
}

func (s *Service) mutate(
	ctx context.Context,
	id string,
	eventType domain.EventType,
	op func(p *domain.Product) error,
) (domain.Product, error) {
	var product domain.Product
	err := s.uow.Do(ctx, func(tx domain.Repositories) error {
		var getErr error
		product, getErr = tx.Products().Get(id)
		if getErr != nil {
			return getErr
		}
		if opErr := op(&product); opErr != nil {
			return opErr
		}
		if saveErr := tx.Products().Save(product); saveErr != nil {
			return saveErr
		}
		return s.emit(tx, product, eventType)
	})
	if err != nil {
		return domain.Product{}, err
	}

	// Кэш цен инвалидируется после коммита: до него читатели видят старую
	// цену из ещё не изменённого хранилища, что эквивалентно.
	s.cache.Invalidate(ctx, id)
	return product, nil
}

func (s *Service) emit(tx domain.Repositories, product domain.Product, eventType domain.EventType) error {
	payload, err := json.Marshal(struct {
		ProductID  string `json:"product_id"`
		Name       string `json:"name"`
		PriceMinor int64  `json:"price_minor"`
		Currency   string `json:"currency"`
		Status     string `json:"status"`
	}{
		ProductID:  product.ID,
		Name:       product.Name,
		PriceMinor: product.PriceMinor,
		Currency:   product.Currency,
		Status:     string(product.Status),
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   product.ID,
		EventType:     eventType,
		Payload:       payload,
	})
	return err
}
