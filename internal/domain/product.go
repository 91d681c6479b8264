package domain

import "time"

// ProductStatus описывает жизненный цикл товара в каталоге.
type ProductStatus string

const (
	// ProductStatusActive — товар продаётся и участвует в price lookup.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive — товар временно скрыт; можно вернуть в active.
	ProductStatusInactive ProductStatus = "inactive"
	// ProductStatusDeleted — товар удалён; терминальный статус.
	ProductStatusDeleted ProductStatus = "deleted"
)

// Product — карточка товара. active и inactive переключаются в обе стороны,
// deleted терминален; повторное удаление — ошибка вызывающей стороны, а не no-op.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Currency   string
	Status     ProductStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p *Product) invalidTransition(to ProductStatus) error {
	return &InvalidTransitionError{
		AggregateType: "product",
		AggregateID:   p.ID,
		From:          string(p.Status),
		To:            string(to),
	}
}

// Activate переводит товар в active. Повторная активация идемпотентна.
func (p *Product) Activate() error {
	if p.Status == ProductStatusDeleted {
		return p.invalidTransition(ProductStatusActive)
	}
	p.Status = ProductStatusActive
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Deactivate переводит товар в inactive. Повторная деактивация идемпотентна.
func (p *Product) Deactivate() error {
	if p.Status == ProductStatusDeleted {
		return p.invalidTransition(ProductStatusInactive)
	}
	p.Status = ProductStatusInactive
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete переводит товар в deleted. deleted -> deleted отклоняется,
// чтобы выявлять баги вызывающей стороны.
func (p *Product) Delete() error {
	if p.Status == ProductStatusDeleted {
		return p.invalidTransition(ProductStatusDeleted)
	}
	p.Status = ProductStatusDeleted
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// PriceSnapshot — срез цены товара на момент запроса.
type PriceSnapshot struct {
	ProductID  string `json:"product_id"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
}
