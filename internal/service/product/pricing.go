package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	priceKeyPrefix  = "fulfillment:price:"
	defaultPriceTTL = 5 * time.Minute
)

// PriceCache — read-through кэш цен поверх каталога. Redis опционален:
// без клиента каждый запрос идёт в хранилище. Ошибки кэша не фатальны,
// источником истины остаётся каталог.
type PriceCache struct {
	uow    domain.UnitOfWork
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewPriceCache создаёт кэш цен. client может быть nil (кэширование выключено).
func NewPriceCache(uow domain.UnitOfWork, client *redis.Client, ttl time.Duration, logger *log.Entry) *PriceCache {
	if logger == nil {
		logger = log.WithField("component", "price-cache")
	}
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &PriceCache{uow: uow, client: client, ttl: ttl, logger: logger}
}

// GetPriceSnapshots возвращает срезы цен по списку товаров. Товары не в
// статусе active в выдачу не попадают — вызывающая сторона трактует их
// отсутствие как «товар недоступен».
func (c *PriceCache) GetPriceSnapshots(ctx context.Context, productIDs []string) ([]domain.PriceSnapshot, error) {
	snapshots := make([]domain.PriceSnapshot, 0, len(productIDs))
	var misses []string

	for _, id := range productIDs {
		snap, ok := c.fromCache(ctx, id)
		if ok {
			snapshots = append(snapshots, snap)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return snapshots, nil
	}

	err := c.uow.Do(ctx, func(tx domain.Repositories) error {
		for _, id := range misses {
			product, getErr := tx.Products().Get(id)
			if getErr != nil {
				if errors.Is(getErr, domain.ErrProductNotFound) {
					continue
				}
				return getErr
			}
			if product.Status != domain.ProductStatusActive {
				continue
			}
			snap := domain.PriceSnapshot{
				ProductID:  product.ID,
				PriceMinor: product.PriceMinor,
				Currency:   product.Currency,
			}
			snapshots = append(snapshots, snap)
			c.toCache(ctx, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load prices from catalog: %w", err)
	}
	return snapshots, nil
}

// Invalidate убирает цену товара из кэша. Безопасен на nil получателе.
func (c *PriceCache) Invalidate(ctx context.Context, productID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, priceKeyPrefix+productID).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", productID).Warn("failed to invalidate cached price")
	}
}

func (c *PriceCache) fromCache(ctx context.Context, productID string) (domain.PriceSnapshot, bool) {
	if c.client == nil {
		return domain.PriceSnapshot{}, false
	}

	raw, err := c.client.Get(ctx, priceKeyPrefix+productID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("product_id", productID).Warn("price cache read failed")
		}
		return domain.PriceSnapshot{}, false
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.WithError(err).WithField("product_id", productID).Warn("corrupted cached price dropped")
		c.Invalidate(ctx, productID)
		return domain.PriceSnapshot{}, false
	}
	return snap, true
}

func (c *PriceCache) toCache(ctx context.Context, snap domain.PriceSnapshot) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, priceKeyPrefix+snap.ProductID, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("product_id", snap.ProductID).Warn("price cache write failed")
	}
}

var _ domain.PriceLookup = (*PriceCache)(nil)
