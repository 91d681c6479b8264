package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultExpireInterval  = time.Minute
	defaultExpireBatchSize = 100
	defaultReservationTTL  = 30 * time.Minute
)

var (
	reservationExpireRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reservation_expire_runs_total",
		Help: "Total number of reservation expirer runs grouped by result.",
	}, []string{"result"})
	reservationExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_reservations_expired_total",
		Help: "Total number of reservations expired by TTL.",
	})
	reservationExpireLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_reservation_expire_last_run",
		Help: "Number of reservations expired during the last run.",
	})
)

// ExpirerOptions задаёт параметры воркера экспирации резервов.
type ExpirerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	TTL       time.Duration
}

// ExpirerOption настраивает Expirer.
type ExpirerOption func(*ExpirerOptions)

// WithExpirerLogger задаёт logger для воркера.
func WithExpirerLogger(logger *log.Entry) ExpirerOption {
	return func(opts *ExpirerOptions) {
		opts.Logger = logger
	}
}

// WithExpireInterval задаёт интервал между циклами экспирации.
func WithExpireInterval(interval time.Duration) ExpirerOption {
	return func(opts *ExpirerOptions) {
		opts.Interval = interval
	}
}

// WithExpireBatchSize задаёт размер batch одного цикла.
func WithExpireBatchSize(batchSize int) ExpirerOption {
	return func(opts *ExpirerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithReservationTTL задаёт время жизни активного резерва.
func WithReservationTTL(ttl time.Duration) ExpirerOption {
	return func(opts *ExpirerOptions) {
		opts.TTL = ttl
	}
}

// Expirer периодически снимает просроченные активные резервы: возвращает
// сток и эмитит reservation.expired. Поздняя команда release по такому
// резерву остаётся валидной — сток второй раз не возвращается.
type Expirer struct {
	uow       domain.UnitOfWork
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	ttl       time.Duration
}

// NewExpirer создаёт воркер экспирации резервов.
func NewExpirer(uow domain.UnitOfWork, options ...ExpirerOption) *Expirer {
	opts := ExpirerOptions{
		Interval:  defaultExpireInterval,
		BatchSize: defaultExpireBatchSize,
		TTL:       defaultReservationTTL,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-expirer")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultExpireInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultExpireBatchSize
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultReservationTTL
	}

	return &Expirer{
		uow:       uow,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		ttl:       opts.TTL,
	}
}

// Run запускает периодическую экспирацию до отмены ctx.
func (e *Expirer) Run(ctx context.Context) {
	if e.uow == nil {
		e.logger.Warn("reservation expirer is disabled: unit of work is nil")
		return
	}

	e.expire(ctx, time.Now().UTC())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.expire(ctx, time.Now().UTC())
		}
	}
}

func (e *Expirer) expire(ctx context.Context, now time.Time) {
	expired, err := e.ExpireOverdue(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		reservationExpireRunsTotal.WithLabelValues("error").Inc()
		e.logger.WithError(err).Warn("reservation expire run failed")
		return
	}

	reservationExpireRunsTotal.WithLabelValues("ok").Inc()
	reservationExpireLastRun.Set(float64(expired))
	if expired > 0 {
		e.logger.WithField("expired", expired).Info("reservation expire run completed")
	}
}

// ExpireOverdue снимает все активные резервы старше ttl порциями batchSize.
func (e *Expirer) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-e.ttl)

	totalExpired := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalExpired, err
		}

		var batch []domain.Reservation
		err := e.uow.Do(ctx, func(tx domain.Repositories) error {
			var listErr error
			batch, listErr = tx.Reservations().ListActiveBefore(cutoff, e.batchSize)
			return listErr
		})
		if err != nil {
			return totalExpired, err
		}
		if len(batch) == 0 {
			break
		}

		for _, res := range batch {
			if err := e.expireOne(ctx, res); err != nil {
				return totalExpired, err
			}
			totalExpired++
			reservationExpiredTotal.Inc()
		}

		if len(batch) < e.batchSize {
			break
		}
	}

	return totalExpired, nil
}

// expireOne переводит один резерв в expired, возвращает сток и эмитит событие
// в одной атомарной единице.
func (e *Expirer) expireOne(ctx context.Context, res domain.Reservation) error {
	return e.uow.Do(ctx, func(tx domain.Repositories) error {
		current, err := tx.Reservations().Get(res.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.ReservationStatusActive {
			// Конкурирующий confirm или release успел раньше.
			return nil
		}
		if err := current.Expire(); err != nil {
			return err
		}
		if err := restock(tx, current.Lines); err != nil {
			return err
		}
		if err := tx.Reservations().Save(current); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.ReservationResult{
			OrderID:       current.OrderID,
			ReservationID: current.ID,
			Reason:        "reservation ttl exceeded",
		})
		if err != nil {
			return fmt.Errorf("marshal expired payload: %w", err)
		}
		if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "reservation",
			AggregateID:   current.OrderID,
			EventType:     domain.EventReservationExpired,
			Payload:       payload,
		}); err != nil {
			return err
		}

		e.logger.WithFields(log.Fields{
			"reservation_id": current.ID,
			"order_id":       current.OrderID,
		}).Info("reservation expired")
		return nil
	})
}
