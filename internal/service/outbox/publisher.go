// Package outbox публикует события transactional outbox в транспорт.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultBatchSize      = 100
	defaultPublishTimeout = 10 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_pending_records",
		Help: "Current number of records awaiting publication in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest record awaiting publication.",
	})
	outboxDeadRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_dead_records",
		Help: "Current number of dead-lettered outbox records requiring operator attention.",
	})
)

// PublisherOptions задаёт параметры outbox publisher.
type PublisherOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

// Option настраивает Publisher.
type Option func(*PublisherOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *PublisherOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *PublisherOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер claim-батча.
func WithBatchSize(batchSize int) Option {
	return func(opts *PublisherOptions) {
		opts.BatchSize = batchSize
	}
}

// WithPublishTimeout задаёт таймаут ожидания подтверждения транспорта.
// Истёкший таймаут трактуется как отказ, а не как «ещё в полёте».
func WithPublishTimeout(timeout time.Duration) Option {
	return func(opts *PublisherOptions) {
		opts.PublishTimeout = timeout
	}
}

// Publisher — периодическая задача: забирает claim-батч готовых записей,
// отдаёт каждую в асинхронный produce транспорта и фиксирует исход.
// Тик никогда не ждёт завершения медленных публикаций: строки удерживаются
// lease'ом на этапе claim, а не занятым потоком.
type Publisher struct {
	uow            domain.UnitOfWork
	producer       domain.EventProducer
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	publishTimeout time.Duration

	wg       sync.WaitGroup
	lastDead int
}

// NewPublisher создаёт outbox publisher.
func NewPublisher(uow domain.UnitOfWork, producer domain.EventProducer, options ...Option) *Publisher {
	opts := PublisherOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		PublishTimeout: defaultPublishTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-publisher")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	return &Publisher{
		uow:            uow,
		producer:       producer,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		publishTimeout: opts.PublishTimeout,
	}
}

// Run запускает периодическую публикацию до отмены ctx.
func (p *Publisher) Run(ctx context.Context) {
	if p.uow == nil || p.producer == nil {
		p.logger.Warn("outbox publisher is disabled: unit of work or producer is nil")
		return
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл: claim батча и запуск публикаций.
// Результаты собираются асинхронно и не блокируют следующий тик.
func (p *Publisher) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	p.refreshBacklogMetrics(ctx)

	var batch []domain.OutboxMessage
	err := p.uow.Do(ctx, func(tx domain.Repositories) error {
		var claimErr error
		batch, claimErr = tx.Outbox().ClaimReadyToPublish(p.batchSize)
		return claimErr
	})
	if err != nil {
		p.logger.WithError(err).Warn("failed to claim outbox messages")
		return
	}
	if len(batch) == 0 {
		return
	}

	// Публикация независима по событиям: отказ одного не задерживает остальные.
	for _, msg := range batch {
		future := p.producer.Produce(msg)
		p.wg.Add(1)
		go p.awaitResult(ctx, msg, future)
	}
}

func (p *Publisher) awaitResult(ctx context.Context, msg domain.OutboxMessage, future <-chan domain.ProduceResult) {
	defer p.wg.Done()

	timer := time.NewTimer(p.publishTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-future:
		if !ok {
			result.Err = domain.ErrPublishFailed
		}
		if result.Err != nil {
			p.recordFailure(ctx, msg, result.Err.Error())
			return
		}
		p.recordSuccess(ctx, msg)
	case <-timer.C:
		p.recordFailure(ctx, msg, "publish acknowledgement timed out")
	case <-ctx.Done():
		p.recordFailure(ctx, msg, "publisher shutting down before acknowledgement")
	}
}

func (p *Publisher) recordSuccess(ctx context.Context, msg domain.OutboxMessage) {
	var won bool
	err := p.uow.Do(context.WithoutCancel(ctx), func(tx domain.Repositories) error {
		var markErr error
		won, markErr = tx.Outbox().TryMarkPublished(msg.ID, time.Now().UTC())
		return markErr
	})
	if err != nil {
		p.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as published")
		return
	}
	if !won {
		// Конкурирующий publisher успел раньше; событие опубликовано, дубликат
		// отсечёт inbox потребителя.
		outboxPublishAttempts.WithLabelValues("already_published").Inc()
		return
	}
	outboxPublishAttempts.WithLabelValues("published").Inc()
}

func (p *Publisher) recordFailure(ctx context.Context, msg domain.OutboxMessage, cause string) {
	outboxPublishAttempts.WithLabelValues("failed").Inc()

	var recorded bool
	err := p.uow.Do(context.WithoutCancel(ctx), func(tx domain.Repositories) error {
		var markErr error
		recorded, markErr = tx.Outbox().MarkFailed(msg.ID, cause, time.Now().UTC())
		return markErr
	})
	if err != nil {
		p.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as failed")
		return
	}
	if !recorded {
		// Поздний отказ после успешной публикации повторной попытки.
		return
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"cause":      cause,
	}).Warn("outbox publish attempt failed")
}

func (p *Publisher) refreshBacklogMetrics(ctx context.Context) {
	var stats domain.OutboxStats
	err := p.uow.Do(ctx, func(tx domain.Repositories) error {
		var statsErr error
		stats, statsErr = tx.Outbox().Stats()
		return statsErr
	})
	if err != nil {
		p.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	outboxDeadRecords.Set(float64(stats.DeadCount))

	if stats.DeadCount > p.lastDead {
		p.logger.WithField("dead_count", stats.DeadCount).Error("outbox records dead-lettered, operator intervention required")
	}
	p.lastDead = stats.DeadCount

	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}
	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}

// Wait дожидается завершения всех in-flight публикаций (используется в тестах
// и при останове).
func (p *Publisher) Wait() {
	p.wg.Wait()
}
