// Package local реализует in-process транспорт с той же семантикой
// produce/consume, что и Kafka: доставка асинхронная, как минимум один раз,
// без гарантий порядка между агрегатами. Используется, когда брокер не
// настроен, и в интеграционных тестах.
package local

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
)

const defaultQueueDepth = 1024

// Subscriber получает конверт события из топика.
type Subscriber func(ctx context.Context, env domain.EventEnvelope) error

type delivery struct {
	topic string
	env   domain.EventEnvelope
}

// Bus — канальный транспорт между контекстами внутри одного процесса.
type Bus struct {
	logger *log.Entry
	queue  chan delivery

	mu     sync.RWMutex
	subs   map[string][]Subscriber
	closed bool

	wg sync.WaitGroup
}

// NewBus создаёт транспорт с очередью заданной глубины (0 — значение по умолчанию).
func NewBus(depth int, logger *log.Entry) *Bus {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	if logger == nil {
		logger = log.WithField("component", "local-bus")
	}
	return &Bus{
		logger: logger,
		queue:  make(chan delivery, depth),
		subs:   make(map[string][]Subscriber),
	}
}

// Subscribe регистрирует получателя топика. Вызывается до Start.
func (b *Bus) Subscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
}

// Start запускает доставку до отмены ctx.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-b.queue:
				b.deliver(ctx, d)
			}
		}
	}()
}

func (b *Bus) deliver(ctx context.Context, d delivery) {
	b.mu.RLock()
	subs := b.subs[d.topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.WithFields(log.Fields{
			"topic":      d.topic,
			"event_type": d.env.EventType,
		}).Debug("no subscribers for topic, event dropped")
		return
	}

	for _, sub := range subs {
		if err := sub(ctx, d.env); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"topic":    d.topic,
				"event_id": d.env.EventID,
			}).Error("subscriber failed to process event")
		}
	}
}

// Produce кладёт конверт в очередь доставки. Future резолвится сразу после
// постановки в очередь: это аналог подтверждения брокера.
func (b *Bus) Produce(msg domain.OutboxMessage) <-chan domain.ProduceResult {
	result := make(chan domain.ProduceResult, 1)
	defer close(result)

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		result <- domain.ProduceResult{OutboxID: msg.ID, Err: domain.ErrPublishFailed}
		return result
	}

	select {
	case b.queue <- delivery{topic: messaging.TopicFor(msg.EventType), env: msg.Envelope()}:
		result <- domain.ProduceResult{OutboxID: msg.ID}
	default:
		result <- domain.ProduceResult{
			OutboxID: msg.ID,
			Err:      fmt.Errorf("%w: local bus queue is full", domain.ErrPublishFailed),
		}
	}

	return result
}

// Close останавливает приём новых сообщений.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Wait дожидается завершения воркера доставки (после отмены ctx в Start).
func (b *Bus) Wait() {
	b.wg.Wait()
}

var _ domain.EventProducer = (*Bus)(nil)
