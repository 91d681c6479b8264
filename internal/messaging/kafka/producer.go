package kafka

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
)

// produceMeta связывает сообщение sarama с future вызывающей стороны.
type produceMeta struct {
	outboxID string
	result   chan domain.ProduceResult
}

// Producer публикует события в Kafka асинхронно: Produce возвращает future,
// который резолвится после подтверждения брокера или ошибки.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *log.Entry
	wg       sync.WaitGroup
	closed   chan struct{}
}

// NewProducer создает новый Kafka producer.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true // Включаем идемпотентность
	config.Net.MaxOpenRequests = 1    // Для идемпотентности

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
		closed:   make(chan struct{}),
	}

	p.wg.Add(2)
	go p.consumeSuccesses()
	go p.consumeErrors()

	return p, nil
}

func (p *Producer) consumeSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		meta, ok := msg.Metadata.(produceMeta)
		if !ok {
			continue
		}
		p.logger.WithFields(log.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"outbox_id": meta.outboxID,
		}).Debug("message sent to kafka")
		meta.result <- domain.ProduceResult{OutboxID: meta.outboxID}
		close(meta.result)
	}
}

func (p *Producer) consumeErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		meta, ok := perr.Msg.Metadata.(produceMeta)
		if !ok {
			continue
		}
		p.logger.WithError(perr.Err).WithFields(log.Fields{
			"topic":     perr.Msg.Topic,
			"outbox_id": meta.outboxID,
		}).Warn("failed to send message to kafka")
		meta.result <- domain.ProduceResult{
			OutboxID: meta.outboxID,
			Err:      fmt.Errorf("%w: %v", domain.ErrPublishFailed, perr.Err),
		}
		close(meta.result)
	}
}

// Produce отправляет конверт события в топик, определяемый его типом.
// Возвращённый канал получает ровно один результат.
func (p *Producer) Produce(msg domain.OutboxMessage) <-chan domain.ProduceResult {
	result := make(chan domain.ProduceResult, 1)

	value, err := json.Marshal(msg.Envelope())
	if err != nil {
		result <- domain.ProduceResult{OutboxID: msg.ID, Err: fmt.Errorf("marshal envelope: %w", err)}
		close(result)
		return result
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	pm := &sarama.ProducerMessage{
		Topic:    messaging.TopicFor(msg.EventType),
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: produceMeta{outboxID: msg.ID, result: result},
	}

	select {
	case p.producer.Input() <- pm:
	case <-p.closed:
		result <- domain.ProduceResult{OutboxID: msg.ID, Err: domain.ErrPublishFailed}
		close(result)
	}

	return result
}

// Close закрывает producer и дожидается резолва всех in-flight futures.
func (p *Producer) Close() error {
	close(p.closed)
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	p.wg.Wait()
	return nil
}

var _ domain.EventProducer = (*Producer)(nil)
