package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
)

// EnvelopeHandler обрабатывает декодированный конверт события.
type EnvelopeHandler func(ctx context.Context, env domain.EventEnvelope) error

// Consumer читает топики consumer group'ой и передаёт конверты обработчику
// (inbound dispatcher сервиса).
type Consumer struct {
	consumer   sarama.ConsumerGroup
	topics     []string
	handler    EnvelopeHandler
	logger     *log.Entry
	wg         sync.WaitGroup
	dlq        domain.EventProducer
	maxRetries int
}

// NewConsumer создает новый Kafka consumer.
func NewConsumer(brokers []string, groupID string, topics []string, handler EnvelopeHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil, 3)
}

// NewConsumerWithDLQ создает consumer с поддержкой Dead Letter Queue.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler EnvelopeHandler, dlq domain.EventProducer, maxRetries int) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:   consumer,
		topics:     topics,
		handler:    handler,
		logger:     log.WithFields(log.Fields{"component": "kafka-consumer", "group": groupID}),
		dlq:        dlq,
		maxRetries: maxRetries,
	}, nil
}

// Start запускает consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.handleMessage(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message processing failed after all retries")
				// Сообщение либо в DLQ, либо будет доставлено повторно.
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage декодирует конверт и отдаёт его обработчику с ограниченным
// числом повторов; по их исчерпании сообщение уходит в DLQ.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := ParseEnvelope(message)
	if err != nil {
		// Нечитаемый конверт повторять бессмысленно — сразу в DLQ.
		c.logger.WithError(err).WithField("topic", message.Topic).Error("failed to decode event envelope")
		return c.sendToDLQ(message, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.handler(ctx, env)
		if lastErr == nil {
			return nil
		}
		c.logger.WithError(lastErr).WithFields(log.Fields{
			"event_id":   env.EventID,
			"event_type": env.EventType,
			"attempt":    attempt,
		}).Warn("event processing failed, will retry")
	}

	if dlqErr := c.sendToDLQ(message, lastErr); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	return nil
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	if c.dlq == nil {
		return processingErr
	}

	payload, err := json.Marshal(map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	result := <-c.dlq.Produce(domain.OutboxMessage{
		AggregateID: string(message.Key),
		EventType:   domain.EventDeadLetter,
		Payload:     payload,
	})
	return result.Err
}

// ParseEnvelope декодирует конверт события из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (domain.EventEnvelope, error) {
	var env domain.EventEnvelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return domain.EventEnvelope{}, fmt.Errorf("event envelope is missing event_id or event_type")
	}
	return env, nil
}

// TopicsForGroup возвращает топики, которые слушает контекст groupID.
func TopicsForGroup(groupID string) []string {
	switch groupID {
	case "fulfillment-order":
		return []string{messaging.TopicOrderReplies}
	case "fulfillment-inventory":
		return []string{messaging.TopicInventoryRequests}
	case "fulfillment-payment":
		return []string{messaging.TopicPaymentRequests}
	default:
		return nil
	}
}
