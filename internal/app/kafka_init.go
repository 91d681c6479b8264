package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

const consumerMaxRetries = 3

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startKafkaConsumers поднимает consumer group на каждый потребляющий контекст.
// DLQ для всех групп — общий producer.
func startKafkaConsumers(ctx context.Context, brokers string, deps *Dependencies, producer *kafka.Producer) ([]*kafka.Consumer, error) {
	brokerList := strings.Split(brokers, ",")

	groups := []struct {
		groupID string
		handler kafka.EnvelopeHandler
	}{
		{groupID: "fulfillment-order", handler: deps.OrderDispatcher.Dispatch},
		{groupID: "fulfillment-inventory", handler: deps.InventoryDispatcher.Dispatch},
		{groupID: "fulfillment-payment", handler: deps.PaymentDispatcher.Dispatch},
	}

	consumers := make([]*kafka.Consumer, 0, len(groups))
	for _, group := range groups {
		consumer, err := kafka.NewConsumerWithDLQ(
			brokerList,
			group.groupID,
			kafka.TopicsForGroup(group.groupID),
			group.handler,
			producer,
			consumerMaxRetries,
		)
		if err != nil {
			stopKafkaConsumers(consumers, deps.Logger)
			return nil, fmt.Errorf("create consumer group %s: %w", group.groupID, err)
		}
		if err := consumer.Start(ctx); err != nil {
			stopKafkaConsumers(consumers, deps.Logger)
			return nil, fmt.Errorf("start consumer group %s: %w", group.groupID, err)
		}
		consumers = append(consumers, consumer)
	}
	return consumers, nil
}

// stopKafkaConsumers останавливает все запущенные consumer'ы.
func stopKafkaConsumers(consumers []*kafka.Consumer, logger *log.Entry) {
	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
}
