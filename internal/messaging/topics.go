// Package messaging содержит общую для всех транспортов маршрутизацию
// событий по топикам.
package messaging

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// Топики транспорта. Команды идут в топик владеющего сервиса, ответы — в
// топик заказов; события жизненного цикла публикуются наружу и внутренними
// сервисами не потребляются.
const (
	TopicInventoryRequests = "fulfillment.inventory.requests"
	TopicPaymentRequests   = "fulfillment.payment.requests"
	TopicOrderReplies      = "fulfillment.order.replies"
	TopicOrderLifecycle    = "fulfillment.order.lifecycle"
	TopicProductEvents     = "fulfillment.product.events"
	TopicDeadLetterQueue   = "fulfillment.dlq"
)

// TopicFor возвращает топик назначения для типа события.
func TopicFor(eventType domain.EventType) string {
	switch eventType {
	case domain.EventReservationCreateRequested,
		domain.EventReservationConfirmRequested,
		domain.EventReservationReleaseRequested:
		return TopicInventoryRequests
	case domain.EventPaymentCreateRequested:
		return TopicPaymentRequests
	case domain.EventReservationCreateSucceeded,
		domain.EventReservationCreateFailed,
		domain.EventReservationConfirmSucceeded,
		domain.EventReservationConfirmFailed,
		domain.EventReservationReleaseSucceeded,
		domain.EventPaymentCreateSucceeded,
		domain.EventPaymentCreateFailed:
		return TopicOrderReplies
	case domain.EventOrderCreated,
		domain.EventOrderCompleted,
		domain.EventOrderCancelled,
		domain.EventReservationExpired:
		return TopicOrderLifecycle
	case domain.EventProductUpdated, domain.EventProductDeleted:
		return TopicProductEvents
	case domain.EventDeadLetter:
		return TopicDeadLetterQueue
	default:
		return TopicOrderLifecycle
	}
}
