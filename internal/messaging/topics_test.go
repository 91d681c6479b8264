package messaging_test

import (
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		eventType domain.EventType
		want      string
	}{
		{domain.EventReservationCreateRequested, messaging.TopicInventoryRequests},
		{domain.EventReservationConfirmRequested, messaging.TopicInventoryRequests},
		{domain.EventReservationReleaseRequested, messaging.TopicInventoryRequests},
		{domain.EventPaymentCreateRequested, messaging.TopicPaymentRequests},
		{domain.EventReservationCreateSucceeded, messaging.TopicOrderReplies},
		{domain.EventReservationCreateFailed, messaging.TopicOrderReplies},
		{domain.EventReservationConfirmSucceeded, messaging.TopicOrderReplies},
		{domain.EventReservationConfirmFailed, messaging.TopicOrderReplies},
		{domain.EventReservationReleaseSucceeded, messaging.TopicOrderReplies},
		{domain.EventPaymentCreateSucceeded, messaging.TopicOrderReplies},
		{domain.EventPaymentCreateFailed, messaging.TopicOrderReplies},
		{domain.EventOrderCreated, messaging.TopicOrderLifecycle},
		{domain.EventOrderCompleted, messaging.TopicOrderLifecycle},
		{domain.EventOrderCancelled, messaging.TopicOrderLifecycle},
		{domain.EventReservationExpired, messaging.TopicOrderLifecycle},
		{domain.EventProductUpdated, messaging.TopicProductEvents},
		{domain.EventProductDeleted, messaging.TopicProductEvents},
		{domain.EventDeadLetter, messaging.TopicDeadLetterQueue},
		{domain.EventType("unknown.event"), messaging.TopicOrderLifecycle},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := messaging.TopicFor(tt.eventType); got != tt.want {
				t.Fatalf("TopicFor(%s) = %s, want %s", tt.eventType, got, tt.want)
			}
		})
	}
}
