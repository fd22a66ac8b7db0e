package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"settlement-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing payout lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPayoutCreated publishes PayoutCreated event
func (ep *EventPublisher) PublishPayoutCreated(ctx context.Context, event *models.PayoutCreatedEvent) error {
	key := fmt.Sprintf("payout-%d", event.PayoutID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes payment-execution results to registered handlers
type EventHandler struct {
	onPayoutCompleted func(context.Context, *models.PayoutCompletedEvent) error
	onPayoutFailed    func(context.Context, *models.PayoutFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPayoutCompleted registers a handler for PayoutCompleted events
func (eh *EventHandler) OnPayoutCompleted(handler func(context.Context, *models.PayoutCompletedEvent) error) {
	eh.onPayoutCompleted = handler
}

// OnPayoutFailed registers a handler for PayoutFailed events
func (eh *EventHandler) OnPayoutFailed(handler func(context.Context, *models.PayoutFailedEvent) error) {
	eh.onPayoutFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypePayoutCompleted:
		if eh.onPayoutCompleted != nil {
			var event models.PayoutCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PayoutCompleted event: %w", err)
			}
			return eh.onPayoutCompleted(ctx, &event)
		}

	case models.EventTypePayoutFailed:
		if eh.onPayoutFailed != nil {
			var event models.PayoutFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PayoutFailed event: %w", err)
			}
			return eh.onPayoutFailed(ctx, &event)
		}

	default:
		// PAYOUT_CREATED flows outbound only; anything else is another
		// service's traffic on a shared topic.
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
