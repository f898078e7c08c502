package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventSink is where EventPublisher writes; *Producer in production.
type eventSink interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer eventSink
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderPlaced publishes ORDER_PLACED
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishVendorOrderPlaced publishes VENDOR_ORDER_PLACED
func (ep *EventPublisher) PublishVendorOrderPlaced(ctx context.Context, event *models.VendorOrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes ORDER_STATUS_CHANGED
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onVendorOrderPlaced func(context.Context, *models.VendorOrderPlacedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("events")}
}

// OnVendorOrderPlaced registers a handler for VENDOR_ORDER_PLACED events
func (eh *EventHandler) OnVendorOrderPlaced(handler func(context.Context, *models.VendorOrderPlacedEvent) error) {
	eh.onVendorOrderPlaced = handler
}

// HandleMessage routes messages to appropriate handlers. The event_type
// header wins; messages without it are typed from their payload.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	eventType := headerValue(msg, EventTypeHeader)
	if eventType == "" {
		var baseEvent models.BaseEvent
		if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
			return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrPoisonMessage, err)
		}
		eventType = baseEvent.EventType
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", eventType),
		zap.Int64("offset", msg.Offset))

	switch eventType {
	case models.EventTypeVendorOrderPlaced:
		if eh.onVendorOrderPlaced != nil {
			var event models.VendorOrderPlacedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal VendorOrderPlaced event: %v", ErrPoisonMessage, err)
			}
			return eh.onVendorOrderPlaced(ctx, &event)
		}

	case models.EventTypeOrderPlaced, models.EventTypeOrderStatusChanged:
		// Shares the topic; consumed elsewhere.

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", eventType))
	}

	return nil
}
