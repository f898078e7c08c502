package worker

import (
	"context"

	"quickkart-service/internal/broker"
	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageSource is the consuming side of the broker.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// VendorNotifier turns a vendor order event into a notification.
type VendorNotifier interface {
	HandleVendorOrderPlaced(ctx context.Context, event *models.VendorOrderPlacedEvent) error
}

// NotificationWorker consumes order events and stores vendor notifications
type NotificationWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	backoff      broker.Backoff
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer MessageSource, notifier VendorNotifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnVendorOrderPlaced(notifier.HandleVendorOrderPlaced)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		backoff:      broker.DefaultBackoff,
		logger:       util.ComponentLogger("notification-worker"),
	}
}

// Start blocks until ctx is done. A message whose notification cannot be
// stored is retried until it succeeds, so it is never committed unhandled.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, broker.WithRetry(w.handle, w.backoff))
}

func (w *NotificationWorker) handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
