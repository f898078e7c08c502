package service

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// NotificationRepo is the storage NotificationService works against.
type NotificationRepo interface {
	TxRunner
	NotificationRepository
	ProfileReader
}

// NotificationService stores vendor notifications for placed orders.
type NotificationService struct {
	repo   NotificationRepo
	logger *zap.Logger
}

func NewNotificationService(repo NotificationRepo) *NotificationService {
	return &NotificationService{
		repo:   repo,
		logger: util.ComponentLogger("notifications"),
	}
}

// HandleVendorOrderPlaced creates the vendor's notification. Redelivered
// events are recognised by id and ignored.
func (s *NotificationService) HandleVendorOrderPlaced(ctx context.Context, event *models.VendorOrderPlacedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleVendorOrderPlaced",
		attribute.String("event_id", event.EventID),
		attribute.Int64("order_id", event.OrderID),
		attribute.Int64("vendor_id", event.VendorID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	created := false
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		// Claim the event id before writing anything, so a concurrent
		// delivery of the same event finds it taken.
		first, err := s.repo.MarkEventProcessed(ctx, event.EventID, event.EventType)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}

		units := 0
		for _, item := range event.Items {
			units += item.Quantity
		}
		n := &models.Notification{
			VendorID: event.VendorID,
			OrderID:  event.OrderID,
			Message:  fmt.Sprintf("New order #%d: %d item(s)", event.OrderID, units),
		}
		if err := s.repo.CreateNotification(ctx, n); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return err
	}

	if !created {
		s.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}
	util.NotificationsCreatedTotal.Inc()
	s.logger.Info("Vendor notified",
		zap.Int64("vendor_id", event.VendorID),
		zap.Int64("order_id", event.OrderID))
	return nil
}

// ListVendorNotifications returns the vendor's notifications newest first.
func (s *NotificationService) ListVendorNotifications(ctx context.Context, vendorID int64) ([]models.Notification, error) {
	if _, err := s.repo.GetUserProfile(ctx, vendorID); err != nil {
		return nil, err
	}
	return s.repo.ListNotificationsByVendor(ctx, vendorID)
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID int64) (*models.Notification, error) {
	return s.repo.MarkNotificationRead(ctx, notificationID)
}
