package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
)

// CreateNotification stores a vendor notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.conn(ctx).GetContext(ctx, n,
		`INSERT INTO notifications (vendor_id, order_id, message)
		 VALUES ($1, $2, $3)
		 RETURNING id, vendor_id, order_id, message, read_flag, created_at`,
		n.VendorID, n.OrderID, n.Message)
}

// ListNotificationsByVendor returns the vendor's notifications, newest first.
func (s *Store) ListNotificationsByVendor(ctx context.Context, vendorID int64) ([]models.Notification, error) {
	out := []models.Notification{}
	err := s.conn(ctx).SelectContext(ctx, &out,
		`SELECT id, vendor_id, order_id, message, read_flag, created_at
		 FROM notifications WHERE vendor_id = $1
		 ORDER BY created_at DESC, id DESC`, vendorID)
	return out, err
}

// MarkNotificationRead sets the read flag and returns the updated row.
func (s *Store) MarkNotificationRead(ctx context.Context, id int64) (*models.Notification, error) {
	var n models.Notification
	err := s.conn(ctx).GetContext(ctx, &n,
		`UPDATE notifications SET read_flag = TRUE WHERE id = $1
		 RETURNING id, vendor_id, order_id, message, read_flag, created_at`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("notification %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkEventProcessed inserts the event id and reports whether the row is new.
// A concurrent insert of the same id waits on the primary key and then
// reports false.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
