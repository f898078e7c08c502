package service

import (
	"context"
	"errors"
	"time"

	"quickkart-service/internal/models"
)

// withStoreTimeout bounds a unit of storage work. A transaction cut short by
// the deadline is rolled back, so the outcome is never ambiguous.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// failureReason labels err for the failure counters.
func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInventoryInconsistency):
		return "inventory_inconsistency"
	case errors.Is(err, models.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "db_error"
	}
}
