package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrNotFound               = errors.New("not found")
	ErrInventoryInconsistency = errors.New("inventory inconsistency")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrInvalidQuantity        = errors.New("quantity must be between 1 and 2147483647")
	ErrDuplicateOrder         = errors.New("order already exists for idempotency key")
)

// StockError reports a reservation that exceeded the available units.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested=%d, available=%d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}
