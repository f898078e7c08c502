package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeVendorOrderPlaced  = "VENDOR_ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published once per placed order
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	CustomerID  int64           `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Pincode     string          `json:"pincode"`
	Items       []OrderItemData `json:"items"`
}

// VendorOrderPlacedEvent published once per vendor with products in a placed order
type VendorOrderPlacedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	VendorID   int64           `json:"vendor_id"`
	CustomerID int64           `json:"customer_id"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after a status transition commits
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
