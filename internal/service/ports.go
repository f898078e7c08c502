package service

import (
	"context"
	"time"

	"quickkart-service/internal/models"
)

// TxRunner runs fn in a transaction carried by the context it passes to fn.
// Repository calls made with that context join the transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryStore mutates inventory rows with single conditional statements.
// ok=false means the guard failed and nothing was written.
type InventoryStore interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) (level models.StockLevel, ok bool, err error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) (level models.StockLevel, ok bool, err error)
	CommitStock(ctx context.Context, productID int64, quantity int) (level models.StockLevel, ok bool, err error)
	RestockSold(ctx context.Context, productID int64, quantity int) (level models.StockLevel, ok bool, err error)
	GetInventory(ctx context.Context, productID int64) (*models.Inventory, error)
	ListInventory(ctx context.Context) ([]models.Inventory, error)
}

// CatalogReader is the read side of the product catalog.
type CatalogReader interface {
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]models.Product, error)
}

type CartRepository interface {
	// AddCartQuantity creates the line or increments it and returns the result.
	AddCartQuantity(ctx context.Context, customerID, productID int64, delta int) (models.CartItem, error)
	SetCartQuantity(ctx context.Context, customerID, productID int64, quantity int) (models.CartItem, error)
	// GetCartItem returns nil when the line does not exist. Locks the row inside a transaction.
	GetCartItem(ctx context.Context, customerID, productID int64) (*models.CartItem, error)
	// ListCartItems orders lines by product id. Locks the rows inside a transaction.
	ListCartItems(ctx context.Context, customerID int64) ([]models.CartItem, error)
	DeleteCartItem(ctx context.Context, customerID, productID int64) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	// GetOrderByIdempotencyKey returns nil when no order carries the key.
	GetOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
	ListOrdersByVendor(ctx context.Context, vendorID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
}

// AddressBook reads saved addresses; the core never writes them.
type AddressBook interface {
	// GetDefaultAddress returns nil when the customer has no saved address.
	GetDefaultAddress(ctx context.Context, customerID int64) (*models.Address, error)
}

// ProfileReader reads user profiles; the core never writes them.
type ProfileReader interface {
	GetUserProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsByVendor(ctx context.Context, vendorID int64) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) (*models.Notification, error)
	// MarkEventProcessed records eventID and reports whether this call was
	// the first to do so.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Repository is everything the services need from persistent storage.
type Repository interface {
	TxRunner
	InventoryStore
	CatalogReader
	CartRepository
	OrderRepository
	AddressBook
	ProfileReader
	NotificationRepository
}

// StockMirror is a best-effort copy of available stock used for fast reads.
// Entries expire on their own; Evict drops one that may have missed an update.
type StockMirror interface {
	SyncStock(ctx context.Context, level models.StockLevel) error
	GetAvailable(ctx context.Context, productID int64) (available int, found bool, err error)
	Evict(ctx context.Context, productID int64) error
}

// IdempotencyCache remembers which order a place-order request key produced.
type IdempotencyCache interface {
	RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	LookupOrder(ctx context.Context, key string) (orderID int64, found bool, err error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishVendorOrderPlaced(ctx context.Context, event *models.VendorOrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}
