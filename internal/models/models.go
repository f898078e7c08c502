package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry joined with its live inventory count.
type Product struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Category       string          `db:"category" json:"category"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Pincode        string          `db:"pincode" json:"pincode"`
	VendorID       *int64          `db:"vendor_id" json:"vendor_id,omitempty"`
	AvailableStock int             `db:"available_stock" json:"available_stock"`
}

// Inventory is the stock ledger row of a product.
// available + reserved + sold equals everything ever stocked.
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	Sold      int       `db:"sold" json:"sold"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StockLevel is the result of a ledger mutation.
type StockLevel struct {
	ProductID int64 `db:"product_id" json:"product_id"`
	Available int   `db:"available" json:"available"`
	Version   int64 `db:"version" json:"version"`
}

// CartItem is a reservation of units held in a customer's cart.
// MaxQuantity is the largest unit count a stock counter or cart line holds.
const MaxQuantity = math.MaxInt32

type CartItem struct {
	CustomerID int64     `db:"customer_id" json:"customer_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// AddressSnapshot is the shipping address frozen into an order.
type AddressSnapshot struct {
	FullAddress string `db:"full_address" json:"full_address"`
	Pincode     string `db:"pincode" json:"pincode"`
	Phone       string `db:"phone" json:"phone"`
}

// Order is immutable once created, except for Status.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	Status          OrderStatus     `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	AddressSnapshot `json:"address"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line of an order with its price frozen at purchase time.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Subtotal is UnitPrice × Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderDetails is an order together with its line items.
type OrderDetails struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}

// Address is an entry in a customer's address book.
type Address struct {
	ID          int64   `db:"id" json:"id"`
	CustomerID  int64   `db:"customer_id" json:"customer_id"`
	FullAddress string  `db:"full_address" json:"full_address"`
	Pincode     string  `db:"pincode" json:"pincode"`
	Phone       *string `db:"phone" json:"phone,omitempty"`
	IsDefault   bool    `db:"is_default" json:"is_default"`
}

// UserProfile holds the profile-level contact fields of a user.
type UserProfile struct {
	ID       int64   `db:"id" json:"id"`
	Username string  `db:"username" json:"username"`
	Role     string  `db:"role" json:"role"`
	Pincode  string  `db:"pincode" json:"pincode"`
	Phone    *string `db:"phone" json:"phone,omitempty"`
}

// User roles
const (
	RoleCustomer = "CUSTOMER"
	RoleVendor   = "VENDOR"
)

// Notification tells a vendor about an order containing their products.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	VendorID  int64     `db:"vendor_id" json:"vendor_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Message   string    `db:"message" json:"message"`
	ReadFlag  bool      `db:"read_flag" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
