package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
)

const orderColumns = `
	o.id, o.customer_id, o.status, o.total_amount, o.idempotency_key,
	o.full_address, o.pincode, o.phone, o.created_at, o.updated_at`

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, status, total_amount, idempotency_key, full_address, pincode, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := s.conn(ctx).GetContext(ctx, order, query,
		order.CustomerID, order.Status, order.TotalAmount, order.IdempotencyKey,
		order.FullAddress, order.Pincode, order.Phone)
	if isUniqueViolation(err) {
		return models.ErrDuplicateOrder
	}
	return err
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.conn(ctx).GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, id, "")
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, id, lockClause(ctx))
}

func (s *Store) getOrder(ctx context.Context, id int64, lock string) (*models.Order, error) {
	var order models.Order
	err := s.conn(ctx).GetContext(ctx, &order,
		`SELECT`+orderColumns+` FROM orders o WHERE o.id = $1`+lock, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil when the customer has no order with key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.conn(ctx).GetContext(ctx, &order,
		`SELECT`+orderColumns+` FROM orders o
		 WHERE o.customer_id = $1 AND o.idempotency_key = $2`, customerID, key)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.conn(ctx).SelectContext(ctx, &items,
		`SELECT id, order_id, product_id, product_name, quantity, unit_price
		 FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return items, err
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.conn(ctx).SelectContext(ctx, &orders,
		`SELECT`+orderColumns+` FROM orders o
		 WHERE o.customer_id = $1 ORDER BY o.created_at DESC, o.id DESC`, customerID)
	return orders, err
}

// ListOrdersByVendor returns orders containing at least one of the vendor's products.
func (s *Store) ListOrdersByVendor(ctx context.Context, vendorID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.conn(ctx).SelectContext(ctx, &orders,
		`SELECT`+orderColumns+` FROM orders o
		 WHERE EXISTS (
			SELECT 1 FROM order_items oi JOIN products p ON p.id = oi.product_id
			WHERE oi.order_id = o.id AND p.vendor_id = $1)
		 ORDER BY o.created_at DESC, o.id DESC`, vendorID)
	return orders, err
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return nil
}
