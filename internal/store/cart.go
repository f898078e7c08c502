package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
)

const cartColumns = `customer_id, product_id, quantity, created_at, updated_at`

// AddCartQuantity inserts the cart line or increments an existing one.
func (s *Store) AddCartQuantity(ctx context.Context, customerID, productID int64, delta int) (models.CartItem, error) {
	var item models.CartItem
	err := s.conn(ctx).GetContext(ctx, &item, `
		INSERT INTO cart_items (customer_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING `+cartColumns, customerID, productID, delta)
	if err != nil {
		return models.CartItem{}, fmt.Errorf("upsert cart item: %w", err)
	}
	return item, nil
}

// SetCartQuantity overwrites the quantity of an existing cart line.
func (s *Store) SetCartQuantity(ctx context.Context, customerID, productID int64, quantity int) (models.CartItem, error) {
	var item models.CartItem
	err := s.conn(ctx).GetContext(ctx, &item, `
		UPDATE cart_items SET quantity = $3, updated_at = NOW()
		WHERE customer_id = $1 AND product_id = $2
		RETURNING `+cartColumns, customerID, productID, quantity)
	if isNoRows(err) {
		return models.CartItem{}, fmt.Errorf("cart item %d/%d: %w", customerID, productID, models.ErrNotFound)
	}
	if err != nil {
		return models.CartItem{}, fmt.Errorf("update cart item: %w", err)
	}
	return item, nil
}

// GetCartItem returns nil when the line does not exist.
func (s *Store) GetCartItem(ctx context.Context, customerID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.conn(ctx).GetContext(ctx, &item,
		`SELECT `+cartColumns+` FROM cart_items
		 WHERE customer_id = $1 AND product_id = $2`+lockClause(ctx), customerID, productID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListCartItems returns the customer's cart lines ordered by product id.
func (s *Store) ListCartItems(ctx context.Context, customerID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.conn(ctx).SelectContext(ctx, &items,
		`SELECT `+cartColumns+` FROM cart_items
		 WHERE customer_id = $1 ORDER BY product_id`+lockClause(ctx), customerID)
	return items, err
}

func (s *Store) DeleteCartItem(ctx context.Context, customerID, productID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE customer_id = $1 AND product_id = $2`, customerID, productID)
	return err
}
