package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
)

// Each mutation is a single conditional UPDATE. ok=false means the guard
// rejected the change and the row is untouched.

const reserveStockQuery = `
	UPDATE inventory
	SET available = available - $1, reserved = reserved + $1,
	    version = version + 1, updated_at = NOW()
	WHERE product_id = $2 AND available >= $1
	RETURNING product_id, available, version`

const releaseStockQuery = `
	UPDATE inventory
	SET available = available + $1, reserved = reserved - $1,
	    version = version + 1, updated_at = NOW()
	WHERE product_id = $2 AND reserved >= $1
	RETURNING product_id, available, version`

const commitStockQuery = `
	UPDATE inventory
	SET reserved = reserved - $1, sold = sold + $1,
	    version = version + 1, updated_at = NOW()
	WHERE product_id = $2 AND reserved >= $1
	RETURNING product_id, available, version`

const restockSoldQuery = `
	UPDATE inventory
	SET sold = sold - $1, available = available + $1,
	    version = version + 1, updated_at = NOW()
	WHERE product_id = $2 AND sold >= $1
	RETURNING product_id, available, version`

// ReserveStock moves quantity units from available to reserved.
func (s *Store) ReserveStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "reserve", reserveStockQuery, productID, quantity)
}

// ReleaseStock moves quantity units from reserved back to available.
func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "release", releaseStockQuery, productID, quantity)
}

// CommitStock moves quantity units from reserved to sold.
func (s *Store) CommitStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "commit", commitStockQuery, productID, quantity)
}

// RestockSold returns sold units to available when an order is cancelled.
func (s *Store) RestockSold(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "restock", restockSoldQuery, productID, quantity)
}

func (s *Store) mutateStock(ctx context.Context, op, query string, productID int64, quantity int) (models.StockLevel, bool, error) {
	var level models.StockLevel
	err := s.conn(ctx).GetContext(ctx, &level, query, quantity, productID)
	if isNoRows(err) {
		return models.StockLevel{}, false, nil
	}
	if err != nil {
		return models.StockLevel{}, false, fmt.Errorf("%s stock for product %d: %w", op, productID, err)
	}
	return level, true, nil
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.conn(ctx).GetContext(ctx, &inv,
		`SELECT product_id, available, reserved, sold, version, updated_at
		 FROM inventory WHERE product_id = $1`, productID)
	if isNoRows(err) {
		return nil, fmt.Errorf("inventory for product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInventory returns every inventory row ordered by product id.
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var rows []models.Inventory
	err := s.conn(ctx).SelectContext(ctx, &rows,
		`SELECT product_id, available, reserved, sold, version, updated_at
		 FROM inventory ORDER BY product_id`)
	return rows, err
}
