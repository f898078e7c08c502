package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `
	p.id, p.name, p.category, p.price, p.pincode, p.vendor_id,
	COALESCE(i.available, 0) AS available_stock`

// GetProduct retrieves a product with its available stock
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.conn(ctx).GetContext(ctx, &product,
		`SELECT`+productColumns+`
		 FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		 WHERE p.id = $1`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products keyed by id.
// Unknown ids are absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	out := make(map[int64]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT`+productColumns+`
		 FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		 WHERE p.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.conn(ctx).SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}
