package store

import (
	"context"
	"fmt"

	"quickkart-service/internal/models"
)

// GetDefaultAddress returns the address flagged default, else the oldest
// saved one, else nil.
func (s *Store) GetDefaultAddress(ctx context.Context, customerID int64) (*models.Address, error) {
	var addr models.Address
	err := s.conn(ctx).GetContext(ctx, &addr,
		`SELECT id, customer_id, full_address, pincode, phone, is_default
		 FROM addresses WHERE customer_id = $1
		 ORDER BY is_default DESC, created_at ASC, id ASC
		 LIMIT 1`, customerID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetUserProfile retrieves a user's profile
func (s *Store) GetUserProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.conn(ctx).GetContext(ctx, &profile,
		`SELECT id, username, role, pincode, phone FROM users WHERE id = $1`, userID)
	if isNoRows(err) {
		return nil, fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
