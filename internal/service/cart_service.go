package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartRepo is the storage CartService works against.
type CartRepo interface {
	TxRunner
	CartRepository
	CatalogReader
	ProfileReader
}

// CartService keeps cart lines and ledger reservations in step. Every change
// to a cart line and the matching ledger call commit or roll back together.
type CartService struct {
	repo    CartRepo
	ledger  *InventoryLedger
	timeout time.Duration
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo CartRepo, ledger *InventoryLedger, storeTimeout time.Duration) *CartService {
	return &CartService{
		repo:    repo,
		ledger:  ledger,
		timeout: storeTimeout,
		logger:  util.ComponentLogger("cart"),
	}
}

// CartLine is a cart line priced at the current catalog price.
type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartView is a customer's cart as shown to the customer.
type CartView struct {
	CustomerID int64           `json:"customer_id"`
	Items      []CartLine      `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

// AddItem reserves quantity units and adds them to the customer's cart line.
// On ErrInsufficientStock nothing is written.
func (s *CartService) AddItem(ctx context.Context, customerID, productID int64, quantity int) (*models.CartItem, error) {
	if quantity <= 0 || quantity > models.MaxQuantity {
		return nil, models.ErrInvalidQuantity
	}

	ctx, span := util.StartSpan(ctx, "CartService.AddItem",
		attribute.Int64("customer_id", customerID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	var (
		item  models.CartItem
		level models.StockLevel
	)
	err = s.repo.WithTx(tctx, func(ctx context.Context) error {
		if _, err := s.repo.GetUserProfile(ctx, customerID); err != nil {
			return err
		}
		if err := s.requireProduct(ctx, productID); err != nil {
			return err
		}

		// Cart row first, inventory row second.
		existing, err := s.repo.GetCartItem(ctx, customerID, productID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Quantity > models.MaxQuantity-quantity {
			return fmt.Errorf("cart line for product %d would exceed %d units: %w",
				productID, models.MaxQuantity, models.ErrInvalidQuantity)
		}
		item, err = s.repo.AddCartQuantity(ctx, customerID, productID, quantity)
		if err != nil {
			return err
		}
		level, err = s.ledger.Reserve(ctx, productID, quantity)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientStock) {
			s.logger.Info("Cart reservation rejected",
				zap.Int64("customer_id", customerID),
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
		return nil, err
	}

	util.CartReservationsTotal.Inc()
	s.ledger.Publish(ctx, level)
	s.logger.Info("Cart item reserved",
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("cart_quantity", item.Quantity))
	return &item, nil
}

// UpdateQuantity sets a cart line to newQuantity, reserving or releasing the
// difference. If a larger reservation fails the line is left unchanged.
func (s *CartService) UpdateQuantity(ctx context.Context, customerID, productID int64, newQuantity int) (*models.CartItem, error) {
	if newQuantity <= 0 || newQuantity > models.MaxQuantity {
		return nil, models.ErrInvalidQuantity
	}

	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity",
		attribute.Int64("customer_id", customerID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", newQuantity))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	var (
		item    models.CartItem
		level   models.StockLevel
		delta   int
		changed bool
	)
	err = s.repo.WithTx(tctx, func(ctx context.Context) error {
		line, err := s.repo.GetCartItem(ctx, customerID, productID)
		if err != nil {
			return err
		}
		if line == nil {
			return fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
		}

		delta = newQuantity - line.Quantity
		switch {
		case delta > 0:
			level, err = s.ledger.Reserve(ctx, productID, delta)
		case delta < 0:
			level, err = s.ledger.Release(ctx, productID, -delta)
		default:
			item = *line
			return nil
		}
		if err != nil {
			return err
		}
		changed = true

		item, err = s.repo.SetCartQuantity(ctx, customerID, productID, newQuantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if delta > 0 {
			util.CartReservationsTotal.Inc()
		} else {
			util.CartReleasesTotal.WithLabelValues("reduce").Inc()
		}
		s.ledger.Publish(ctx, level)
	}
	s.logger.Info("Cart quantity updated",
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", productID),
		zap.Int("delta", delta))
	return &item, nil
}

// RemoveItem releases the line's reservation and deletes the line.
func (s *CartService) RemoveItem(ctx context.Context, customerID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem",
		attribute.Int64("customer_id", customerID),
		attribute.Int64("product_id", productID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	var level models.StockLevel
	err = s.repo.WithTx(tctx, func(ctx context.Context) error {
		line, err := s.repo.GetCartItem(ctx, customerID, productID)
		if err != nil {
			return err
		}
		if line == nil {
			return fmt.Errorf("cart item for product %d: %w", productID, models.ErrNotFound)
		}
		if level, err = s.ledger.Release(ctx, productID, line.Quantity); err != nil {
			return err
		}
		return s.repo.DeleteCartItem(ctx, customerID, productID)
	})
	if err != nil {
		return err
	}

	util.CartReleasesTotal.WithLabelValues("remove").Inc()
	s.ledger.Publish(ctx, level)
	s.logger.Info("Cart item removed",
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", productID))
	return nil
}

// ClearCart releases and deletes every line of the customer's cart.
func (s *CartService) ClearCart(ctx context.Context, customerID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart",
		attribute.Int64("customer_id", customerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	var levels []models.StockLevel
	err = s.repo.WithTx(tctx, func(ctx context.Context) error {
		if _, err := s.repo.GetUserProfile(ctx, customerID); err != nil {
			return err
		}
		// Lines come back ordered by product id, which fixes the inventory lock order.
		lines, err := s.repo.ListCartItems(ctx, customerID)
		if err != nil {
			return err
		}
		levels = make([]models.StockLevel, 0, len(lines))
		for _, line := range lines {
			level, err := s.ledger.Release(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			levels = append(levels, level)
		}
		for _, line := range lines {
			if err := s.repo.DeleteCartItem(ctx, customerID, line.ProductID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	util.CartReleasesTotal.WithLabelValues("clear").Add(float64(len(levels)))
	s.ledger.Publish(ctx, levels...)
	s.logger.Info("Cart cleared",
		zap.Int64("customer_id", customerID),
		zap.Int("lines", len(levels)))
	return nil
}

// GetCart returns the customer's cart priced at current catalog prices.
func (s *CartService) GetCart(ctx context.Context, customerID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart",
		attribute.Int64("customer_id", customerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	if _, err = s.repo.GetUserProfile(tctx, customerID); err != nil {
		return nil, err
	}
	var lines []models.CartItem
	if lines, err = s.repo.ListCartItems(tctx, customerID); err != nil {
		return nil, err
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	var products map[int64]models.Product
	if products, err = s.repo.GetProductsByIDs(tctx, ids); err != nil {
		return nil, err
	}

	view := &CartView{CustomerID: customerID, Items: make([]CartLine, 0, len(lines)), Total: decimal.Zero}
	for _, line := range lines {
		p := products[line.ProductID]
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		view.Items = append(view.Items, CartLine{
			ProductID:   line.ProductID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    line.Quantity,
			Subtotal:    subtotal,
		})
		view.Total = view.Total.Add(subtotal)
	}
	return view, nil
}

func (s *CartService) requireProduct(ctx context.Context, productID int64) error {
	products, err := s.repo.GetProductsByIDs(ctx, []int64{productID})
	if err != nil {
		return err
	}
	if _, ok := products[productID]; !ok {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	return nil
}
