package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderConfig holds the timeouts OrderService works under.
type OrderConfig struct {
	StoreTimeout   time.Duration
	IdempotencyTTL time.Duration
	PublishTimeout time.Duration
}

// OrderService is the only writer of orders. It turns a customer's cart into
// an order in one transaction and moves orders through their status machine.
type OrderService struct {
	repo      Repository
	ledger    *InventoryLedger
	addresses *AddressSnapshotter
	publisher EventPublisher
	cache     IdempotencyCache
	cfg       OrderConfig
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache may be nil.
func NewOrderService(
	repo Repository,
	ledger *InventoryLedger,
	addresses *AddressSnapshotter,
	publisher EventPublisher,
	cache IdempotencyCache,
	cfg OrderConfig,
) *OrderService {
	return &OrderService{
		repo:      repo,
		ledger:    ledger,
		addresses: addresses,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		logger:    util.ComponentLogger("orders"),
	}
}

// PlaceOrderInput is a request to turn a customer's cart into an order.
type PlaceOrderInput struct {
	CustomerID     int64
	Address        *AddressInput
	IdempotencyKey string
}

// PlaceOrderResult is the placed order. Replayed is set when the idempotency
// key matched an earlier order and nothing new was written.
type PlaceOrderResult struct {
	models.OrderDetails
	Replayed bool `json:"replayed"`
}

// placement carries what a committed placement needs for its side effects.
type placement struct {
	details  models.OrderDetails
	levels   []models.StockLevel
	products map[int64]models.Product
}

// PlaceOrder converts the customer's cart into an order. Verification,
// pricing, the address snapshot, the order rows, the ledger commits and the
// cart cleanup form one transaction; on any failure nothing is kept and the
// cart reservations stay as they were.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder",
		attribute.Int64("customer_id", in.CustomerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() { util.PlaceOrderLatency.Observe(time.Since(start).Seconds()) }()

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		var existing *models.OrderDetails
		if existing, err = s.findByIdempotencyKey(ctx, in.CustomerID, key); err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", key),
				zap.Int64("order_id", existing.Order.ID))
			return &PlaceOrderResult{OrderDetails: *existing, Replayed: true}, nil
		}
	}

	var placed *placement
	placed, err = s.placeOrder(ctx, in, key)
	if key != "" && (errors.Is(err, models.ErrDuplicateOrder) || errors.Is(err, models.ErrEmptyCart)) {
		// A concurrent request with the same key may have committed first and
		// consumed the cart.
		existing, lookupErr := s.findByIdempotencyKey(ctx, in.CustomerID, key)
		if lookupErr == nil && existing != nil {
			err = nil
			return &PlaceOrderResult{OrderDetails: *existing, Replayed: true}, nil
		}
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Warn("Order placement failed",
			zap.Int64("customer_id", in.CustomerID),
			zap.Error(err))
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", placed.details.Order.ID),
		zap.Int64("customer_id", in.CustomerID),
		zap.String("total_amount", placed.details.Order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(placed.details.Items)))

	s.ledger.Publish(ctx, placed.levels...)
	if key != "" {
		s.rememberIdempotencyKey(ctx, in.CustomerID, key, placed.details.Order.ID)
	}
	s.publishOrderPlaced(ctx, &placed.details, placed.products)

	return &PlaceOrderResult{OrderDetails: placed.details}, nil
}

func (s *OrderService) placeOrder(ctx context.Context, in PlaceOrderInput, key string) (*placement, error) {
	tctx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	placed := &placement{}
	err := s.repo.WithTx(tctx, func(ctx context.Context) error {
		if _, err := s.repo.GetUserProfile(ctx, in.CustomerID); err != nil {
			return err
		}

		// Locks the cart rows, ordered by product id.
		lines, err := s.repo.ListCartItems(ctx, in.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}
		if len(lines) == 0 {
			return models.ErrEmptyCart
		}

		if err := s.ledger.VerifyReservations(ctx, lines); err != nil {
			return err
		}

		products, err := s.loadProducts(ctx, lines)
		if err != nil {
			return err
		}
		placed.products = products

		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(products[line.ProductID].Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		snapshot, err := s.addresses.Capture(ctx, in.CustomerID, in.Address)
		if err != nil {
			return fmt.Errorf("failed to capture address: %w", err)
		}

		order := models.Order{
			CustomerID:      in.CustomerID,
			Status:          models.OrderStatusPlaced,
			TotalAmount:     total,
			AddressSnapshot: snapshot,
		}
		if key != "" {
			order.IdempotencyKey = &key
		}
		if err := s.repo.CreateOrder(ctx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		items := make([]models.OrderItem, 0, len(lines))
		levels := make([]models.StockLevel, 0, len(lines))
		for _, line := range lines {
			product := products[line.ProductID]
			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   product.Price,
			}
			if err := s.repo.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			level, err := s.ledger.Commit(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			items = append(items, item)
			levels = append(levels, level)
		}

		// Only the lines loaded above; their units are sold, not released.
		for _, line := range lines {
			if err := s.repo.DeleteCartItem(ctx, in.CustomerID, line.ProductID); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		}

		placed.details = models.OrderDetails{Order: order, Items: items}
		placed.levels = levels
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (s *OrderService) loadProducts(ctx context.Context, lines []models.CartItem) (map[int64]models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
		}
	}
	return products, nil
}

func idempotencyCacheKey(customerID int64, key string) string {
	return fmt.Sprintf("place-order:%d:%s", customerID, key)
}

// findByIdempotencyKey checks the cache, then the database.
func (s *OrderService) findByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.OrderDetails, error) {
	if s.cache != nil {
		orderID, found, err := s.cache.LookupOrder(ctx, idempotencyCacheKey(customerID, key))
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if found {
			details, err := s.GetOrder(ctx, orderID)
			if err == nil && details.Order.CustomerID == customerID {
				return details, nil
			}
		}
	}

	order, err := s.repo.GetOrderByIdempotencyKey(ctx, customerID, key)
	if err != nil || order == nil {
		return nil, err
	}
	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &models.OrderDetails{Order: *order, Items: items}, nil
}

func (s *OrderService) rememberIdempotencyKey(ctx context.Context, customerID int64, key string, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.RememberOrder(ctx, idempotencyCacheKey(customerID, key), orderID, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to cache idempotency key",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// UpdateOrderStatus moves an order along an allowed edge. Cancelling returns
// the order's units to available stock in the same transaction.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(status)))
	var err error
	defer func() { util.EndSpan(span, err) }()

	tctx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var (
		order  *models.Order
		from   models.OrderStatus
		levels []models.StockLevel
	)
	err = s.repo.WithTx(tctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if !models.CanTransition(from, status) {
			return fmt.Errorf("order %d %s -> %s: %w", orderID, from, status, models.ErrInvalidTransition)
		}

		if status == models.OrderStatusCancelled {
			items, err := s.repo.GetOrderItems(ctx, orderID)
			if err != nil {
				return err
			}
			sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
			for _, item := range items {
				level, err := s.ledger.ReleaseSold(ctx, item.ProductID, item.Quantity)
				if err != nil {
					return err
				}
				levels = append(levels, level)
			}
		}

		if err := s.repo.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status
		order.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitions.WithLabelValues(string(status)).Inc()
	if status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	}
	s.ledger.Publish(ctx, levels...)
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))

	s.publish(ctx, models.EventTypeOrderStatusChanged, func(ctx context.Context) error {
		return s.publisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:    orderID,
			CustomerID: order.CustomerID,
			From:       from,
			To:         status,
		})
	})
	return order, nil
}

// GetOrder retrieves an order with its line items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	if order, err = s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	var items []models.OrderItem
	if items, err = s.repo.GetOrderItems(ctx, orderID); err != nil {
		return nil, err
	}
	return &models.OrderDetails{Order: *order, Items: items}, nil
}

// ListCustomerOrders returns the customer's orders newest first.
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListCustomerOrders", attribute.Int64("customer_id", customerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if _, err = s.repo.GetUserProfile(ctx, customerID); err != nil {
		return nil, err
	}
	var orders []models.Order
	if orders, err = s.repo.ListOrdersByCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	out := make([]models.OrderDetails, 0, len(orders))
	for _, o := range orders {
		var items []models.OrderItem
		if items, err = s.repo.GetOrderItems(ctx, o.ID); err != nil {
			return nil, err
		}
		out = append(out, models.OrderDetails{Order: o, Items: items})
	}
	return out, nil
}

// ListVendorOrders returns orders holding the vendor's products, each with
// only the vendor's lines.
func (s *OrderService) ListVendorOrders(ctx context.Context, vendorID int64) ([]models.OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListVendorOrders", attribute.Int64("vendor_id", vendorID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if _, err = s.repo.GetUserProfile(ctx, vendorID); err != nil {
		return nil, err
	}
	var orders []models.Order
	if orders, err = s.repo.ListOrdersByVendor(ctx, vendorID); err != nil {
		return nil, err
	}

	out := make([]models.OrderDetails, 0, len(orders))
	for _, o := range orders {
		var items []models.OrderItem
		if items, err = s.repo.GetOrderItems(ctx, o.ID); err != nil {
			return nil, err
		}
		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ProductID
		}
		var products map[int64]models.Product
		if products, err = s.repo.GetProductsByIDs(ctx, ids); err != nil {
			return nil, err
		}

		mine := make([]models.OrderItem, 0, len(items))
		for _, item := range items {
			if p, ok := products[item.ProductID]; ok && p.VendorID != nil && *p.VendorID == vendorID {
				mine = append(mine, item)
			}
		}
		out = append(out, models.OrderDetails{Order: o, Items: mine})
	}
	return out, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// publish runs send with its own deadline, detached from the caller's
// cancellation. Failures are logged and counted, never returned.
func (s *OrderService) publish(ctx context.Context, eventType string, send func(ctx context.Context) error) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout())
	defer cancel()

	if err := send(pctx); err != nil {
		util.EventPublishFailures.WithLabelValues(eventType).Inc()
		s.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *OrderService) publishTimeout() time.Duration {
	if s.cfg.PublishTimeout <= 0 {
		return 3 * time.Second
	}
	return s.cfg.PublishTimeout
}

// publishOrderPlaced emits ORDER_PLACED and one VENDOR_ORDER_PLACED per vendor.
func (s *OrderService) publishOrderPlaced(ctx context.Context, details *models.OrderDetails, products map[int64]models.Product) {
	order := details.Order
	all := make([]models.OrderItemData, 0, len(details.Items))
	byVendor := make(map[int64][]models.OrderItemData)
	for _, item := range details.Items {
		data := models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		all = append(all, data)
		if vendorID := products[item.ProductID].VendorID; vendorID != nil {
			byVendor[*vendorID] = append(byVendor[*vendorID], data)
		}
	}

	s.publish(ctx, models.EventTypeOrderPlaced, func(ctx context.Context) error {
		return s.publisher.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			TotalAmount: order.TotalAmount,
			Pincode:     order.Pincode,
			Items:       all,
		})
	})

	vendors := make([]int64, 0, len(byVendor))
	for vendorID := range byVendor {
		vendors = append(vendors, vendorID)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })

	for _, vendorID := range vendors {
		vendorID := vendorID
		s.publish(ctx, models.EventTypeVendorOrderPlaced, func(ctx context.Context) error {
			return s.publisher.PublishVendorOrderPlaced(ctx, &models.VendorOrderPlacedEvent{
				BaseEvent:  newBaseEvent(models.EventTypeVendorOrderPlaced),
				OrderID:    order.ID,
				VendorID:   vendorID,
				CustomerID: order.CustomerID,
				Items:      byVendor[vendorID],
			})
		})
	}
}
