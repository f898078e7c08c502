package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryLedger is the only writer of stock counters. Every mutation is a
// single conditional update on the product row, so calls on one product are
// linearizable and calls on different products never wait on each other.
// Mutations join the transaction carried by ctx, if any.
type InventoryLedger struct {
	store  InventoryStore
	mirror StockMirror
	logger *zap.Logger
}

// NewInventoryLedger creates a ledger. mirror may be nil.
func NewInventoryLedger(store InventoryStore, mirror StockMirror) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		mirror: mirror,
		logger: util.ComponentLogger("ledger"),
	}
}

// Reserve moves quantity units from available to reserved.
func (l *InventoryLedger) Reserve(ctx context.Context, productID int64, quantity int) (models.StockLevel, error) {
	if quantity <= 0 || quantity > models.MaxQuantity {
		return models.StockLevel{}, models.ErrInvalidQuantity
	}

	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve",
		attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))
	start := time.Now()
	level, err := l.reserve(ctx, productID, quantity)
	util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	util.EndSpan(span, err)
	return level, err
}

func (l *InventoryLedger) reserve(ctx context.Context, productID int64, quantity int) (models.StockLevel, error) {
	level, ok, err := l.store.ReserveStock(ctx, productID, quantity)
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return models.StockLevel{}, fmt.Errorf("failed to reserve stock for product %d: %w", productID, err)
	}
	if ok {
		return level, nil
	}

	inv, err := l.store.GetInventory(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			util.InventoryReservationsFailed.WithLabelValues("not_found").Inc()
			return models.StockLevel{}, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
		}
		return models.StockLevel{}, err
	}
	util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
	return models.StockLevel{}, &models.StockError{
		ProductID: productID,
		Requested: quantity,
		Available: inv.Available,
	}
}

// Release returns quantity reserved units to available.
// Releasing more than is reserved is an ErrInventoryInconsistency.
func (l *InventoryLedger) Release(ctx context.Context, productID int64, quantity int) (models.StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release",
		attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))
	level, err := l.guarded(ctx, "release", l.store.ReleaseStock, productID, quantity)
	util.EndSpan(span, err)
	return level, err
}

// Commit turns quantity reserved units into sold ones. Available is unchanged.
func (l *InventoryLedger) Commit(ctx context.Context, productID int64, quantity int) (models.StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Commit",
		attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))
	level, err := l.guarded(ctx, "commit", l.store.CommitStock, productID, quantity)
	util.EndSpan(span, err)
	return level, err
}

// ReleaseSold returns sold units to available when an order is cancelled.
func (l *InventoryLedger) ReleaseSold(ctx context.Context, productID int64, quantity int) (models.StockLevel, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReleaseSold",
		attribute.Int64("product_id", productID), attribute.Int("quantity", quantity))
	level, err := l.guarded(ctx, "release sold", l.store.RestockSold, productID, quantity)
	util.EndSpan(span, err)
	return level, err
}

type stockMutation func(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error)

// guarded runs a mutation whose guard can only fail on a bookkeeping bug.
func (l *InventoryLedger) guarded(ctx context.Context, op string, mutate stockMutation, productID int64, quantity int) (models.StockLevel, error) {
	if quantity <= 0 || quantity > models.MaxQuantity {
		return models.StockLevel{}, models.ErrInvalidQuantity
	}

	level, ok, err := mutate(ctx, productID, quantity)
	if err != nil {
		return models.StockLevel{}, fmt.Errorf("failed to %s stock for product %d: %w", op, productID, err)
	}
	if ok {
		return level, nil
	}

	inv, err := l.store.GetInventory(ctx, productID)
	if err != nil {
		return models.StockLevel{}, err
	}
	l.logger.Error("Inventory guard rejected mutation",
		zap.String("op", op),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("available", inv.Available),
		zap.Int("reserved", inv.Reserved),
		zap.Int("sold", inv.Sold))
	return models.StockLevel{}, fmt.Errorf("%s %d units of product %d (reserved=%d, sold=%d): %w",
		op, quantity, productID, inv.Reserved, inv.Sold, models.ErrInventoryInconsistency)
}

// VerifyReservations checks that the ledger's reserved counter covers every
// cart line. It never writes.
func (l *InventoryLedger) VerifyReservations(ctx context.Context, lines []models.CartItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.VerifyReservations",
		attribute.Int("lines", len(lines)))
	var err error
	defer func() { util.EndSpan(span, err) }()

	for _, line := range lines {
		var inv *models.Inventory
		inv, err = l.store.GetInventory(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if inv.Reserved < line.Quantity {
			err = fmt.Errorf("product %d has %d reserved, cart holds %d: %w",
				line.ProductID, inv.Reserved, line.Quantity, models.ErrInventoryInconsistency)
			return err
		}
	}
	return nil
}

// Publish pushes committed stock levels to the mirror. Failures are logged
// and counted; the database stays authoritative. A level that could not be
// written is evicted so reads fall back to the database. If the eviction
// fails too, the entry's expiry bounds how long it stays stale.
func (l *InventoryLedger) Publish(ctx context.Context, levels ...models.StockLevel) {
	if l.mirror == nil {
		return
	}
	for _, level := range levels {
		err := l.mirror.SyncStock(ctx, level)
		if err == nil {
			continue
		}
		util.InventoryMirrorErrors.Inc()
		l.logger.Warn("Failed to mirror stock level",
			zap.Int64("product_id", level.ProductID),
			zap.Int64("version", level.Version),
			zap.Error(err))
		if err := l.mirror.Evict(ctx, level.ProductID); err != nil {
			l.logger.Warn("Failed to evict stale stock level",
				zap.Int64("product_id", level.ProductID),
				zap.Error(err))
		}
	}
}

// Availability returns the available units of a product, from the mirror
// when it has the product, otherwise from the database.
func (l *InventoryLedger) Availability(ctx context.Context, productID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Availability",
		attribute.Int64("product_id", productID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if l.mirror != nil {
		available, found, mirrorErr := l.mirror.GetAvailable(ctx, productID)
		if mirrorErr != nil {
			l.logger.Warn("Stock mirror read failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(mirrorErr))
		} else if found {
			return available, nil
		}
	}

	var inv *models.Inventory
	inv, err = l.store.GetInventory(ctx, productID)
	if err != nil {
		return 0, err
	}
	l.Publish(ctx, models.StockLevel{ProductID: inv.ProductID, Available: inv.Available, Version: inv.Version})
	return inv.Available, nil
}

// SyncMirror copies every inventory row into the mirror and returns how many
// rows were read.
func (l *InventoryLedger) SyncMirror(ctx context.Context) (int, error) {
	if l.mirror == nil {
		return 0, nil
	}
	rows, err := l.store.ListInventory(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list inventory: %w", err)
	}
	for _, inv := range rows {
		l.Publish(ctx, models.StockLevel{ProductID: inv.ProductID, Available: inv.Available, Version: inv.Version})
	}
	l.logger.Info("Stock mirror synced", zap.Int("products", len(rows)))
	return len(rows), nil
}
