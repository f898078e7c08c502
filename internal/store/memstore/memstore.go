// Package memstore is an in-memory implementation of the service repositories.
// Transactions are serialized and rolled back by replaying an undo journal,
// which is enough to exercise the services' atomicity guarantees in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quickkart-service/internal/models"
)

type txKey struct{}

type memTx struct {
	store *Store
	undo  []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

type cartKey struct {
	customerID int64
	productID  int64
}

type fault struct {
	remaining int
	err       error
}

type Store struct {
	mu sync.Mutex

	users         map[int64]models.UserProfile
	addresses     map[int64][]models.Address
	products      map[int64]models.Product
	inventory     map[int64]*models.Inventory
	cart          map[cartKey]models.CartItem
	orders        map[int64]models.Order
	orderItems    map[int64][]models.OrderItem
	notifications map[int64]models.Notification
	processed     map[string]string

	nextID int64
	faults map[string]*fault
	now    func() time.Time
}

func New() *Store {
	return &Store{
		users:         make(map[int64]models.UserProfile),
		addresses:     make(map[int64][]models.Address),
		products:      make(map[int64]models.Product),
		inventory:     make(map[int64]*models.Inventory),
		cart:          make(map[cartKey]models.CartItem),
		orders:        make(map[int64]models.Order),
		orderItems:    make(map[int64][]models.OrderItem),
		notifications: make(map[int64]models.Notification),
		processed:     make(map[string]string),
		faults:        make(map[string]*fault),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes the nth next call of op return err. op is the method name,
// or "Commit" for the end of a transaction.
func (s *Store) FailOn(op string, nth int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{remaining: nth, err: err}
}

func (s *Store) injected(op string) error {
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	f.remaining--
	if f.remaining > 0 {
		return nil
	}
	delete(s.faults, op)
	return f.err
}

func (s *Store) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	if tx == nil || tx.store != s {
		return nil
	}
	return tx
}

// enter takes the store lock unless ctx already runs inside one of its transactions.
func (s *Store) enter(ctx context.Context, op string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := func() {}
	if s.txFrom(ctx) == nil {
		s.mu.Lock()
		release = s.mu.Unlock
	}
	if err := s.injected(op); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (s *Store) record(ctx context.Context, undo func()) {
	if tx := s.txFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// WithTx runs fn with exclusive access to the store. Any error, including a
// context that ended before commit, undoes every change fn made.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.injected("Commit")
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Seeding helpers, used by tests to set up fixtures.

// AddUser stores a profile and returns its id.
func (s *Store) AddUser(p models.UserProfile) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.users[p.ID] = p
	return p.ID
}

// SaveAddress appends an address to the customer's book and returns its id.
func (s *Store) SaveAddress(a models.Address) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.addresses[a.CustomerID] = append(s.addresses[a.CustomerID], a)
	return a.ID
}

// AddProduct stores a product with an initial available count.
func (s *Store) AddProduct(p models.Product, available int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.AvailableStock = 0
	s.products[p.ID] = p
	s.inventory[p.ID] = &models.Inventory{ProductID: p.ID, Available: available, UpdatedAt: s.now()}
	return p.ID
}

// Inventory returns a copy of the product's ledger row.
func (s *Store) Inventory(productID int64) (models.Inventory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[productID]
	if !ok {
		return models.Inventory{}, false
	}
	return *inv, true
}

// CartQuantity returns the quantity of a cart line, 0 when absent.
func (s *Store) CartQuantity(customerID, productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart[cartKey{customerID, productID}].Quantity
}

// TotalCartQuantity sums every cart line holding productID.
func (s *Store) TotalCartQuantity(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for k, item := range s.cart {
		if k.productID == productID {
			total += item.Quantity
		}
	}
	return total
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Inventory

func (s *Store) ReserveStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "ReserveStock", productID, func(inv *models.Inventory) bool {
		if inv.Available < quantity {
			return false
		}
		inv.Available -= quantity
		inv.Reserved += quantity
		return true
	})
}

func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "ReleaseStock", productID, func(inv *models.Inventory) bool {
		if inv.Reserved < quantity {
			return false
		}
		inv.Reserved -= quantity
		inv.Available += quantity
		return true
	})
}

func (s *Store) CommitStock(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "CommitStock", productID, func(inv *models.Inventory) bool {
		if inv.Reserved < quantity {
			return false
		}
		inv.Reserved -= quantity
		inv.Sold += quantity
		return true
	})
}

func (s *Store) RestockSold(ctx context.Context, productID int64, quantity int) (models.StockLevel, bool, error) {
	return s.mutateStock(ctx, "RestockSold", productID, func(inv *models.Inventory) bool {
		if inv.Sold < quantity {
			return false
		}
		inv.Sold -= quantity
		inv.Available += quantity
		return true
	})
}

func (s *Store) mutateStock(ctx context.Context, op string, productID int64, apply func(*models.Inventory) bool) (models.StockLevel, bool, error) {
	release, err := s.enter(ctx, op)
	if err != nil {
		return models.StockLevel{}, false, err
	}
	defer release()

	inv, ok := s.inventory[productID]
	if !ok {
		return models.StockLevel{}, false, nil
	}
	before := *inv
	if !apply(inv) {
		return models.StockLevel{}, false, nil
	}
	inv.Version++
	inv.UpdatedAt = s.now()
	s.record(ctx, func() { *s.inventory[productID] = before })
	return models.StockLevel{ProductID: productID, Available: inv.Available, Version: inv.Version}, true, nil
}

func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	release, err := s.enter(ctx, "GetInventory")
	if err != nil {
		return nil, err
	}
	defer release()

	inv, ok := s.inventory[productID]
	if !ok {
		return nil, fmt.Errorf("inventory for product %d: %w", productID, models.ErrNotFound)
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	release, err := s.enter(ctx, "ListInventory")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]models.Inventory, 0, len(s.inventory))
	for _, inv := range s.inventory {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Catalog

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	release, err := s.enter(ctx, "GetProductsByIDs")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make(map[int64]models.Product, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		if inv, ok := s.inventory[id]; ok {
			p.AvailableStock = inv.Available
		}
		out[id] = p
	}
	return out, nil
}

// Cart

func (s *Store) AddCartQuantity(ctx context.Context, customerID, productID int64, delta int) (models.CartItem, error) {
	release, err := s.enter(ctx, "AddCartQuantity")
	if err != nil {
		return models.CartItem{}, err
	}
	defer release()

	key := cartKey{customerID, productID}
	before, existed := s.cart[key]
	now := s.now()
	item := before
	if !existed {
		item = models.CartItem{CustomerID: customerID, ProductID: productID, CreatedAt: now}
	}
	item.Quantity += delta
	item.UpdatedAt = now
	s.cart[key] = item
	s.record(ctx, s.restoreCart(key, before, existed))
	return item, nil
}

func (s *Store) SetCartQuantity(ctx context.Context, customerID, productID int64, quantity int) (models.CartItem, error) {
	release, err := s.enter(ctx, "SetCartQuantity")
	if err != nil {
		return models.CartItem{}, err
	}
	defer release()

	key := cartKey{customerID, productID}
	before, ok := s.cart[key]
	if !ok {
		return models.CartItem{}, fmt.Errorf("cart item %d/%d: %w", customerID, productID, models.ErrNotFound)
	}
	item := before
	item.Quantity = quantity
	item.UpdatedAt = s.now()
	s.cart[key] = item
	s.record(ctx, s.restoreCart(key, before, true))
	return item, nil
}

func (s *Store) GetCartItem(ctx context.Context, customerID, productID int64) (*models.CartItem, error) {
	release, err := s.enter(ctx, "GetCartItem")
	if err != nil {
		return nil, err
	}
	defer release()

	item, ok := s.cart[cartKey{customerID, productID}]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) ListCartItems(ctx context.Context, customerID int64) ([]models.CartItem, error) {
	release, err := s.enter(ctx, "ListCartItems")
	if err != nil {
		return nil, err
	}
	defer release()

	items := []models.CartItem{}
	for k, item := range s.cart {
		if k.customerID == customerID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (s *Store) DeleteCartItem(ctx context.Context, customerID, productID int64) error {
	release, err := s.enter(ctx, "DeleteCartItem")
	if err != nil {
		return err
	}
	defer release()

	key := cartKey{customerID, productID}
	before, ok := s.cart[key]
	if !ok {
		return nil
	}
	delete(s.cart, key)
	s.record(ctx, s.restoreCart(key, before, true))
	return nil
}

func (s *Store) restoreCart(key cartKey, before models.CartItem, existed bool) func() {
	return func() {
		if existed {
			s.cart[key] = before
		} else {
			delete(s.cart, key)
		}
	}
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	release, err := s.enter(ctx, "CreateOrder")
	if err != nil {
		return err
	}
	defer release()

	if order.IdempotencyKey != nil {
		for _, o := range s.orders {
			if o.CustomerID == order.CustomerID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return models.ErrDuplicateOrder
			}
		}
	}

	order.ID = s.id()
	order.CreatedAt = s.now()
	order.UpdatedAt = order.CreatedAt
	s.orders[order.ID] = *order
	id := order.ID
	s.record(ctx, func() { delete(s.orders, id) })
	return nil
}

func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	release, err := s.enter(ctx, "CreateOrderItem")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := s.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", item.OrderID, models.ErrNotFound)
	}
	item.ID = s.id()
	before := s.orderItems[item.OrderID]
	s.orderItems[item.OrderID] = append(before[:len(before):len(before)], *item)
	orderID := item.OrderID
	s.record(ctx, func() {
		if len(before) == 0 {
			delete(s.orderItems, orderID)
			return
		}
		s.orderItems[orderID] = before
	})
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.getOrder(ctx, "GetOrder", orderID)
}

func (s *Store) GetOrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.getOrder(ctx, "GetOrderForUpdate", orderID)
}

func (s *Store) getOrder(ctx context.Context, op string, orderID int64) (*models.Order, error) {
	release, err := s.enter(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	release, err := s.enter(ctx, "GetOrderItems")
	if err != nil {
		return nil, err
	}
	defer release()

	return append([]models.OrderItem{}, s.orderItems[orderID]...), nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error) {
	release, err := s.enter(ctx, "GetOrderByIdempotencyKey")
	if err != nil {
		return nil, err
	}
	defer release()

	for _, o := range s.orders {
		if o.CustomerID == customerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	release, err := s.enter(ctx, "ListOrdersByCustomer")
	if err != nil {
		return nil, err
	}
	defer release()

	return s.collectOrders(func(o models.Order) bool { return o.CustomerID == customerID }), nil
}

func (s *Store) ListOrdersByVendor(ctx context.Context, vendorID int64) ([]models.Order, error) {
	release, err := s.enter(ctx, "ListOrdersByVendor")
	if err != nil {
		return nil, err
	}
	defer release()

	return s.collectOrders(func(o models.Order) bool {
		for _, item := range s.orderItems[o.ID] {
			if p, ok := s.products[item.ProductID]; ok && p.VendorID != nil && *p.VendorID == vendorID {
				return true
			}
		}
		return false
	}), nil
}

// collectOrders returns matching orders newest first.
func (s *Store) collectOrders(match func(models.Order) bool) []models.Order {
	out := []models.Order{}
	for _, o := range s.orders {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	release, err := s.enter(ctx, "UpdateOrderStatus")
	if err != nil {
		return err
	}
	defer release()

	before, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	updated := before
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.orders[orderID] = updated
	s.record(ctx, func() { s.orders[orderID] = before })
	return nil
}

// Users and addresses

func (s *Store) GetDefaultAddress(ctx context.Context, customerID int64) (*models.Address, error) {
	release, err := s.enter(ctx, "GetDefaultAddress")
	if err != nil {
		return nil, err
	}
	defer release()

	book := s.addresses[customerID]
	if len(book) == 0 {
		return nil, nil
	}
	for _, a := range book {
		if a.IsDefault {
			found := a
			return &found, nil
		}
	}
	first := book[0]
	return &first, nil
}

func (s *Store) GetUserProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	release, err := s.enter(ctx, "GetUserProfile")
	if err != nil {
		return nil, err
	}
	defer release()

	p, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, models.ErrNotFound)
	}
	return &p, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	release, err := s.enter(ctx, "CreateNotification")
	if err != nil {
		return err
	}
	defer release()

	n.ID = s.id()
	n.CreatedAt = s.now()
	n.ReadFlag = false
	s.notifications[n.ID] = *n
	id := n.ID
	s.record(ctx, func() { delete(s.notifications, id) })
	return nil
}

func (s *Store) ListNotificationsByVendor(ctx context.Context, vendorID int64) ([]models.Notification, error) {
	release, err := s.enter(ctx, "ListNotificationsByVendor")
	if err != nil {
		return nil, err
	}
	defer release()

	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.VendorID == vendorID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id int64) (*models.Notification, error) {
	release, err := s.enter(ctx, "MarkNotificationRead")
	if err != nil {
		return nil, err
	}
	defer release()

	before, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %d: %w", id, models.ErrNotFound)
	}
	updated := before
	updated.ReadFlag = true
	s.notifications[id] = updated
	s.record(ctx, func() { s.notifications[id] = before })
	return &updated, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	release, err := s.enter(ctx, "MarkEventProcessed")
	if err != nil {
		return false, err
	}
	defer release()

	if _, ok := s.processed[eventID]; ok {
		return false, nil
	}
	s.processed[eventID] = eventType
	s.record(ctx, func() { delete(s.processed, eventID) })
	return true, nil
}
