package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// cartOfTwo fills the customer's cart with 2 × A @ 10.00 and 1 × B @ 5.00.
func cartOfTwo(t *testing.T, fx *fixture) (a, b int64) {
	t.Helper()
	ctx := context.Background()
	a = fx.product("productA", "10.00", 10)
	b = fx.product("productB", "5.00", 10)
	_, err := fx.carts.AddItem(ctx, fx.customer, a, 2)
	require.NoError(t, err)
	_, err = fx.carts.AddItem(ctx, fx.customer, b, 1)
	require.NoError(t, err)
	return a, b
}

func TestPlaceOrderFromCart(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.store.SaveAddress(models.Address{
		CustomerID: fx.customer, FullAddress: "12 Main St", Pincode: "560001", Phone: strPtr("555-0100"), IsDefault: true,
	})
	a, b := cartOfTwo(t, fx)
	placedBefore := testutil.ToFloat64(util.OrdersPlacedTotal)

	res, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, models.OrderStatusPlaced, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("25.0")), order.TotalAmount.String())
	assert.Equal(t, models.AddressSnapshot{FullAddress: "12 Main St", Pincode: "560001", Phone: "555-0100"}, order.AddressSnapshot)
	assert.False(t, order.CreatedAt.IsZero())

	require.Len(t, res.Items, 2)
	assert.Equal(t, a, res.Items[0].ProductID)
	assert.True(t, res.Items[0].UnitPrice.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 2, res.Items[0].Quantity)
	assert.Equal(t, b, res.Items[1].ProductID)
	assert.True(t, res.Items[1].UnitPrice.Equal(decimal.RequireFromString("5")))

	view, err := fx.carts.GetCart(ctx, fx.customer)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	invA := fx.inventory(t, a)
	assert.Equal(t, 8, invA.Available, "placing the order must not decrement available again")
	assert.Equal(t, 0, invA.Reserved)
	assert.Equal(t, 2, invA.Sold)

	assert.Equal(t, placedBefore+1, testutil.ToFloat64(util.OrdersPlacedTotal))
}

func TestPlaceOrderPublishesEventsPerVendor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	otherVendor := fx.store.AddUser(models.UserProfile{Username: "beta", Role: models.RoleVendor})
	a := fx.product("a", "1.00", 5)
	b := fx.store.AddProduct(models.Product{Name: "b", Price: decimal.RequireFromString("2.00"), VendorID: &otherVendor}, 5)
	c := fx.store.AddProduct(models.Product{Name: "no vendor", Price: decimal.RequireFromString("3.00")}, 5)
	for _, pid := range []int64{a, b, c} {
		_, err := fx.carts.AddItem(ctx, fx.customer, pid, 1)
		require.NoError(t, err)
	}

	pub := new(mockPublisher)
	pub.On("PublishOrderPlaced", mock.Anything, mock.MatchedBy(func(e *models.OrderPlacedEvent) bool {
		return e.EventType == models.EventTypeOrderPlaced && len(e.Items) == 3 && e.EventID != ""
	})).Return(nil).Once()
	pub.On("PublishVendorOrderPlaced", mock.Anything, mock.MatchedBy(func(e *models.VendorOrderPlacedEvent) bool {
		return e.VendorID == fx.vendor && len(e.Items) == 1 && e.Items[0].ProductID == a
	})).Return(nil).Once()
	pub.On("PublishVendorOrderPlaced", mock.Anything, mock.MatchedBy(func(e *models.VendorOrderPlacedEvent) bool {
		return e.VendorID == otherVendor && len(e.Items) == 1 && e.Items[0].ProductID == b
	})).Return(nil).Once()
	fx.usePublisher(pub)

	_, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestPlaceOrderSucceedsWhenPublishingFails(t *testing.T) {
	fx := newFixture(t)
	pub := new(mockPublisher)
	pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	pub.On("PublishVendorOrderPlaced", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	fx.usePublisher(pub)
	cartOfTwo(t, fx)

	res, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)
	assert.NotZero(t, res.Order.ID)
	pub.AssertNumberOfCalls(t, "PublishOrderPlaced", 1)
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderInput{CustomerID: fx.customer})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
	assert.Equal(t, 0, fx.store.OrderCount())
}

func TestPlaceOrderUnknownCustomer(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderInput{CustomerID: 9999})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlaceOrderRollsBackOnFailure(t *testing.T) {
	tests := []struct {
		op  string
		nth int
	}{
		{"CreateOrderItem", 2},
		{"CommitStock", 2},
		{"DeleteCartItem", 1},
		{"Commit", 1},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			fx := newFixture(t)
			a, b := cartOfTwo(t, fx)
			injected := errors.New("injected failure")
			fx.store.FailOn(tt.op, tt.nth, injected)

			_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderInput{CustomerID: fx.customer})
			require.ErrorIs(t, err, injected)

			assert.Equal(t, 0, fx.store.OrderCount())
			assert.Equal(t, 2, fx.store.CartQuantity(fx.customer, a))
			assert.Equal(t, 1, fx.store.CartQuantity(fx.customer, b))

			invA := fx.inventory(t, a)
			assert.Equal(t, 8, invA.Available)
			assert.Equal(t, 2, invA.Reserved)
			assert.Equal(t, 0, invA.Sold)
			invB := fx.inventory(t, b)
			assert.Equal(t, 1, invB.Reserved)
			assert.Equal(t, 0, invB.Sold)
		})
	}
}

func TestPlaceOrderInventoryInconsistencyAbortsWithoutWrites(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _ := cartOfTwo(t, fx)

	// Drop the ledger's reservation behind the cart's back.
	_, ok, err := fx.store.ReleaseStock(ctx, a, 2)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.ErrorIs(t, err, models.ErrInventoryInconsistency)
	assert.Equal(t, 0, fx.store.OrderCount())
	assert.Equal(t, 2, fx.store.CartQuantity(fx.customer, a))
}

func TestPlacedOrderAddressIsASnapshot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.store.SaveAddress(models.Address{
		CustomerID: fx.customer, FullAddress: "12 Main St", Pincode: "560001", Phone: strPtr("555-0100"), IsDefault: true,
	})
	cartOfTwo(t, fx)

	res, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)

	fx.store.SaveAddress(models.Address{
		CustomerID: fx.customer, FullAddress: "99 New Rd", Pincode: "400001", IsDefault: true,
	})
	res.Order.FullAddress = "mutated copy"

	stored, err := fx.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "12 Main St", stored.Order.FullAddress)
	assert.Equal(t, "560001", stored.Order.Pincode)
}

func TestPlaceOrderExplicitAddress(t *testing.T) {
	fx := newFixture(t)
	cartOfTwo(t, fx)

	res, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: fx.customer,
		Address:    &AddressInput{FullAddress: strPtr("3 Lake View")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.AddressSnapshot{FullAddress: "3 Lake View", Pincode: "560099", Phone: "555-0199"}, res.Order.AddressSnapshot)
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	cartOfTwo(t, fx)

	first, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer, IdempotencyKey: "checkout-1"})
	require.NoError(t, err)
	require.NotNil(t, first.Order.IdempotencyKey)

	second, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer, IdempotencyKey: "checkout-1"})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Items, 2)
	assert.Equal(t, 1, fx.store.OrderCount())

	// Without the cache the database still answers.
	fx.cache.orders = map[string]int64{}
	third, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer, IdempotencyKey: "checkout-1"})
	require.NoError(t, err)
	assert.True(t, third.Replayed)
	assert.Equal(t, first.Order.ID, third.Order.ID)

	// Keys are scoped to the customer.
	other := fx.store.AddUser(models.UserProfile{Username: "bob", Role: models.RoleCustomer})
	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: other, IdempotencyKey: "checkout-1"})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestConcurrentPlaceOrderWithSameKeyCreatesOneOrder(t *testing.T) {
	fx := newFixture(t)
	cartOfTwo(t, fx)

	const n = 5
	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := fx.orders.PlaceOrder(context.Background(),
				PlaceOrderInput{CustomerID: fx.customer, IdempotencyKey: "double-click"})
			errs[i] = err
			if err == nil {
				ids[i] = res.Order.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, fx.store.OrderCount())
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	cartOfTwo(t, fx)
	res, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)
	id := res.Order.ID

	_, err = fx.orders.UpdateOrderStatus(ctx, id, models.OrderStatusDelivered)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	order, err := fx.orders.UpdateOrderStatus(ctx, id, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	order, err = fx.orders.UpdateOrderStatus(ctx, id, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)

	for _, next := range []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusPlaced, models.OrderStatusConfirmed} {
		_, err = fx.orders.UpdateOrderStatus(ctx, id, next)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "DELIVERED is terminal")
	}

	_, err = fx.orders.UpdateOrderStatus(ctx, 9999, models.OrderStatusConfirmed)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelReturnsSoldUnits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, b := cartOfTwo(t, fx)
	res, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)

	pub := acceptingPublisher()
	fx.usePublisher(pub)

	order, err := fx.orders.UpdateOrderStatus(ctx, res.Order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	invA := fx.inventory(t, a)
	assert.Equal(t, 10, invA.Available)
	assert.Equal(t, 0, invA.Sold)
	assert.Equal(t, 10, fx.inventory(t, b).Available)

	_, err = fx.orders.UpdateOrderStatus(ctx, res.Order.ID, models.OrderStatusConfirmed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 10, fx.inventory(t, a).Available, "a cancelled order releases only once")

	pub.AssertCalled(t, "PublishOrderStatusChanged", mock.Anything, mock.MatchedBy(func(e *models.OrderStatusChangedEvent) bool {
		return e.From == models.OrderStatusPlaced && e.To == models.OrderStatusCancelled
	}))
}

func TestListOrders(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	otherVendor := fx.store.AddUser(models.UserProfile{Username: "beta", Role: models.RoleVendor})
	mine := fx.product("mine", "1.00", 5)
	theirs := fx.store.AddProduct(models.Product{Name: "theirs", Price: decimal.RequireFromString("2.00"), VendorID: &otherVendor}, 5)

	_, err := fx.carts.AddItem(ctx, fx.customer, mine, 1)
	require.NoError(t, err)
	_, err = fx.carts.AddItem(ctx, fx.customer, theirs, 1)
	require.NoError(t, err)
	first, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)

	_, err = fx.carts.AddItem(ctx, fx.customer, theirs, 1)
	require.NoError(t, err)
	second, err := fx.orders.PlaceOrder(ctx, PlaceOrderInput{CustomerID: fx.customer})
	require.NoError(t, err)

	history, err := fx.orders.ListCustomerOrders(ctx, fx.customer)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Order.ID, history[0].Order.ID, "newest first")
	assert.Len(t, history[1].Items, 2)

	vendorView, err := fx.orders.ListVendorOrders(ctx, fx.vendor)
	require.NoError(t, err)
	require.Len(t, vendorView, 1)
	assert.Equal(t, first.Order.ID, vendorView[0].Order.ID)
	require.Len(t, vendorView[0].Items, 1)
	assert.Equal(t, mine, vendorView[0].Items[0].ProductID)

	_, err = fx.orders.ListCustomerOrders(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = fx.orders.GetOrder(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
