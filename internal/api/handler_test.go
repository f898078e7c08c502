package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quickkart-service/internal/models"
	"quickkart-service/internal/service"
	"quickkart-service/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	store    *memstore.Store
	handler  *Handler
	router   *gin.Engine
	customer int64
	vendor   int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	ledger := service.NewInventoryLedger(st, nil)
	carts := service.NewCartService(st, ledger, time.Second)
	orders := service.NewOrderService(st, ledger, service.NewAddressSnapshotter(st), nil, nil, service.OrderConfig{
		StoreTimeout:   time.Second,
		IdempotencyTTL: time.Hour,
		PublishTimeout: time.Second,
	})
	notes := service.NewNotificationService(st)

	phone := "555-0100"
	ts := &testServer{
		store:   st,
		handler: NewHandler(carts, orders, ledger, notes),
		router:  gin.New(),
	}
	ts.customer = st.AddUser(models.UserProfile{
		Username: "alice", Role: models.RoleCustomer, Pincode: "560001", Phone: &phone,
	})
	ts.vendor = st.AddUser(models.UserProfile{Username: "acme", Role: models.RoleVendor})
	st.SaveAddress(models.Address{CustomerID: ts.customer, FullAddress: "12 MG Road", Pincode: "560001", IsDefault: true})
	ts.handler.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) product(price string, stock int) int64 {
	vendor := ts.vendor
	return ts.store.AddProduct(models.Product{
		Name:     "Milk",
		Category: "dairy",
		Price:    decimal.RequireFromString(price),
		Pincode:  "560001",
		VendorID: &vendor,
	}, stock)
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func path(format string, args ...any) string {
	return "/api/v1" + fmt.Sprintf(format, args...)
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = ts.do(t, http.MethodGet, "/health", nil, requestIDHeader, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReadinessReportsFailingDependency(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.AddReadinessCheck("database", stubPinger{})

	rec := ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.handler.AddReadinessCheck("redis", stubPinger{err: errors.New("connection refused")})
	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

func TestCartLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("4.50", 10)

	rec := ts.do(t, http.MethodPost, path("/customers/%d/cart/items", ts.customer),
		AddCartItemRequest{ProductID: pid, Quantity: 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, path("/products/%d/availability", pid), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decode(t, rec)["available"])

	rec = ts.do(t, http.MethodPut, path("/customers/%d/cart/items/%d", ts.customer, pid),
		UpdateCartItemRequest{Quantity: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, path("/customers/%d/cart", ts.customer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4.5", decode(t, rec)["total"])

	rec = ts.do(t, http.MethodDelete, path("/customers/%d/cart/items/%d", ts.customer, pid), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	inv, _ := ts.store.Inventory(pid)
	assert.Equal(t, 10, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("2.00", 2)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"insufficient stock", http.MethodPost, path("/customers/%d/cart/items", ts.customer),
			AddCartItemRequest{ProductID: pid, Quantity: 5}, http.StatusConflict, CodeInsufficientStock},
		{"invalid quantity", http.MethodPost, path("/customers/%d/cart/items", ts.customer),
			AddCartItemRequest{ProductID: pid, Quantity: 0}, http.StatusBadRequest, CodeInvalidQuantity},
		{"quantity beyond counter range", http.MethodPost, path("/customers/%d/cart/items", ts.customer),
			AddCartItemRequest{ProductID: pid, Quantity: models.MaxQuantity + 1}, http.StatusBadRequest, CodeInvalidQuantity},
		{"unknown product", http.MethodPost, path("/customers/%d/cart/items", ts.customer),
			AddCartItemRequest{ProductID: 999, Quantity: 1}, http.StatusNotFound, CodeNotFound},
		{"empty cart", http.MethodPost, path("/customers/%d/orders", ts.customer),
			nil, http.StatusBadRequest, CodeEmptyCart},
		{"bad path id", http.MethodGet, path("/orders/abc"),
			nil, http.StatusBadRequest, CodeInvalidRequest},
		{"missing body field", http.MethodPost, path("/customers/%d/cart/items", ts.customer),
			map[string]int{"quantity": 1}, http.StatusBadRequest, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["error"])
		})
	}
}

func TestInsufficientStockCarriesDetails(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("2.00", 2)

	rec := ts.do(t, http.MethodPost, path("/customers/%d/cart/items", ts.customer),
		AddCartItemRequest{ProductID: pid, Quantity: 3})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, pid, body["product_id"])
	assert.EqualValues(t, 3, body["requested"])
	assert.EqualValues(t, 2, body["available"])
}

func TestPlaceOrderWithIdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("12.50", 5)

	rec := ts.do(t, http.MethodPost, path("/customers/%d/cart/items", ts.customer),
		AddCartItemRequest{ProductID: pid, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, path("/customers/%d/orders", ts.customer), nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode(t, rec)
	order := first["order"].(map[string]any)
	assert.Equal(t, "25", order["total_amount"])
	assert.Equal(t, "12 MG Road", order["address"].(map[string]any)["full_address"])
	assert.Equal(t, false, first["replayed"])

	rec = ts.do(t, http.MethodPost, path("/customers/%d/orders", ts.customer), nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode(t, rec)
	assert.Equal(t, true, second["replayed"])
	assert.Equal(t, order["id"], second["order"].(map[string]any)["id"])
	assert.Equal(t, 1, ts.store.OrderCount())
}

func TestPlaceOrderExplicitAddress(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("1.00", 5)
	ts.do(t, http.MethodPost, path("/customers/%d/cart/items", ts.customer),
		AddCartItemRequest{ProductID: pid, Quantity: 1})

	addr := "7 Park Street"
	rec := ts.do(t, http.MethodPost, path("/customers/%d/orders", ts.customer),
		PlaceOrderRequest{Address: &service.AddressInput{FullAddress: &addr}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	snapshot := decode(t, rec)["order"].(map[string]any)["address"].(map[string]any)
	assert.Equal(t, "7 Park Street", snapshot["full_address"])
	assert.Equal(t, "560001", snapshot["pincode"])
	assert.Equal(t, "555-0100", snapshot["phone"])
}

func TestOrderStatusUpdates(t *testing.T) {
	ts := newTestServer(t)
	pid := ts.product("3.00", 4)
	ts.do(t, http.MethodPost, path("/customers/%d/cart/items", ts.customer),
		AddCartItemRequest{ProductID: pid, Quantity: 2})
	rec := ts.do(t, http.MethodPost, path("/customers/%d/orders", ts.customer), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := int64(decode(t, rec)["order"].(map[string]any)["id"].(float64))

	rec = ts.do(t, http.MethodPut, path("/orders/%d/status", orderID), UpdateOrderStatusRequest{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, path("/orders/%d/status", orderID), UpdateOrderStatusRequest{Status: "DELIVERED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeInvalidTransition, decode(t, rec)["error"])

	rec = ts.do(t, http.MethodPut, path("/orders/%d/status", orderID), UpdateOrderStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	inv, _ := ts.store.Inventory(pid)
	assert.Equal(t, 4, inv.Available)
	assert.Equal(t, 0, inv.Sold)

	rec = ts.do(t, http.MethodGet, path("/vendors/%d/orders", ts.vendor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 1)
}

func TestVendorNotificationsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.handler.notifications.HandleVendorOrderPlaced(ctx, &models.VendorOrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeVendorOrderPlaced, Timestamp: time.Now()},
		OrderID:   1,
		VendorID:  ts.vendor,
		Items:     []models.OrderItemData{{ProductID: 1, Quantity: 2}},
	}))

	rec := ts.do(t, http.MethodGet, path("/vendors/%d/notifications", ts.vendor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["notifications"].([]any)
	require.Len(t, list, 1)
	id := int64(list[0].(map[string]any)["id"].(float64))

	rec = ts.do(t, http.MethodPut, path("/notifications/%d/read", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["read"])

	rec = ts.do(t, http.MethodPut, path("/notifications/%d/read", id+100), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
