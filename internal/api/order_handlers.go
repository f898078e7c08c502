package api

import (
	"errors"
	"io"
	"net/http"

	"quickkart-service/internal/models"
	"quickkart-service/internal/service"

	"github.com/gin-gonic/gin"
)

// PlaceOrderRequest is the optional body of POST /customers/:customerId/orders
type PlaceOrderRequest struct {
	Address        *service.AddressInput `json:"address,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
}

// UpdateOrderStatusRequest is the body of PUT /orders/:id/status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// placeOrder turns the customer's cart into an order. 201 for a new order,
// 200 when the idempotency key replays an earlier one.
func (h *Handler) placeOrder(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.orders.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		CustomerID:     customerID,
		Address:        req.Address,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) listCustomerOrders(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	details, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	status, known := models.ParseOrderStatus(req.Status)
	if !known {
		badRequest(c, "unknown order status "+req.Status, nil)
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listVendorOrders(c *gin.Context) {
	vendorID, ok := pathID(c, "vendorId")
	if !ok {
		return
	}

	orders, err := h.orders.ListVendorOrders(c.Request.Context(), vendorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listNotifications(c *gin.Context) {
	vendorID, ok := pathID(c, "vendorId")
	if !ok {
		return
	}

	notes, err := h.notifications.ListVendorNotifications(c.Request.Context(), vendorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.notifications.MarkRead(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}
