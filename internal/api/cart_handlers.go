package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AddCartItemRequest is the body of POST /customers/:customerId/cart/items
type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// UpdateCartItemRequest is the body of PUT /customers/:customerId/cart/items/:productId
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	item, err := h.carts.AddItem(c.Request.Context(), customerID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	item, err := h.carts.UpdateQuantity(c.Request.Context(), customerID, productID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), customerID, productID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	customerID, ok := pathID(c, "customerId")
	if !ok {
		return
	}

	if err := h.carts.ClearCart(c.Request.Context(), customerID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getAvailability(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}

	available, err := h.ledger.Availability(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"available":  available,
	})
}
