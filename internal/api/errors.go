package api

import (
	"context"
	"errors"
	"net/http"

	"quickkart-service/internal/models"
	"quickkart-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error codes returned in the "error" field of failed responses.
const (
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeEmptyCart              = "EMPTY_CART"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidQuantity        = "INVALID_QUANTITY"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeInventoryInconsistency = "INVENTORY_INCONSISTENCY"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeTimeout                = "TIMEOUT"
	CodeInternal               = "INTERNAL"
)

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock
	case errors.Is(err, models.ErrEmptyCart):
		return http.StatusBadRequest, CodeEmptyCart
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusBadRequest, CodeInvalidQuantity
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, models.ErrInventoryInconsistency):
		return http.StatusInternalServerError, CodeInventoryInconsistency
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// respondError writes err with its mapped status and code. Server errors
// are logged and their details withheld from the client.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	body := gin.H{"error": code}

	var stockErr *models.StockError
	switch {
	case errors.As(err, &stockErr):
		body["message"] = err.Error()
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	case status >= http.StatusInternalServerError:
		body["message"] = "internal error, contact support"
		util.ComponentLogger("http").Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("code", code),
			zap.Error(err))
	default:
		body["message"] = err.Error()
	}

	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": CodeInvalidRequest, "message": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
