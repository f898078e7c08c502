package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"quickkart-service/internal/service"
	"quickkart-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	carts         *service.CartService
	orders        *service.OrderService
	ledger        *service.InventoryLedger
	notifications *service.NotificationService
	readiness     map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	orders *service.OrderService,
	ledger *service.InventoryLedger,
	notifications *service.NotificationService,
) *Handler {
	return &Handler{
		carts:         carts,
		orders:        orders,
		ledger:        ledger,
		notifications: notifications,
		readiness:     make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency for /ready.
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.readiness[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		customers := v1.Group("/customers/:customerId")
		customers.GET("/cart", h.getCart)
		customers.DELETE("/cart", h.clearCart)
		customers.POST("/cart/items", h.addCartItem)
		customers.PUT("/cart/items/:productId", h.updateCartItem)
		customers.DELETE("/cart/items/:productId", h.removeCartItem)
		customers.POST("/orders", h.placeOrder)
		customers.GET("/orders", h.listCustomerOrders)

		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)

		v1.GET("/vendors/:vendorId/orders", h.listVendorOrders)
		v1.GET("/vendors/:vendorId/notifications", h.listNotifications)
		v1.PUT("/notifications/:id/read", h.markNotificationRead)

		v1.GET("/products/:id/availability", h.getAvailability)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// pathID parses a positive int64 path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}

// requestLogger tags each request with an id and logs it when done
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		util.ComponentLogger("http").Info("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
