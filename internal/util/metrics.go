package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_reservations_total",
		Help: "Total number of successful cart reservations",
	})

	CartReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_releases_total",
		Help: "Total number of cart reservations released",
	}, []string{"reason"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	InventoryMirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_mirror_errors_total",
		Help: "Total number of failed stock mirror updates",
	})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"to"})

	PlaceOrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "place_order_latency_seconds",
		Help:    "Latency of the cart to order commit",
		Buckets: prometheus.DefBuckets,
	})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_publish_failures_total",
		Help: "Total number of events that could not be published",
	}, []string{"event_type"})

	NotificationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of vendor notifications stored",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
