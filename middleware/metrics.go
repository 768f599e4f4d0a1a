package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	checkoutOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Checkout attempts by result",
		},
		[]string{"result"},
	)

	carrierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrier_requests_total",
			Help: "Requests made to carrier APIs",
		},
		[]string{"carrier", "operation", "status"},
	)

	paymentEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment status updates applied to orders",
		},
		[]string{"source", "status"},
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Customer notifications handed to the mail pipeline",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(checkoutOrdersTotal)
	prometheus.MustRegister(carrierRequestsTotal)
	prometheus.MustRegister(paymentEventsTotal)
	prometheus.MustRegister(notificationsSentTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordCheckout counts a checkout outcome such as "success" or "insufficient_stock".
func RecordCheckout(result string) {
	checkoutOrdersTotal.WithLabelValues(result).Inc()
}

func RecordCarrierRequest(carrier, operation, status string) {
	carrierRequestsTotal.WithLabelValues(carrier, operation, status).Inc()
}

// RecordPaymentEvent counts a payment status applied from source (webhook, poll or kafka).
func RecordPaymentEvent(source, status string) {
	paymentEventsTotal.WithLabelValues(source, status).Inc()
}

func RecordNotification(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	notificationsSentTotal.WithLabelValues(kind, status).Inc()
}
