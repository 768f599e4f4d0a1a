package handlers

import (
	"context"
	"io"
	"net/http"

	"merch-svc/cart"
	"merch-svc/checkout"
	"merch-svc/middleware"
	"merch-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the payment notification body.
const maxWebhookBody = 1 << 20

type OrderService interface {
	PlaceOrder(ctx context.Context, basket checkout.Basket, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error)
	PollPaymentStatus(ctx context.Context, orderID int64) (*models.Order, error)
	HandlePaymentCallback(ctx context.Context, source string, body []byte) error
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, target models.OrderStatus, trackingNumber string) (*models.Order, error)
}

type CheckoutHandler struct {
	orders   OrderService
	sessions cart.SessionStore
	products cart.ProductSource
	logger   *zap.Logger
}

func NewCheckoutHandler(orders OrderService, sessions cart.SessionStore, products cart.ProductSource, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{orders: orders, sessions: sessions, products: products, logger: logger}
}

func (h *CheckoutHandler) PlaceOrder(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "Checkout")
	defer span.End()

	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("delivery.method", string(req.Method)))

	basket := cart.New(middleware.SessionID(c), h.sessions, h.products, h.logger)
	result, err := h.orders.PlaceOrder(ctx, basket, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}

	span.SetAttributes(attribute.Int64("order.id", result.OrderID))
	c.JSON(http.StatusCreated, result)
}

// PaymentStatus lets the customer's return page refresh the payment status.
func (h *CheckoutHandler) PaymentStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.orders.PollPaymentStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
	})
}

// PaymentWebhook acknowledges every notification it could act on or safely
// drop. Only a failure to persist a matched event is reported, so the
// processor delivers it again.
func (h *CheckoutHandler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	if err := h.orders.HandlePaymentCallback(c.Request.Context(), checkout.SourceWebhook, body); err != nil {
		h.logger.Error("Failed to record payment notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
