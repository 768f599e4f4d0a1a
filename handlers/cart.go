package handlers

import (
	"net/http"

	"merch-svc/cart"
	"merch-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartHandler serves the session cart. The session id comes from the
// CartSession middleware.
type CartHandler struct {
	sessions cart.SessionStore
	products cart.ProductSource
	logger   *zap.Logger
}

func NewCartHandler(sessions cart.SessionStore, products cart.ProductSource, logger *zap.Logger) *CartHandler {
	return &CartHandler{sessions: sessions, products: products, logger: logger}
}

func (h *CartHandler) cartFor(c *gin.Context) *cart.Cart {
	return cart.New(middleware.SessionID(c), h.sessions, h.products, h.logger)
}

func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "GetCart")
	defer span.End()

	lines, err := h.cartFor(c).List(ctx)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	if lines == nil {
		lines = []cart.Line{}
	}
	total, quantity := cart.Totals(lines)

	c.JSON(http.StatusOK, gin.H{
		"items":          lines,
		"total_price":    total,
		"total_quantity": quantity,
	})
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "AddCartItem")
	defer span.End()

	productID, ok := parseID(c, "product_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", productID))

	quantity, err := h.cartFor(c).Add(ctx, productID)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "quantity": quantity})
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "RemoveCartItem")
	defer span.End()

	productID, ok := parseID(c, "product_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", productID))

	if err := h.cartFor(c).Remove(ctx, productID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) GetWeight(c *gin.Context) {
	weight, err := h.cartFor(c).TotalWeight(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_weight": weight})
}
