package handlers

import (
	"net/http"

	"merch-svc/middleware"
	"merch-svc/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UpdateStatusRequest struct {
	Status         models.OrderStatus `json:"status" binding:"required"`
	TrackingNumber string             `json:"tracking_number" binding:"max=64"`
}

// AdminHandler serves the operator endpoints. Routes are expected behind
// middleware.OperatorAuth.
type AdminHandler struct {
	orders OrderService
	logger *zap.Logger
}

func NewAdminHandler(orders OrderService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{orders: orders, logger: logger}
}

func (h *AdminHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), id, req.Status, req.TrackingNumber)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Operator updated order",
		zap.String("operator", middleware.Operator(c)),
		zap.Int64("order_id", id),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) RefreshPayment(c *gin.Context) {
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
	c.JSON(http.StatusOK, order)
}
