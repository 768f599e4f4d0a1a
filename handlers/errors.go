package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"merch-svc/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError writes the HTTP response for an error returned by the service
// layer. Unclassified errors are logged and hidden behind a 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var stockErr *models.InsufficientStockError
	var validationErr *models.ValidationError

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Insufficient stock",
			"items": stockErr.Items,
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, models.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNoPaymentAttached),
		errors.Is(err, models.ErrOrderChanged):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrShippingUnavailable):
		logger.Warn("Shipping unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shipping is temporarily unavailable"})
	case errors.Is(err, models.ErrPaymentCreationFailed):
		logger.Error("Payment creation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment could not be created"})
	case errors.Is(err, models.ErrExternalService):
		logger.Error("External service failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream service unavailable"})
	default:
		logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
