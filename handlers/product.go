package handlers

import (
	"context"
	"net/http"

	"merch-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ProductCatalog interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}

type ProductHandler struct {
	products ProductCatalog
	logger   *zap.Logger
}

func NewProductHandler(products ProductCatalog, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger}
}

func (h *ProductHandler) GetProducts(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "GetProducts")
	defer span.End()

	products, err := h.products.ListProducts(ctx)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}

	span.SetAttributes(attribute.Int("products.count", len(products)))
	c.JSON(http.StatusOK, products)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	span.SetAttributes(attribute.Int64("product.id", id))

	product, err := h.products.GetProduct(ctx, id)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
