package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"merch-svc/carrier"
	"merch-svc/cart"
	"merch-svc/middleware"
	"merch-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CarrierDirectory interface {
	Get(method models.DeliveryMethod) (carrier.Gateway, error)
	Quote(ctx context.Context, method models.DeliveryMethod, dest models.Destination, weightGrams int) (*models.ShippingQuote, error)
}

// ShippingHandler prices the session cart and looks up courier locations.
type ShippingHandler struct {
	carriers CarrierDirectory
	sessions cart.SessionStore
	products cart.ProductSource
	logger   *zap.Logger
}

func NewShippingHandler(carriers CarrierDirectory, sessions cart.SessionStore, products cart.ProductSource, logger *zap.Logger) *ShippingHandler {
	return &ShippingHandler{carriers: carriers, sessions: sessions, products: products, logger: logger}
}

func (h *ShippingHandler) Quote(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "QuoteShipping")
	defer span.End()

	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateQuote(req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("delivery.method", string(req.Method)))

	basket := cart.New(middleware.SessionID(c), h.sessions, h.products, h.logger)
	entries, err := basket.Snapshot(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(entries) == 0 {
		respondError(c, h.logger, models.ErrEmptyCart)
		return
	}
	weight, err := basket.TotalWeight(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	grams := int(weight.Mul(decimal.NewFromInt(1000)).Round(0).IntPart())
	span.SetAttributes(attribute.Int("parcel.weight_grams", grams))

	quote, err := h.carriers.Quote(ctx, req.Method, models.Destination{
		City:       req.City,
		CityCode:   req.CityCode,
		PostalCode: req.PostalCode,
		Address:    req.Address,
	}, grams)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrShippingUnavailable) {
			err = fmt.Errorf("%w: %w", models.ErrShippingUnavailable, err)
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func validateQuote(req models.QuoteRequest) error {
	switch req.Method {
	case models.DeliveryPost:
		if strings.TrimSpace(req.PostalCode) == "" && strings.TrimSpace(req.Address) == "" {
			return &models.ValidationError{Field: "postal_code", Reason: "postal code or address required"}
		}
	case models.DeliveryCourier:
		if strings.TrimSpace(req.CityCode) == "" && strings.TrimSpace(req.City) == "" {
			return &models.ValidationError{Field: "city_code", Reason: "city or city code required"}
		}
	default:
		return &models.ValidationError{Field: "method", Reason: "unknown method " + string(req.Method)}
	}
	return nil
}

func (h *ShippingHandler) Cities(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "SuggestCities")
	defer span.End()

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter q is required"})
		return
	}

	gw, err := h.carriers.Get(models.DeliveryCourier)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	locations, err := gw.ResolveLocation(ctx, query)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	if locations == nil {
		locations = []models.Location{}
	}
	c.JSON(http.StatusOK, locations)
}

func (h *ShippingHandler) PickupPoints(c *gin.Context) {
	ctx, span := otel.Tracer("merch-svc").Start(c.Request.Context(), "ListPickupPoints")
	defer span.End()

	cityCode := strings.TrimSpace(c.Query("city_code"))
	if cityCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter city_code is required"})
		return
	}
	span.SetAttributes(attribute.String("city.code", cityCode))

	gw, err := h.carriers.Get(models.DeliveryCourier)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	points, err := gw.ListPickupPoints(ctx, cityCode)
	if err != nil {
		span.RecordError(err)
		respondError(c, h.logger, err)
		return
	}
	if points == nil {
		points = []models.PickupPoint{}
	}
	c.JSON(http.StatusOK, points)
}
