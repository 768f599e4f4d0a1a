// Package carrier quotes shipping and looks up locations through the
// domestic-post and courier APIs.
package carrier

import (
	"context"
	"errors"
	"fmt"

	"merch-svc/models"
)

// Gateway is implemented by each carrier adapter. Every failure is returned as
// an error value; adapters never panic on upstream data.
type Gateway interface {
	Method() models.DeliveryMethod
	Quote(ctx context.Context, dest models.Destination, parcel models.Parcel) (*models.ShippingQuote, error)
	ResolveLocation(ctx context.Context, query string) ([]models.Location, error)
	ListPickupPoints(ctx context.Context, locationCode string) ([]models.PickupPoint, error)
}

// Default parcel box in centimetres.
const (
	DefaultLength = 20
	DefaultWidth  = 20
	DefaultHeight = 20
)

// ParcelForWeight returns the default box carrying weightGrams.
func ParcelForWeight(weightGrams int) models.Parcel {
	return models.Parcel{WeightGrams: weightGrams, Length: DefaultLength, Width: DefaultWidth, Height: DefaultHeight}
}

// Registry dispatches to the gateway registered for a delivery method.
type Registry struct {
	gateways map[models.DeliveryMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.DeliveryMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method models.DeliveryMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, &models.ValidationError{Field: "delivery_method", Reason: fmt.Sprintf("no carrier for %q", method)}
	}
	return g, nil
}

// Quote prices a parcel of weightGrams in the default box.
func (r *Registry) Quote(ctx context.Context, method models.DeliveryMethod, dest models.Destination, weightGrams int) (*models.ShippingQuote, error) {
	g, err := r.Get(method)
	if err != nil {
		return nil, err
	}
	return g.Quote(ctx, dest, ParcelForWeight(weightGrams))
}

// countsAsFailure reports whether err should trip a carrier's breaker.
// Well-formed negative answers such as an unknown city do not.
func countsAsFailure(err error) bool {
	return errors.Is(err, models.ErrExternalService)
}
