package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Customer struct {
	Name  string `json:"customer_name" binding:"required,max=255"`
	Email string `json:"customer_email" binding:"required,email"`
	Phone string `json:"customer_phone" binding:"omitempty,max=20"`
}

// DeliverySelection carries the address fields of one delivery method.
// Post needs PostalCode or an Address the carrier can resolve to one;
// courier needs CityCode and PickupPointCode.
// ShippingCost, when set, is a quote the caller already obtained.
type DeliverySelection struct {
	Method          DeliveryMethod   `json:"delivery_method" binding:"required"`
	Address         string           `json:"delivery_address"`
	PostalCode      string           `json:"postal_code"`
	City            string           `json:"delivery_city"`
	CityCode        string           `json:"cdek_city_code"`
	PickupPointCode string           `json:"cdek_pickup_point_code"`
	Comment         string           `json:"delivery_comment"`
	ShippingCost    *decimal.Decimal `json:"shipping_cost"`
}

// Validate checks the fields required by the chosen method.
func (d DeliverySelection) Validate() error {
	switch d.Method {
	case DeliveryPost:
		if strings.TrimSpace(d.PostalCode) == "" && strings.TrimSpace(d.Address) == "" {
			return &ValidationError{Field: "postal_code", Reason: "postal code or address required for " + string(DeliveryPost)}
		}
	case DeliveryCourier:
		if d.CityCode == "" && d.City == "" {
			return &ValidationError{Field: "cdek_city_code", Reason: "city or city code required for " + string(DeliveryCourier)}
		}
		if d.PickupPointCode == "" {
			return &ValidationError{Field: "cdek_pickup_point_code", Reason: "required for " + string(DeliveryCourier)}
		}
	default:
		return &ValidationError{Field: "delivery_method", Reason: "unknown method " + string(d.Method)}
	}
	if d.ShippingCost != nil && d.ShippingCost.IsNegative() {
		return &ValidationError{Field: "shipping_cost", Reason: "must not be negative"}
	}
	return nil
}

type PlaceOrderRequest struct {
	Customer
	DeliverySelection
}

type PlaceOrderResult struct {
	OrderID         int64           `json:"order_id"`
	PaymentID       string          `json:"payment_id"`
	ConfirmationURL string          `json:"confirmation_url"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
}
