package models

import "github.com/shopspring/decimal"

type Destination struct {
	City       string `json:"city"`
	CityCode   string `json:"city_code"`
	PostalCode string `json:"postal_code"`
	Address    string `json:"address"`
}

// Parcel dimensions are in centimetres.
type Parcel struct {
	WeightGrams int `json:"weight_grams"`
	Length      int `json:"length"`
	Width       int `json:"width"`
	Height      int `json:"height"`
}

type ShippingQuote struct {
	Cost    decimal.Decimal `json:"cost"`
	EtaDays *int            `json:"eta_days,omitempty"`
}

type Location struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type PickupPoint struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	WorkTime string `json:"work_time"`
	Type     string `json:"type"`
	Phone    string `json:"phone"`
}

type QuoteRequest struct {
	Method     DeliveryMethod `json:"method" binding:"required"`
	City       string         `json:"city"`
	CityCode   string         `json:"city_code"`
	PostalCode string         `json:"postal_code"`
	Address    string         `json:"address"`
}
