package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Size        string          `json:"size"`
	Weight      decimal.Decimal `json:"weight"` // kilograms
	Stock       int             `json:"stock"`
	ImageURL    *string         `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WeightGrams returns the weight of qty units rounded to whole grams.
func (p *Product) WeightGrams(qty int) int {
	return int(p.Weight.Mul(decimal.NewFromInt(int64(qty))).Mul(decimal.NewFromInt(1000)).Round(0).IntPart())
}
