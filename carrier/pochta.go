package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"merch-svc/circuitbreaker"
	"merch-svc/config"
	"merch-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const pochtaService = "pochta"

// PochtaClient talks to the Russian Post shipment API.
type PochtaClient struct {
	cfg     config.PochtaConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewPochtaClient(cfg config.PochtaConfig, client *http.Client, logger *zap.Logger) *PochtaClient {
	return &PochtaClient{
		cfg:     cfg,
		client:  client,
		breaker: circuitbreaker.NewCircuitBreaker(pochtaService, 5, 30*time.Second, circuitbreaker.WithIgnoredErrors(ignoreNonTransport)),
		logger:  logger.With(zap.String("carrier", pochtaService)),
	}
}

func ignoreNonTransport(err error) bool { return !countsAsFailure(err) }

func (p *PochtaClient) Method() models.DeliveryMethod { return models.DeliveryPost }

type pochtaRate struct {
	Rate *decimal.Decimal `json:"rate"`
}

type pochtaTariff struct {
	TotalRate    *decimal.Decimal `json:"total-rate"`
	AviaRate     *pochtaRate      `json:"avia-rate"`
	GroundRate   *pochtaRate      `json:"ground-rate"`
	DeliveryTime *struct {
		MaxDays *int `json:"max-days"`
	} `json:"delivery-time"`
}

// costStrategy extracts a price in kopecks from one known response shape.
type costStrategy struct {
	name    string
	extract func(t *pochtaTariff) *decimal.Decimal
}

// costStrategies are tried in order; the first one that finds a value wins.
var costStrategies = []costStrategy{
	{"total-rate", func(t *pochtaTariff) *decimal.Decimal { return t.TotalRate }},
	{"avia-rate.rate", func(t *pochtaTariff) *decimal.Decimal {
		if t.AviaRate == nil {
			return nil
		}
		return t.AviaRate.Rate
	}},
	{"ground-rate.rate", func(t *pochtaTariff) *decimal.Decimal {
		if t.GroundRate == nil {
			return nil
		}
		return t.GroundRate.Rate
	}},
}

var kopecksPerRouble = decimal.NewFromInt(100)

// extractCost applies costStrategies and falls back to defaultCost.
func extractCost(t *pochtaTariff, defaultCost decimal.Decimal, logger *zap.Logger) decimal.Decimal {
	for _, s := range costStrategies {
		if v := s.extract(t); v != nil {
			cost := v.Div(kopecksPerRouble).Round(2)
			logger.Info("Post tariff cost extracted", zap.String("strategy", s.name), zap.String("cost", cost.String()))
			return cost
		}
	}
	logger.Warn("Post tariff response has no known cost field, using default cost", zap.String("cost", defaultCost.String()))
	return defaultCost
}

func (p *PochtaClient) Quote(ctx context.Context, dest models.Destination, parcel models.Parcel) (*models.ShippingQuote, error) {
	index := strings.TrimSpace(dest.PostalCode)
	if index == "" && dest.Address != "" {
		locations, err := p.ResolveLocation(ctx, dest.Address)
		if err != nil {
			return nil, err
		}
		if len(locations) > 0 {
			index = locations[0].Code
		}
	}
	if index == "" {
		return nil, &models.ValidationError{Field: "postal_code", Reason: "required for post delivery"}
	}

	payload := map[string]any{
		"index-from":    p.cfg.FromIndex,
		"index-to":      index,
		"mail-category": "ORDINARY",
		"mail-type":     "POSTAL_PARCEL",
		"mass":          parcel.WeightGrams,
		"dimension": map[string]int{
			"length": parcel.Length,
			"width":  parcel.Width,
			"height": parcel.Height,
		},
		"fragile": false,
	}

	var tariff pochtaTariff
	if err := p.post(ctx, "/1.0/tariff", "quote", payload, &tariff); err != nil {
		return nil, err
	}

	quote := &models.ShippingQuote{Cost: extractCost(&tariff, p.cfg.DefaultCost, p.logger)}
	if tariff.DeliveryTime != nil && tariff.DeliveryTime.MaxDays != nil {
		days := *tariff.DeliveryTime.MaxDays
		quote.EtaDays = &days
	}
	return quote, nil
}

type cleanedAddress struct {
	ID              string `json:"id"`
	OriginalAddress string `json:"original-address"`
	Index           string `json:"index"`
	Place           string `json:"place"`
	Region          string `json:"region"`
	QualityCode     string `json:"quality-code"`
}

// ResolveLocation normalizes a free-text address and returns its postal index.
// An address the service cannot place yields no locations.
func (p *PochtaClient) ResolveLocation(ctx context.Context, query string) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &models.ValidationError{Field: "address", Reason: "must not be empty"}
	}

	var cleaned []cleanedAddress
	payload := []map[string]string{{"id": "1", "original-address": query}}
	if err := p.post(ctx, "/1.0/clean/address", "clean_address", payload, &cleaned); err != nil {
		return nil, err
	}

	locations := []models.Location{}
	for _, a := range cleaned {
		if a.Index == "" {
			continue
		}
		name := a.Place
		if name == "" {
			name = a.OriginalAddress
		}
		locations = append(locations, models.Location{Code: a.Index, Name: name})
	}
	return locations, nil
}

func (p *PochtaClient) ListPickupPoints(ctx context.Context, locationCode string) ([]models.PickupPoint, error) {
	return nil, fmt.Errorf("post pickup points: %w", models.ErrUnsupported)
}

func (p *PochtaClient) post(ctx context.Context, path, op string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}
	return guard(ctx, p.breaker, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json;charset=UTF-8")
		req.Header.Set("Authorization", "AccessToken "+p.cfg.Token)
		req.Header.Set("X-User-Authorization", "Basic "+p.cfg.Key)
		return do(p.client, req, pochtaService, op, out, p.logger)
	})
}
