package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"merch-svc/circuitbreaker"
	"merch-svc/config"
	"merch-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	cdekService          = "cdek"
	defaultTokenLifetime = 3600
)

// CDEKClient talks to the CDEK v2 API. The OAuth token is cached until it
// expires; a request rejected with 401 triggers one refresh and one retry.
type CDEKClient struct {
	cfg     config.CDEKConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

func NewCDEKClient(cfg config.CDEKConfig, client *http.Client, logger *zap.Logger) *CDEKClient {
	return &CDEKClient{
		cfg:     cfg,
		client:  client,
		breaker: circuitbreaker.NewCircuitBreaker(cdekService, 5, 30*time.Second, circuitbreaker.WithIgnoredErrors(ignoreNonTransport)),
		logger:  logger.With(zap.String("carrier", cdekService)),
		now:     time.Now,
	}
}

func (c *CDEKClient) Method() models.DeliveryMethod { return models.DeliveryCourier }

type cdekToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ensureToken returns a usable token and whether it was fetched by this call.
func (c *CDEKClient) ensureToken(ctx context.Context, force bool) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && c.now().Before(c.tokenExpires) {
		return c.token, false, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	var tok cdekToken
	err := guard(ctx, c.breaker, "auth", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/oauth/token", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return do(c.client, req, cdekService, "auth", &tok, c.logger)
	})
	if err != nil {
		c.token = ""
		return "", false, err
	}
	if tok.AccessToken == "" {
		c.token = ""
		return "", false, models.NewExternalServiceError(cdekService, "auth", http.StatusOK, nil, errors.New("empty access token"))
	}

	lifetime := tok.ExpiresIn
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	c.token = tok.AccessToken
	c.tokenExpires = c.now().Add(time.Duration(lifetime) * time.Second)
	c.logger.Info("Carrier token refreshed", zap.Time("expires", c.tokenExpires))
	return c.token, true, nil
}

// call performs an authorized request. build is invoked once per attempt.
func (c *CDEKClient) call(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error), out any) error {
	token, fresh, err := c.ensureToken(ctx, false)
	if err != nil {
		return err
	}

	attempt := func(token string) error {
		return guard(ctx, c.breaker, op, func() error {
			req, err := build(ctx)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return do(c.client, req, cdekService, op, out, c.logger)
		})
	}

	err = attempt(token)
	if err == nil || fresh || !errors.Is(err, errUnauthorized) {
		return err
	}

	c.logger.Info("Carrier rejected cached token, refreshing", zap.String("operation", op))
	token, _, err = c.ensureToken(ctx, true)
	if err != nil {
		return err
	}
	return attempt(token)
}

type cdekCity struct {
	Code     int    `json:"code"`
	FullName string `json:"full_name"`
	City     string `json:"city"`
}

func (c *CDEKClient) ResolveLocation(ctx context.Context, query string) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &models.ValidationError{Field: "city", Reason: "must not be empty"}
	}

	params := url.Values{"country_code": {"RU"}, "name": {query}}
	var cities []cdekCity
	err := c.call(ctx, "suggest_cities", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v2/location/suggest/cities?"+params.Encode(), nil)
	}, &cities)
	if err != nil {
		return nil, err
	}

	locations := make([]models.Location, 0, len(cities))
	for _, city := range cities {
		name := city.FullName
		if name == "" {
			name = city.City
		}
		locations = append(locations, models.Location{Code: strconv.Itoa(city.Code), Name: name})
	}
	return locations, nil
}

type cdekDeliveryPoint struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	WorkTime string `json:"work_time"`
	Type     string `json:"type"`
	Location struct {
		Address     string `json:"address"`
		AddressFull string `json:"address_full"`
	} `json:"location"`
	Phones []struct {
		Number string `json:"number"`
	} `json:"phones"`
}

func (c *CDEKClient) ListPickupPoints(ctx context.Context, locationCode string) ([]models.PickupPoint, error) {
	if strings.TrimSpace(locationCode) == "" {
		return nil, &models.ValidationError{Field: "city_code", Reason: "must not be empty"}
	}

	params := url.Values{"city_code": {locationCode}}
	var raw []cdekDeliveryPoint
	err := c.call(ctx, "delivery_points", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v2/deliverypoints?"+params.Encode(), nil)
	}, &raw)
	if err != nil {
		return nil, err
	}

	points := make([]models.PickupPoint, 0, len(raw))
	for _, p := range raw {
		address := p.Location.AddressFull
		if address == "" {
			address = p.Location.Address
		}
		var phone string
		for _, ph := range p.Phones {
			if ph.Number != "" {
				phone = ph.Number
				break
			}
		}
		points = append(points, models.PickupPoint{
			Code:     p.Code,
			Name:     p.Name,
			Address:  address,
			WorkTime: p.WorkTime,
			Type:     p.Type,
			Phone:    phone,
		})
	}
	return points, nil
}

type cdekTariff struct {
	TariffCode  int             `json:"tariff_code"`
	TariffName  string          `json:"tariff_name"`
	DeliverySum decimal.Decimal `json:"delivery_sum"`
	PeriodMin   *int            `json:"period_min"`
	PeriodMax   *int            `json:"period_max"`
}

type cdekTariffList struct {
	TariffCodes []cdekTariff `json:"tariff_codes"`
	Errors      []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// pickTariff returns the preferred tariff if listed, else the first one.
func pickTariff(tariffs []cdekTariff, preferred int) *cdekTariff {
	if len(tariffs) == 0 {
		return nil
	}
	for i := range tariffs {
		if tariffs[i].TariffCode == preferred {
			return &tariffs[i]
		}
	}
	return &tariffs[0]
}

func (c *CDEKClient) Quote(ctx context.Context, dest models.Destination, parcel models.Parcel) (*models.ShippingQuote, error) {
	code := strings.TrimSpace(dest.CityCode)
	if code == "" {
		if strings.TrimSpace(dest.City) == "" {
			return nil, &models.ValidationError{Field: "city", Reason: "city or city code required for courier delivery"}
		}
		locations, err := c.ResolveLocation(ctx, dest.City)
		if err != nil {
			return nil, err
		}
		if len(locations) == 0 {
			return nil, fmt.Errorf("%w: city %q not found", models.ErrShippingUnavailable, dest.City)
		}
		code = locations[0].Code
	}
	toCode, err := strconv.Atoi(code)
	if err != nil {
		return nil, &models.ValidationError{Field: "city_code", Reason: "must be numeric"}
	}

	payload := map[string]any{
		"from_location": map[string]any{"code": c.cfg.FromLocationCode, "country_code": "RU"},
		"to_location": map[string]any{
			"code":         toCode,
			"country_code": "RU",
			"city":         dest.City,
			"address":      dest.Address,
		},
		"packages": []map[string]int{{
			"weight": parcel.WeightGrams,
			"length": parcel.Length,
			"width":  parcel.Width,
			"height": parcel.Height,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tariff request: %w", err)
	}

	var list cdekTariffList
	err = c.call(ctx, "tarifflist", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/calculator/tarifflist", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &list)
	if err != nil {
		return nil, err
	}

	if len(list.Errors) > 0 {
		msgs := make([]string, 0, len(list.Errors))
		for _, e := range list.Errors {
			msgs = append(msgs, e.Message)
		}
		c.logger.Error("Carrier returned tariff errors", zap.Strings("errors", msgs))
		return nil, models.NewExternalServiceError(cdekService, "tarifflist", http.StatusOK, nil, errors.New(strings.Join(msgs, "; ")))
	}

	tariff := pickTariff(list.TariffCodes, c.cfg.TariffCode)
	if tariff == nil {
		return nil, fmt.Errorf("%w: no tariffs to city %s", models.ErrShippingUnavailable, code)
	}
	c.logger.Info("Courier tariff selected",
		zap.Int("tariff_code", tariff.TariffCode),
		zap.Bool("preferred", tariff.TariffCode == c.cfg.TariffCode),
		zap.String("cost", tariff.DeliverySum.String()),
	)

	return &models.ShippingQuote{Cost: tariff.DeliverySum, EtaDays: tariff.PeriodMax}, nil
}
