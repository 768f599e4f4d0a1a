package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"merch-svc/circuitbreaker"
	"merch-svc/config"
	"merch-svc/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	service           = "yookassa"
	maxDescriptionLen = 128
	vatCode           = "1"
	shippingLineName  = "Доставка"
	maxResponseBytes  = 1 << 20
)

type IntentRequest struct {
	OrderID       int64
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerPhone string
	Items         []models.OrderItem
	ShippingCost  decimal.Decimal
}

type Intent struct {
	PaymentID       string               `json:"payment_id"`
	ConfirmationURL string               `json:"confirmation_url"`
	Status          models.PaymentStatus `json:"status"`
}

type StatusResult struct {
	Status        models.PaymentStatus `json:"status"`
	Paid          bool                 `json:"paid"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod string               `json:"payment_method,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	// OrderID is the order the processor has on record for this payment,
	// zero when its metadata carries none.
	OrderID       int64                `json:"order_id,omitempty"`
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ReceiptItem struct {
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	Amount         amount `json:"amount"`
	VatCode        string `json:"vat_code"`
	PaymentSubject string `json:"payment_subject"`
	PaymentMode    string `json:"payment_mode"`
}

type receiptCustomer struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type createPaymentRequest struct {
	Amount       amount `json:"amount"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url"`
	} `json:"confirmation"`
	Capture     bool              `json:"capture"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	Receipt     struct {
		Customer receiptCustomer `json:"customer"`
		Items    []ReceiptItem   `json:"items"`
	} `json:"receipt"`
}

type paymentObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Paid   bool   `json:"paid"`
	Amount struct {
		Value    decimal.Decimal `json:"value"`
		Currency string          `json:"currency"`
	} `json:"amount"`
	Confirmation *struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	PaymentMethod *struct {
		Type string `json:"type"`
	} `json:"payment_method"`
	Metadata struct {
		OrderID OrderRef `json:"order_id"`
	} `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// YooKassaClient creates and inspects payments through the YooKassa v3 API.
type YooKassaClient struct {
	cfg     config.YooKassaConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	newKey  func() string
}

func NewYooKassaClient(cfg config.YooKassaConfig, client *http.Client, logger *zap.Logger) *YooKassaClient {
	return &YooKassaClient{
		cfg:    cfg,
		client: client,
		breaker: circuitbreaker.NewCircuitBreaker(service, 5, 30*time.Second, circuitbreaker.WithIgnoredErrors(func(err error) bool {
			return !errors.Is(err, models.ErrExternalService)
		})),
		logger: logger.With(zap.String("gateway", service)),
		newKey: uuid.NewString,
	}
}

// BuildReceipt returns one line per item plus a delivery line when shipping
// is charged, and the sum those lines add up to.
func BuildReceipt(items []models.OrderItem, shippingCost decimal.Decimal, currency string) ([]ReceiptItem, decimal.Decimal) {
	lines := make([]ReceiptItem, 0, len(items)+1)
	sum := decimal.Zero
	for _, it := range items {
		name := it.ProductName
		if name == "" {
			name = fmt.Sprintf("Товар #%d", it.ProductID)
		}
		lines = append(lines, ReceiptItem{
			Description:    truncateRunes(name, maxDescriptionLen),
			Quantity:       strconv.Itoa(it.Quantity),
			Amount:         amount{Value: it.Price.StringFixed(2), Currency: currency},
			VatCode:        vatCode,
			PaymentSubject: "commodity",
			PaymentMode:    "full_payment",
		})
		sum = sum.Add(it.LineTotal())
	}
	if shippingCost.IsPositive() {
		lines = append(lines, ReceiptItem{
			Description:    shippingLineName,
			Quantity:       "1",
			Amount:         amount{Value: shippingCost.StringFixed(2), Currency: currency},
			VatCode:        vatCode,
			PaymentSubject: "service",
			PaymentMode:    "full_payment",
		})
		sum = sum.Add(shippingCost)
	}
	return lines, sum.Round(2)
}

// CreatePaymentIntent registers a payment for the order. The receipt must add
// up to the requested amount; a mismatch is refused rather than corrected.
func (c *YooKassaClient) CreatePaymentIntent(ctx context.Context, in IntentRequest) (*Intent, error) {
	lines, receiptSum := BuildReceipt(in.Items, in.ShippingCost, in.Currency)
	if !receiptSum.Equal(in.Amount.Round(2)) {
		c.logger.Error("Receipt sum does not match payment amount",
			zap.Int64("order_id", in.OrderID),
			zap.String("receipt_sum", receiptSum.String()),
			zap.String("amount", in.Amount.String()),
		)
		return nil, fmt.Errorf("%w: receipt sum %s differs from amount %s", models.ErrPaymentCreationFailed, receiptSum, in.Amount)
	}

	var body createPaymentRequest
	body.Amount = amount{Value: in.Amount.StringFixed(2), Currency: in.Currency}
	body.Confirmation.Type = "redirect"
	body.Confirmation.ReturnURL = c.cfg.ReturnURL
	body.Capture = true
	body.Description = fmt.Sprintf("Order #%d", in.OrderID)
	body.Metadata = map[string]string{"order_id": strconv.FormatInt(in.OrderID, 10)}
	body.Receipt.Customer = receiptCustomer{Email: in.CustomerEmail, Phone: FormatPhone(in.CustomerPhone)}
	body.Receipt.Items = lines

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	key := c.newKey()
	var out paymentObject
	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/payments", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", key)
		return c.do(req, "create_payment", &out)
	})
	if err != nil {
		return nil, c.wrapOpen("create_payment", err)
	}

	intent := &Intent{PaymentID: out.ID, Status: models.PaymentStatus(out.Status)}
	if out.Confirmation != nil {
		intent.ConfirmationURL = out.Confirmation.ConfirmationURL
	}
	if intent.PaymentID == "" || intent.ConfirmationURL == "" {
		return nil, models.NewExternalServiceError(service, "create_payment", http.StatusOK, nil, errors.New("response lacks payment id or confirmation url"))
	}

	c.logger.Info("Payment created",
		zap.Int64("order_id", in.OrderID),
		zap.String("payment_id", intent.PaymentID),
		zap.String("status", string(intent.Status)),
		zap.String("idempotence_key", key),
	)
	return intent, nil
}

func (c *YooKassaClient) GetPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	if paymentID == "" {
		return nil, models.ErrNoPaymentAttached
	}

	var out paymentObject
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/payments/"+url.PathEscape(paymentID), nil)
		if err != nil {
			return err
		}
		return c.do(req, "get_payment", &out)
	})
	if err != nil {
		return nil, c.wrapOpen("get_payment", err)
	}

	status, ok := ParseStatus(out.Status)
	if !ok {
		return nil, models.NewExternalServiceError(service, "get_payment", http.StatusOK, nil, fmt.Errorf("unknown payment status %q", out.Status))
	}

	res := &StatusResult{
		Status:    status,
		Paid:      out.Paid,
		Amount:    out.Amount.Value,
		Currency:  out.Amount.Currency,
		CreatedAt: out.CreatedAt,
	}
	if out.PaymentMethod != nil {
		res.PaymentMethod = out.PaymentMethod.Type
	}
	if out.Metadata.OrderID.Valid {
		res.OrderID = out.Metadata.OrderID.ID
	}
	return res, nil
}

func (c *YooKassaClient) do(req *http.Request, op string, out any) error {
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Payment gateway request failed", zap.String("operation", op), zap.Error(err))
		return models.NewExternalServiceError(service, op, 0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.NewExternalServiceError(service, op, resp.StatusCode, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		svcErr := models.NewExternalServiceError(service, op, resp.StatusCode, body, nil)
		c.logger.Error("Payment gateway returned error status",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", svcErr.Body),
		)
		return svcErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return models.NewExternalServiceError(service, op, resp.StatusCode, body, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *YooKassaClient) wrapOpen(op string, err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return models.NewExternalServiceError(service, op, 0, nil, err)
	}
	return err
}

func ParseStatus(s string) (models.PaymentStatus, bool) {
	switch models.PaymentStatus(s) {
	case models.PaymentStatusPending, models.PaymentStatusWaitingForCapture,
		models.PaymentStatusSucceeded, models.PaymentStatusCanceled:
		return models.PaymentStatus(s), true
	}
	return "", false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
