package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"merch-svc/config"
	"merch-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupYooKassaTest(t *testing.T, handler http.HandlerFunc) (*YooKassaClient, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.YooKassaConfig{ShopID: "shop", SecretKey: "secret", ReturnURL: "https://shop.example/return", BaseURL: srv.URL}
	c := NewYooKassaClient(cfg, srv.Client(), zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	c.newKey = func() string { return "key-1" }
	return c, &calls
}

func sampleIntent() IntentRequest {
	return IntentRequest{
		OrderID:       42,
		Amount:        decimal.NewFromInt(2300),
		Currency:      "RUB",
		CustomerEmail: "ivan@example.com",
		CustomerPhone: "8 (912) 345-67-89",
		ShippingCost:  decimal.NewFromInt(300),
		Items: []models.OrderItem{
			{ProductID: 1, ProductName: "Hoodie", Quantity: 2, Price: decimal.NewFromInt(500)},
			{ProductID: 2, ProductName: "Mug", Quantity: 1, Price: decimal.NewFromInt(1000)},
		},
	}
}

func TestYooKassaClient_CreatePaymentIntent(t *testing.T) {
	var got createPaymentRequest
	var idempotenceKey string
	c, _ := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		idempotenceKey = r.Header.Get("Idempotence-Key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"pay-1","status":"pending","paid":false,"confirmation":{"type":"redirect","confirmation_url":"https://pay.example/confirm"}}`))
	})

	intent, err := c.CreatePaymentIntent(context.Background(), sampleIntent())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if intent.PaymentID != "pay-1" || intent.ConfirmationURL != "https://pay.example/confirm" || intent.Status != models.PaymentStatusPending {
		t.Errorf("Unexpected intent: %+v", intent)
	}
	if idempotenceKey != "key-1" {
		t.Errorf("Expected idempotence key, got %q", idempotenceKey)
	}
	if got.Amount.Value != "2300.00" || got.Amount.Currency != "RUB" {
		t.Errorf("Unexpected amount: %+v", got.Amount)
	}
	if !got.Capture || got.Confirmation.ReturnURL != "https://shop.example/return" {
		t.Errorf("Unexpected confirmation: %+v capture=%v", got.Confirmation, got.Capture)
	}
	if got.Metadata["order_id"] != "42" {
		t.Errorf("Expected order_id metadata 42, got %q", got.Metadata["order_id"])
	}
	if got.Receipt.Customer.Phone != "79123456789" {
		t.Errorf("Expected formatted phone, got %q", got.Receipt.Customer.Phone)
	}
	if len(got.Receipt.Items) != 3 {
		t.Fatalf("Expected 3 receipt lines, got %d", len(got.Receipt.Items))
	}
	delivery := got.Receipt.Items[2]
	if delivery.Description != "Доставка" || delivery.PaymentSubject != "service" || delivery.Amount.Value != "300.00" {
		t.Errorf("Unexpected delivery line: %+v", delivery)
	}
	if got.Receipt.Items[0].VatCode != "1" || got.Receipt.Items[0].PaymentMode != "full_payment" {
		t.Errorf("Unexpected item line: %+v", got.Receipt.Items[0])
	}
}

func TestYooKassaClient_CreatePaymentIntent_RefusesMismatchedAmount(t *testing.T) {
	c, calls := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	req := sampleIntent()
	req.Amount = decimal.NewFromInt(2000)

	_, err := c.CreatePaymentIntent(context.Background(), req)
	if !errors.Is(err, models.ErrPaymentCreationFailed) {
		t.Errorf("Expected ErrPaymentCreationFailed, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no gateway call, got %d", calls.Load())
	}
}

func TestYooKassaClient_CreatePaymentIntent_UpstreamError(t *testing.T) {
	c, _ := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","code":"invalid_request","description":"receipt is invalid"}`))
	})

	_, err := c.CreatePaymentIntent(context.Background(), sampleIntent())

	var svcErr *models.ExternalServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("Expected ExternalServiceError, got %v", err)
	}
	if svcErr.StatusCode != http.StatusBadRequest || svcErr.Body == "" {
		t.Errorf("Expected 400 with body, got %d %q", svcErr.StatusCode, svcErr.Body)
	}
}

func TestYooKassaClient_GetPaymentStatus(t *testing.T) {
	c, _ := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":"pay-1","status":"succeeded","paid":true,"amount":{"value":"2300.00","currency":"RUB"},"payment_method":{"type":"bank_card"},"metadata":{"order_id":"42"},"created_at":"2025-03-01T12:00:00.000Z"}`))
	})

	res, err := c.GetPaymentStatus(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if res.Status != models.PaymentStatusSucceeded || !res.Paid || res.PaymentMethod != "bank_card" {
		t.Errorf("Unexpected status: %+v", res)
	}
	if !res.Amount.Equal(decimal.NewFromInt(2300)) {
		t.Errorf("Expected amount 2300, got %s", res.Amount)
	}
	if res.OrderID != 42 {
		t.Errorf("Expected order id 42 from metadata, got %d", res.OrderID)
	}
}

func TestYooKassaClient_GetPaymentStatus_UnknownStatus(t *testing.T) {
	c, _ := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"pay-1","status":"refunded"}`))
	})

	_, err := c.GetPaymentStatus(context.Background(), "pay-1")
	if !errors.Is(err, models.ErrExternalService) {
		t.Errorf("Expected ErrExternalService, got %v", err)
	}
}

func TestYooKassaClient_GetPaymentStatus_NoPayment(t *testing.T) {
	c, _ := setupYooKassaTest(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.GetPaymentStatus(context.Background(), "")
	if !errors.Is(err, models.ErrNoPaymentAttached) {
		t.Errorf("Expected ErrNoPaymentAttached, got %v", err)
	}
}

func TestBuildReceipt_TruncatesDescription(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "ж"
	}
	lines, sum := BuildReceipt([]models.OrderItem{{ProductName: long, Quantity: 3, Price: decimal.RequireFromString("99.90")}}, decimal.Zero, "RUB")

	if len([]rune(lines[0].Description)) != 128 {
		t.Errorf("Expected 128 runes, got %d", len([]rune(lines[0].Description)))
	}
	if len(lines) != 1 {
		t.Errorf("Expected no delivery line for free shipping, got %d lines", len(lines))
	}
	if !sum.Equal(decimal.RequireFromString("299.7")) {
		t.Errorf("Expected sum 299.7, got %s", sum)
	}
}
