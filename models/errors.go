package models

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrShippingUnavailable   = errors.New("shipping unavailable")
	ErrPaymentCreationFailed = errors.New("payment creation failed")
	ErrExternalService       = errors.New("external service error")
	ErrNoPaymentAttached     = errors.New("order has no payment attached")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrOrderChanged          = errors.New("order changed concurrently")
	ErrUnsupported           = errors.New("operation not supported")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type StockShortfall struct {
	ProductID int64  `json:"id"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

type InsufficientStockError struct {
	Items []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d item(s)", len(e.Items))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// maxBodyLog bounds the upstream body kept for diagnostics.
const maxBodyLog = 500

type ExternalServiceError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func NewExternalServiceError(service, operation string, status int, body []byte, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:    service,
		Operation:  operation,
		StatusCode: status,
		Body:       Truncate(string(body), maxBodyLog),
		Err:        err,
	}
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: unexpected status %d", e.Service, e.Operation, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s failed", e.Service, e.Operation)
	}
}

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
