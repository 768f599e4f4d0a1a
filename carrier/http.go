package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"merch-svc/circuitbreaker"
	"merch-svc/middleware"
	"merch-svc/models"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var errUnauthorized = errors.New("unauthorized")

// do sends req and decodes a 2xx JSON body into out. Transport failures,
// non-2xx statuses and undecodable bodies become *models.ExternalServiceError.
func do(client *http.Client, req *http.Request, service, op string, out any, logger *zap.Logger) error {
	resp, err := client.Do(req)
	if err != nil {
		middleware.RecordCarrierRequest(service, op, "error")
		logger.Error("Carrier request failed", zap.String("carrier", service), zap.String("operation", op), zap.Error(err))
		return models.NewExternalServiceError(service, op, 0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		middleware.RecordCarrierRequest(service, op, "error")
		return models.NewExternalServiceError(service, op, resp.StatusCode, nil, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		middleware.RecordCarrierRequest(service, op, fmt.Sprintf("%d", resp.StatusCode))
		svcErr := models.NewExternalServiceError(service, op, resp.StatusCode, body, nil)
		if resp.StatusCode == http.StatusUnauthorized {
			svcErr.Err = errUnauthorized
		}
		logger.Error("Carrier returned error status",
			zap.String("carrier", service),
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", svcErr.Body),
		)
		return svcErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			middleware.RecordCarrierRequest(service, op, "decode_error")
			logger.Error("Failed to decode carrier response",
				zap.String("carrier", service),
				zap.String("operation", op),
				zap.String("body", models.Truncate(string(body), 500)),
				zap.Error(err),
			)
			return models.NewExternalServiceError(service, op, resp.StatusCode, body, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	middleware.RecordCarrierRequest(service, op, "ok")
	return nil
}

// guard runs fn through the breaker and reports an open circuit as an
// external service failure.
func guard(ctx context.Context, cb *circuitbreaker.CircuitBreaker, op string, fn func() error) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		middleware.RecordCarrierRequest(cb.Name(), op, "circuit_open")
		return models.NewExternalServiceError(cb.Name(), op, 0, nil, err)
	}
	return err
}
