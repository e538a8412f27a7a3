// Package billing is the client for the payment processor's retry endpoint.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/recoverly/dunning-engine/internal/action"
	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/pkg/circuitbreaker"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

// HTTPGateway retries charges against the billing service. Calls run behind
// a circuit breaker so a processor outage does not stall the whole batch.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewHTTPGateway(cfg config.BillingConfig, log *logger.Logger) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "billing-gateway",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger: log,
	}
}

type retryChargeRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
}

type retryChargeResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

func (g *HTTPGateway) RetryCharge(ctx context.Context, paymentIntentID string, amountCents int64) (action.ChargeResult, error) {
	body, err := json.Marshal(retryChargeRequest{
		PaymentIntentID: paymentIntentID,
		AmountCents:     amountCents,
	})
	if err != nil {
		return action.ChargeResult{}, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	var result retryChargeResponse
	err = g.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges/retry", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("billing request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("billing service returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode charge response: %w", err)
		}
		return nil
	})
	if err != nil {
		return action.ChargeResult{}, err
	}

	g.logger.Debug("charge retry completed",
		"payment_intent_id", paymentIntentID,
		"success", result.Success)
	return action.ChargeResult{Success: result.Success, Reason: result.Reason}, nil
}
