package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
)

const apiKeyHeader = "X-Api-Key"

// Client talks to the mobile-money gateway's push-payment API.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
}

func NewClient(baseURL, apiKey, callbackURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type InitiateRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Phone       string          `json:"phone"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

type InitiateResponse struct {
	ReferenceID string `json:"reference_id"`
}

type StatusResponse struct {
	ReferenceID   string `json:"reference_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Initiate(ctx context.Context, amount int64, phone string) (string, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(InitiateRequest{
		Amount:      decimal.NewFromInt(amount),
		Phone:       phone,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("Initiate: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/push-payments", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("Initiate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	log.Info("gateway request sent", "op", "initiate", "amount", amount)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Initiate: %w: %w", domain.ErrInitiationRejected, err)
	}
	defer resp.Body.Close()

	log.Info("gateway response received",
		"op", "initiate",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Initiate: %w: %s", domain.ErrInitiationRejected, gatewayMessage(resp))
	}

	var out InitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("Initiate: %w: decode: %w", domain.ErrInitiationRejected, err)
	}
	if out.ReferenceID == "" {
		return "", fmt.Errorf("Initiate: %w: missing reference_id", domain.ErrInitiationRejected)
	}

	log.Info("payment push accepted", "reference_id", out.ReferenceID)
	return out.ReferenceID, nil
}

func (c *Client) CheckStatus(ctx context.Context, referenceID string) (domain.StatusReport, error) {
	log := logging.FromContext(ctx)

	endpoint := c.baseURL + "/v1/push-payments/" + url.PathEscape(referenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("CheckStatus: build request: %w", err)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.StatusReport{}, fmt.Errorf("CheckStatus: %w", err)
		}
		return domain.StatusReport{}, fmt.Errorf("CheckStatus: %w: %w", domain.ErrPollingTransport, err)
	}
	defer resp.Body.Close()

	log.Debug("gateway status received",
		"reference_id", referenceID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return domain.StatusReport{}, fmt.Errorf("CheckStatus: %w: %s", domain.ErrPollingTransport, gatewayMessage(resp))
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.StatusReport{}, fmt.Errorf("CheckStatus: %w: decode: %w", domain.ErrPollingTransport, err)
	}

	status := domain.GatewayStatus(out.Status)
	if !status.IsValid() {
		return domain.StatusReport{}, fmt.Errorf("CheckStatus: %w: unknown status %q", domain.ErrPollingTransport, out.Status)
	}

	return domain.StatusReport{
		Status:        status,
		TransactionID: out.TransactionID,
		Message:       out.Message,
	}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
}

func gatewayMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))
}
