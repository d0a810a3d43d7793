package payproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VitalCareHQ/VitalCare/internal/pkg/env"
	"github.com/VitalCareHQ/VitalCare/internal/pkg/errs"
)

const defaultRequestTimeout = 15 * time.Second

// ClientConfig holds the processor API connection settings. It is built once
// in main from the environment and injected; the client never reads ambient
// state at call time.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the processor's REST API. It implements Gateway.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a processor client from an explicit configuration.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientFromEnv builds the configuration from the environment once, at
// process startup.
func NewClientFromEnv() *Client {
	timeout := defaultRequestTimeout
	if raw := strings.TrimSpace(env.GetEnv("PROCESSOR_TIMEOUT", "")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	return NewClient(ClientConfig{
		BaseURL: strings.TrimRight(env.GetEnv("PROCESSOR_API_BASE_URL", "https://api.processor.example/v1"), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("PROCESSOR_API_KEY", "")),
		Timeout: timeout,
	})
}

func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errs.Validationf("customer email is required")
	}
	var out Customer
	err := c.do(ctx, http.MethodPost, "/customers", map[string]string{"email": email, "name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errs.Validationf("customer id is required")
	}
	var out Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	if strings.TrimSpace(params.CustomerID) == "" || strings.TrimSpace(params.PlanID) == "" {
		return nil, errs.Validationf("customer_id and plan_id are required")
	}
	var out Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errs.Validationf("subscription id is required")
	}
	var out Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errs.Validationf("subscription id is required")
	}
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, nil)
}

func (c *Client) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, errs.Validationf("plan id is required")
	}
	var out Plan
	if err := c.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePlan(ctx context.Context, planID string, params UpdatePlanParams) (*Plan, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, errs.Validationf("plan id is required")
	}
	var out Plan
	if err := c.do(ctx, http.MethodPatch, "/plans/"+url.PathEscape(planID), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errs.Validationf("customer id is required")
	}
	var out struct {
		Data []PaymentMethod `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID)+"/payment_methods", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ChargeInvoice(ctx context.Context, subscriptionID string, amountMinor int64, currency string) (*Invoice, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errs.Validationf("subscription id is required")
	}
	if amountMinor == 0 {
		return nil, errs.Validationf("charge amount must be non-zero")
	}
	body := map[string]any{
		"subscription_id": subscriptionID,
		"amount_minor":    amountMinor,
		"currency":        currency,
	}
	var out Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Refund(ctx context.Context, invoiceID string, amountMinor int64) (*Refund, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, errs.Validationf("invoice id is required")
	}
	if amountMinor <= 0 {
		return nil, errs.Validationf("refund amount must be positive")
	}
	body := map[string]any{
		"invoice_id":   invoiceID,
		"amount_minor": amountMinor,
	}
	var out Refund
	if err := c.do(ctx, http.MethodPost, "/refunds", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request. A timeout or network failure is transient and never
// assumed to have succeeded; the caller's retry policy decides what to do.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errs.Transientf("processor request timed out: %s %s", method, path)
		}
		return errs.Transientf("processor request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(raw, out)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, method, path)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errs.Transientf("processor returned status=%d body=%s", resp.StatusCode, string(raw))
	default:
		return errs.Validationf("processor rejected request: status=%d body=%s", resp.StatusCode, string(raw))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
