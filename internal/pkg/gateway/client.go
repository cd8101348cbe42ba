package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/speakloop/speakloop/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.paylane.example.com/v1"

// Client is the payment gateway abstraction consumed by the subscription
// engine. The gateway owns customers, stored cards and recurring billing;
// this system only keeps the opaque identifiers it hands back.
type Client interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	CreateCard(ctx context.Context, customerID, paymentToken string) (string, error)
	// CreateSubscription starts a recurring subscription billed against the
	// stored card. A zero startDate means "start now"; a future startDate
	// defers the first charge. The idempotency key makes retried calls safe.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
}

// CreateSubscriptionRequest carries everything the gateway needs to start
// recurring billing for a plan.
type CreateSubscriptionRequest struct {
	CustomerID     string
	CardID         string
	Plan           string
	StartDate      time.Time
	IdempotencyKey string
}

// SubscriptionInfo is the gateway's view of a subscription.
type SubscriptionInfo struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Plan             string     `json:"plan"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Error is returned for any failed gateway call, transient or permanent.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error: status=%d message=%s", e.StatusCode, e.Message)
}

// HTTPClient talks to the gateway's REST API.
type HTTPClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClientFromEnv builds an HTTP gateway client from environment config.
func NewClientFromEnv() *HTTPClient {
	return &HTTPClient{
		APIKey:  strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("GATEWAY_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *HTTPClient) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", errors.New("customer email is required")
	}

	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/customers", "", map[string]string{
		"name":  strings.TrimSpace(name),
		"email": strings.TrimSpace(email),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("gateway returned empty customer id")
	}
	return out.ID, nil
}

func (c *HTTPClient) CreateCard(ctx context.Context, customerID, paymentToken string) (string, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(paymentToken) == "" {
		return "", errors.New("customer id and payment token are required")
	}

	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/customers/%s/cards", customerID)
	err := c.do(ctx, http.MethodPost, path, "", map[string]string{
		"token": strings.TrimSpace(paymentToken),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("gateway returned empty card id")
	}
	return out.ID, nil
}

func (c *HTTPClient) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (string, error) {
	if req.CustomerID == "" || req.CardID == "" || req.Plan == "" {
		return "", errors.New("customer id, card id and plan are required")
	}

	payload := map[string]string{
		"customer": req.CustomerID,
		"card":     req.CardID,
		"plan":     req.Plan,
	}
	if !req.StartDate.IsZero() {
		payload["start_date"] = req.StartDate.UTC().Format(time.RFC3339)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscriptions", req.IdempotencyKey, payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("gateway returned empty subscription id")
	}
	return out.ID, nil
}

func (c *HTTPClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	path := fmt.Sprintf("/subscriptions/%s", subscriptionID)
	return c.do(ctx, http.MethodDelete, path, "", nil, nil)
}

func (c *HTTPClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}

	var out SubscriptionInfo
	path := fmt.Sprintf("/subscriptions/%s", subscriptionID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, payload, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("GATEWAY_API_KEY is not configured")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &Error{StatusCode: resp.StatusCode, Message: string(raw)}
		var decoded struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && decoded.Error.Code != "" {
			gwErr.Code = decoded.Error.Code
			gwErr.Message = decoded.Error.Message
		}
		return gwErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
