/*
# Module: clients/paypal.go
PayPal Orders v2 client: create, capture and look up orders with an OAuth2 client-credentials token.

## Linked Modules
(None - uses internal types)

## Tags
api-client, paypal, payments, oauth2

## Exports
PayPalClient, NewPayPalClient, Order, OrderApproved, OrderCompleted

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "clients/paypal.go" ;
    code:description "PayPal Orders v2 client with an OAuth2 client-credentials token" ;
    code:exports :PayPalClient, :NewPayPalClient, :Order, :OrderApproved, :OrderCompleted ;
    code:tags "api-client", "paypal", "payments", "oauth2" .
<!-- End LinkedDoc RDF -->
*/
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Order statuses the ingestion path trusts
const (
	OrderApproved  = "APPROVED"
	OrderCompleted = "COMPLETED"
)

// Order is the subset of a PayPal order the service reads
type Order struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PayerToken string `json:"payer_token,omitempty"`
	// Amount is the captured value when PayPal reports one
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Amount   paypalAmount `json:"amount"`
		Payments struct {
			Captures []struct {
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o paypalOrder) toOrder() *Order {
	order := &Order{ID: o.ID, Status: o.Status, PayerToken: o.Payer.PayerID}
	if len(o.PurchaseUnits) > 0 {
		unit := o.PurchaseUnits[0]
		order.Amount, order.Currency = unit.Amount.Value, unit.Amount.CurrencyCode
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			order.Amount, order.Currency = capture.Amount.Value, capture.Amount.CurrencyCode
		}
	}
	return order
}

// PayPalClient talks to the PayPal REST API
type PayPalClient struct {
	baseURL    string
	configured bool
	httpClient *http.Client
}

// NewPayPalClient creates a new PayPal client. baseURL is the sandbox or
// live API root.
func NewPayPalClient(clientID, clientSecret, baseURL string) *PayPalClient {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	base := &http.Client{Timeout: 30 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cfg.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	return &PayPalClient{
		baseURL:    baseURL,
		configured: clientID != "" && clientSecret != "" && baseURL != "",
		httpClient: httpClient,
	}
}

// Configured reports whether credentials are set
func (c *PayPalClient) Configured() bool {
	return c.configured
}

// CreateOrder creates a CAPTURE-intent order for amount
func (c *PayPalClient) CreateOrder(ctx context.Context, amount, currency string) (*Order, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{"amount": paypalAmount{CurrencyCode: currency, Value: amount}},
		},
	}
	return c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, "")
}

// CaptureOrder captures an approved order. The order id doubles as the
// request id so retried captures are idempotent on PayPal's side.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	return c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", map[string]interface{}{}, orderID)
}

// GetOrderDetails fetches the current state of an order
func (c *PayPalClient) GetOrderDetails(ctx context.Context, orderID string) (*Order, error) {
	return c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "")
}

func (c *PayPalClient) do(ctx context.Context, method, path string, payload interface{}, requestID string) (*Order, error) {
	if !c.configured {
		return nil, fmt.Errorf("PayPal credentials: %w", ErrNotConfigured)
	}

	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call PayPal: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("PayPal API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed paypalOrder
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.toOrder(), nil
}
