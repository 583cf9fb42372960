package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
)

// Client talks to the payment processor's REST API. It implements
// payments.Gateway; only the four calls the engine needs are covered.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

var _ payments.Gateway = (*Client)(nil)

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) CreateCustomer(ctx context.Context, info payments.BillingInfo) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/v1/customers", map[string]any{
		"name":  info.Name,
		"email": info.Email,
		"address": map[string]string{
			"line1":       info.Address.Street,
			"city":        info.Address.City,
			"postal_code": info.Address.PostalCode,
			"country":     info.Address.Country,
		},
	}, &out)
	return out.ID, err
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req payments.SessionRequest) (string, error) {
	items := make([]map[string]any, 0, len(req.LineItems))
	for _, it := range req.LineItems {
		items = append(items, map[string]any{
			"name":        it.Name,
			"description": it.Description,
			"images":      imageList(it.Image),
			"currency":    it.Currency,
			"amount":      it.UnitAmountCents,
			"quantity":    it.Quantity,
		})
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/v1/checkout/sessions", map[string]any{
		"customer":             req.CustomerID,
		"payment_method_types": []string{"card"},
		"line_items":           items,
		"metadata":             req.Metadata,
		"client_reference_id":  req.ClientReferenceID,
		"locale":               req.Locale,
		"success_url":          req.SuccessURL,
		"cancel_url":           req.CancelURL,
	}, &out)
	return out.ID, err
}

func (c *Client) CreateSingleUseSource(ctx context.Context, req payments.SourceRequest) (payments.Source, error) {
	var out struct {
		ID        string          `json:"id"`
		Reference json.RawMessage `json:"multibanco"`
	}
	err := c.post(ctx, "/v1/sources", map[string]any{
		"type":     "multibanco",
		"amount":   req.AmountCents,
		"currency": req.Currency,
		"owner": map[string]string{
			"name":  req.OwnerName,
			"email": req.OwnerEmail,
		},
		"metadata": req.Metadata,
	}, &out)
	if err != nil {
		return payments.Source{}, err
	}
	return payments.Source{ID: out.ID, Reference: out.Reference}, nil
}

func (c *Client) CreateCharge(ctx context.Context, amountCents int64, currency, sourceID string) error {
	return c.post(ctx, "/v1/charges", map[string]any{
		"amount":   amountCents,
		"currency": currency,
		"source":   sourceID,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func imageList(img string) []string {
	if img == "" {
		return nil
	}
	return []string{img}
}
