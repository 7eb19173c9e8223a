package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Money is an amount in the provider's string-encoded representation.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Capture is the provider's record of a finalised charge.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// Order is the subset of a provider order the reconciliation flow reads.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// PurchaseUnit carries the payment collections attached to an order.
type PurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Amount      Money  `json:"amount"`
	Payments    *struct {
		Authorizations []Capture `json:"authorizations"`
		Captures       []Capture `json:"captures"`
	} `json:"payments"`
}

// CaptureAuthorization finalises a previously authorized payment. Callers use
// IsAlreadyCaptured on the returned error to recognise the idempotent case.
func (c *Client) CaptureAuthorization(ctx context.Context, authorizationID string) (*Capture, error) {
	if authorizationID == "" {
		return nil, errors.New("paypal: authorization id is required")
	}
	path := fmt.Sprintf("/v2/payments/authorizations/%s/capture", url.PathEscape(authorizationID))
	resp, err := c.Do(ctx, http.MethodPost, path, map[string]any{})
	if err != nil {
		return nil, err
	}
	var capture Capture
	if err := resp.Decode(&capture); err != nil {
		return nil, fmt.Errorf("paypal: decode capture: %w", err)
	}
	return &capture, nil
}

// GetOrder fetches the current provider-side state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, errors.New("paypal: order id is required")
	}
	resp, err := c.Do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := resp.Decode(&order); err != nil {
		return nil, fmt.Errorf("paypal: decode order: %w", err)
	}
	return &order, nil
}

// CreatePartnerReferral submits referral data and returns the merchant
// signup link from the response's action_url link.
func (c *Client) CreatePartnerReferral(ctx context.Context, referral map[string]any) (string, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/v2/customer/partner-referrals", referral)
	if err != nil {
		return "", err
	}
	var payload struct {
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := resp.Decode(&payload); err != nil {
		return "", fmt.Errorf("paypal: decode referral response: %w", err)
	}
	for _, link := range payload.Links {
		if link.Rel == "action_url" && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", errors.New("paypal: referral response has no action_url link")
}
