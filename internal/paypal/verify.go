package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Header names the provider sets on every signed delivery.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
)

var requiredVerifyHeaders = []string{
	HeaderTransmissionID,
	HeaderTransmissionTime,
	HeaderTransmissionSig,
	HeaderCertURL,
	HeaderAuthAlgo,
}

// WebhookVerifier validates that a delivery originates from the provider by
// delegating the signature and certificate-chain check to the provider's
// verification endpoint. The cryptography itself never runs locally.
type WebhookVerifier struct {
	Client    *Client
	WebhookID string
}

// VerifyWebhookSignature checks the delivery headers against the raw body.
// All rejection causes collapse into ErrVerificationFailed; the wrapped
// detail is for logging only and must not reach the response body.
func (v WebhookVerifier) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	if v.Client == nil || strings.TrimSpace(v.WebhookID) == "" {
		return fmt.Errorf("%w: verifier not configured", ErrVerificationFailed)
	}
	for _, name := range requiredVerifyHeaders {
		if strings.TrimSpace(headers.Get(name)) == "" {
			return fmt.Errorf("%w: missing header %s", ErrVerificationFailed, name)
		}
	}
	req := map[string]any{
		"transmission_id":   headers.Get(HeaderTransmissionID),
		"transmission_time": headers.Get(HeaderTransmissionTime),
		"transmission_sig":  headers.Get(HeaderTransmissionSig),
		"cert_url":          headers.Get(HeaderCertURL),
		"auth_algo":         headers.Get(HeaderAuthAlgo),
		"webhook_id":        v.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	resp, err := v.Client.Do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := resp.Decode(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification_status %s", ErrVerificationFailed, result.VerificationStatus)
	}
	return nil
}
