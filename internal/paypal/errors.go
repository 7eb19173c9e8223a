package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrVerificationFailed is returned for every webhook verification rejection,
// whether the signature did not match or the verification call itself failed.
var ErrVerificationFailed = errors.New("paypal: webhook verification failed")

// ErrorDetail is one entry of the details array in a provider error payload.
type ErrorDetail struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Description string `json:"description,omitempty"`
}

// APIError carries a non-2xx provider response. The gateway never retries
// these itself; callers decide whether a given status means "already done".
type APIError struct {
	StatusCode int
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id"`
	Details    []ErrorDetail `json:"details"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Name != "" {
		return fmt.Sprintf("paypal: %s (%d): %s", e.Name, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paypal: unexpected status %d", e.StatusCode)
}

// HasIssue reports whether any error detail carries the given issue code.
func (e *APIError) HasIssue(issue string) bool {
	if e == nil {
		return false
	}
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// IsAlreadyCaptured recognises the provider responses that mean the
// authorization was captured by an earlier attempt. Callers treat these as
// idempotent success instead of a duplicate charge.
func IsAlreadyCaptured(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	return apiErr.HasIssue("AUTHORIZATION_ALREADY_CAPTURED") ||
		apiErr.HasIssue("ORDER_ALREADY_CAPTURED") ||
		apiErr.HasIssue("MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED")
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}
	return apiErr
}
