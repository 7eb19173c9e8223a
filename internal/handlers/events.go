// Package handlers contains the webhook handlers owning the idempotent
// side-effect logic for each provider event family.
package handlers

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// Recognised provider event types. Routing happens only through handler
// registration; nothing matches on these strings outside this package.
const (
	EventVaultPaymentTokenCreated  = "VAULT.PAYMENT-TOKEN.CREATED"
	EventVaultPaymentTokenDeleted  = "VAULT.PAYMENT-TOKEN.DELETED"
	EventPaymentCaptureCompleted   = "PAYMENT.CAPTURE.COMPLETED"
	EventPaymentCaptureRefunded    = "PAYMENT.CAPTURE.REFUNDED"
	EventPaymentCaptureReversed    = "PAYMENT.CAPTURE.REVERSED"
	EventPaymentCaptureDenied      = "PAYMENT.CAPTURE.DENIED"
	EventBillingSubSuspended       = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventBillingSubActivated       = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventBillingSubCancelled       = "BILLING.SUBSCRIPTION.CANCELLED"
	EventShippingTrackingUpdated   = "MERCHANT.SHIPPING.TRACKING.UPDATED"
	EventCustomerDisputeCreated    = "CUSTOMER.DISPUTE.CREATED"
)

func responsibleFor(ev *webhook.Event, eventTypes []string) bool {
	if ev == nil {
		return false
	}
	return slices.Contains(eventTypes, ev.EventType)
}

// ParseLocalCustomerID strips the provider-namespaced prefix from an external
// customer id and returns the local numeric id. A missing prefix or a
// non-numeric remainder is a malformed id, which callers treat as a handled
// no-op rather than a crash.
func ParseLocalCustomerID(prefix, providerCustomerID string) (int64, error) {
	providerCustomerID = strings.TrimSpace(providerCustomerID)
	if providerCustomerID == "" {
		return 0, fmt.Errorf("customer id is empty")
	}
	if prefix != "" && !strings.HasPrefix(providerCustomerID, prefix) {
		return 0, fmt.Errorf("customer id %q lacks prefix %q", providerCustomerID, prefix)
	}
	raw := strings.TrimPrefix(providerCustomerID, prefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("customer id %q is not a local id", providerCustomerID)
	}
	return id, nil
}
