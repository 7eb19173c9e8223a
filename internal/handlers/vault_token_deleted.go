package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// VaultPaymentTokenDeleted removes the local payment instrument when the
// provider reports a vaulted token as deleted.
type VaultPaymentTokenDeleted struct {
	Store  store.Store
	Prefix string
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *VaultPaymentTokenDeleted) EventTypes() []string {
	return []string{EventVaultPaymentTokenDeleted}
}

// ResponsibleFor implements webhook.Handler.
func (h *VaultPaymentTokenDeleted) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler.
func (h *VaultPaymentTokenDeleted) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource struct {
		ID         string `json:"id"`
		CustomerID string `json:"customer_id"`
	}
	if err := ev.DecodeResource(&resource); err != nil || strings.TrimSpace(resource.ID) == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("vault token deletion without token id")
		return webhook.OKf("no token id was found")
	}
	customerID, err := ParseLocalCustomerID(h.Prefix, resource.CustomerID)
	if err != nil {
		h.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("vault token deletion for unrecognised customer")
		return webhook.OKf("customer id not recognised")
	}
	if err := h.Store.DeletePaymentInstrument(ctx, customerID, resource.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already gone locally; deletion is idempotent.
			return webhook.OK()
		}
		h.Logger.Error().Err(err).Int64("customer_id", customerID).Str("token", resource.ID).
			Msg("delete payment instrument")
		return webhook.Failf("delete instrument %s: %v", resource.ID, err)
	}
	return webhook.OK()
}
