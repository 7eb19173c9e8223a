package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/processor"
	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// CaptureProcessor is the slice of the authorized-payments processor the
// vault handler needs.
type CaptureProcessor interface {
	CaptureForCustomer(ctx context.Context, customerID int64) processor.Outcome
}

// VaultPaymentTokenCreated reacts to a reusable payment instrument becoming
// available for a customer. It captures the customer's outstanding
// authorizations and records the new instrument locally.
type VaultPaymentTokenCreated struct {
	Store     store.Store
	Processor CaptureProcessor
	// Prefix namespaces local customer ids inside provider customer ids.
	Prefix string
	Logger zerolog.Logger
}

type vaultTokenResource struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Source     struct {
		Card *struct {
			LastDigits string `json:"last_digits"`
			Expiry     string `json:"expiry"`
			Brand      string `json:"brand"`
		} `json:"card"`
		PayPal *struct {
			EmailAddress string `json:"email_address"`
		} `json:"paypal"`
	} `json:"source"`
}

// EventTypes implements webhook.Handler.
func (h *VaultPaymentTokenCreated) EventTypes() []string {
	return []string{EventVaultPaymentTokenCreated}
}

// ResponsibleFor implements webhook.Handler.
func (h *VaultPaymentTokenCreated) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler. Both side effects are always attempted;
// a capture failure does not stop the instrument write, but either failure
// fails the overall result so the provider redelivers.
func (h *VaultPaymentTokenCreated) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource vaultTokenResource
	if err := ev.DecodeResource(&resource); err != nil {
		h.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("vault token event without usable resource")
		return webhook.OKf("no usable resource on event")
	}
	if strings.TrimSpace(resource.CustomerID) == "" {
		// Redelivery cannot conjure a customer id, so this is acknowledged
		// as done instead of forcing an endless retry loop.
		h.Logger.Warn().Str("event_id", ev.ID).Msg("no customer id was found on vault token event")
		return webhook.OKf("no customer id was found")
	}
	customerID, err := ParseLocalCustomerID(h.Prefix, resource.CustomerID)
	if err != nil {
		h.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("customer_id", resource.CustomerID).
			Msg("vault token event for unrecognised customer id")
		return webhook.OKf("customer id not recognised")
	}

	outcome := h.Processor.CaptureForCustomer(ctx, customerID)
	captureFailed := outcome.Failed()
	if captureFailed {
		h.Logger.Error().Int64("customer_id", customerID).Str("summary", outcome.Summary()).
			Msg("capturing authorized payments failed")
	}

	instrumentErr := h.saveInstrument(ctx, customerID, resource)

	if captureFailed || instrumentErr != nil {
		return webhook.Failf("vault token %s: capture failed=%v, instrument error=%v",
			resource.ID, captureFailed, instrumentErr)
	}
	return webhook.OK()
}

func (h *VaultPaymentTokenCreated) saveInstrument(ctx context.Context, customerID int64, resource vaultTokenResource) error {
	if resource.ID == "" {
		return nil
	}
	var inst store.PaymentInstrument
	switch {
	case resource.Source.Card != nil:
		year, month := splitCardExpiry(resource.Source.Card.Expiry)
		inst = store.PaymentInstrument{
			CustomerID:   customerID,
			Token:        resource.ID,
			Kind:         store.InstrumentCard,
			CardLast4:    resource.Source.Card.LastDigits,
			CardBrand:    resource.Source.Card.Brand,
			CardExpYear:  year,
			CardExpMonth: month,
		}
	case resource.Source.PayPal != nil:
		inst = store.PaymentInstrument{
			CustomerID: customerID,
			Token:      resource.ID,
			Kind:       store.InstrumentWallet,
		}
	default:
		// Unknown source shape is tolerated; there is nothing to vault.
		h.Logger.Info().Int64("customer_id", customerID).Str("token", resource.ID).
			Msg("vault token event without card or wallet source")
		return nil
	}

	id, err := h.Store.SavePaymentInstrument(ctx, inst)
	if err != nil {
		return err
	}
	return h.Store.SetDefaultPaymentInstrument(ctx, customerID, id)
}

// splitCardExpiry parses the provider's "YYYY-MM" expiry encoding.
func splitCardExpiry(expiry string) (year, month int) {
	parts := strings.SplitN(expiry, "-", 2)
	if len(parts) > 0 {
		year, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		month, _ = strconv.Atoi(parts[1])
	}
	return year, month
}
