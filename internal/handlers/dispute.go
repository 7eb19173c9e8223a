package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// DisputeCreated puts the orders behind a newly opened dispute on hold so
// fulfilment stops while the case is open.
type DisputeCreated struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *DisputeCreated) EventTypes() []string {
	return []string{EventCustomerDisputeCreated}
}

// ResponsibleFor implements webhook.Handler.
func (h *DisputeCreated) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler. The dispute resource references the
// disputed captures; each resolves to a local order via its capture id.
func (h *DisputeCreated) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource struct {
		DisputeID    string `json:"dispute_id"`
		Reason       string `json:"reason"`
		Transactions []struct {
			SellerTransactionID string `json:"seller_transaction_id"`
		} `json:"disputed_transactions"`
	}
	if err := ev.DecodeResource(&resource); err != nil || len(resource.Transactions) == 0 {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("dispute event without disputed transactions")
		return webhook.OKf("no disputed transactions on event")
	}

	var failures []string
	for _, tx := range resource.Transactions {
		if tx.SellerTransactionID == "" {
			continue
		}
		order, err := h.Store.GetOrderByCaptureID(ctx, tx.SellerTransactionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.Logger.Warn().Str("capture_id", tx.SellerTransactionID).Msg("dispute references unknown capture")
				continue
			}
			failures = append(failures, fmt.Sprintf("resolve capture %s: %v", tx.SellerTransactionID, err))
			continue
		}
		if order.Status != store.OrderStatusOnHold {
			if err := h.Store.UpdateOrderStatus(ctx, order.ID, store.OrderStatusOnHold); err != nil {
				failures = append(failures, fmt.Sprintf("hold order %s: %v", order.ID, err))
				continue
			}
		}
		note := fmt.Sprintf("Dispute %s opened (%s); order placed on hold.", resource.DisputeID, resource.Reason)
		if err := h.Store.AppendOrderNote(ctx, order.ID, note); err != nil {
			failures = append(failures, fmt.Sprintf("note order %s: %v", order.ID, err))
		}
	}
	if len(failures) > 0 {
		return webhook.Failf("dispute %s: %v", resource.DisputeID, failures)
	}
	return webhook.OK()
}
