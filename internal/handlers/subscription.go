package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// BillingSubscriptionStatusChanged keeps the local subscription order in sync
// with the provider-side subscription lifecycle.
type BillingSubscriptionStatusChanged struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *BillingSubscriptionStatusChanged) EventTypes() []string {
	return []string{EventBillingSubSuspended, EventBillingSubActivated, EventBillingSubCancelled}
}

// ResponsibleFor implements webhook.Handler.
func (h *BillingSubscriptionStatusChanged) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler.
func (h *BillingSubscriptionStatusChanged) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Status   string `json:"status"`
	}
	if err := ev.DecodeResource(&resource); err != nil || strings.TrimSpace(resource.CustomID) == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("subscription event without local order reference")
		return webhook.OKf("no local order reference on subscription event")
	}
	orderID := strings.TrimSpace(resource.CustomID)

	var target store.OrderStatus
	switch ev.EventType {
	case EventBillingSubSuspended:
		target = store.OrderStatusOnHold
	case EventBillingSubActivated:
		target = store.OrderStatusPaid
	case EventBillingSubCancelled:
		target = store.OrderStatusCanceled
	default:
		return webhook.OKf("event type %s is not a subscription transition", ev.EventType)
	}

	order, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Logger.Warn().Str("order_id", orderID).Str("event_id", ev.ID).Msg("subscription event for unknown order")
			return webhook.OKf("order %s not found", orderID)
		}
		return webhook.Failf("load order %s: %v", orderID, err)
	}
	if order.Status == target {
		return webhook.OK()
	}
	if err := h.Store.UpdateOrderStatus(ctx, orderID, target); err != nil {
		return webhook.Failf("update order %s: %v", orderID, err)
	}
	note := fmt.Sprintf("Subscription %s: %s.", resource.ID, strings.ToLower(strings.TrimPrefix(ev.EventType, "BILLING.SUBSCRIPTION.")))
	if err := h.Store.AppendOrderNote(ctx, orderID, note); err != nil {
		return webhook.Failf("append note for order %s: %v", orderID, err)
	}
	return webhook.OK()
}
