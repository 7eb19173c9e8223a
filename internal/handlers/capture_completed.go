package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/paypal"
	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// captureResource is the shared shape of capture-family event payloads. The
// custom_id field carries the local order id the checkout flow attached when
// creating the provider order.
type captureResource struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	CustomID string       `json:"custom_id"`
	Amount   paypal.Money `json:"amount"`
}

func (r captureResource) localOrderID() string {
	return strings.TrimSpace(r.CustomID)
}

// PaymentCaptureCompleted marks the local order paid when the provider
// reports a completed capture.
type PaymentCaptureCompleted struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *PaymentCaptureCompleted) EventTypes() []string {
	return []string{EventPaymentCaptureCompleted}
}

// ResponsibleFor implements webhook.Handler.
func (h *PaymentCaptureCompleted) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler.
func (h *PaymentCaptureCompleted) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource captureResource
	if err := ev.DecodeResource(&resource); err != nil || resource.localOrderID() == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("capture event without local order reference")
		return webhook.OKf("no local order reference on capture event")
	}
	orderID := resource.localOrderID()
	order, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Logger.Warn().Str("order_id", orderID).Str("event_id", ev.ID).Msg("capture event for unknown order")
			return webhook.OKf("order %s not found", orderID)
		}
		return webhook.Failf("load order %s: %v", orderID, err)
	}
	if order.Status == store.OrderStatusPaid {
		// Redelivery of an event we already applied.
		return webhook.OK()
	}
	if err := h.Store.MarkAuthorizationCaptured(ctx, orderID, resource.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return webhook.Failf("mark captured for order %s: %v", orderID, err)
	}
	if err := h.Store.UpdateOrderStatus(ctx, orderID, store.OrderStatusPaid); err != nil {
		return webhook.Failf("update order %s: %v", orderID, err)
	}
	note := fmt.Sprintf("Payment completed (capture id %s, %s %s).",
		resource.ID, resource.Amount.Value, resource.Amount.CurrencyCode)
	if err := h.Store.AppendOrderNote(ctx, orderID, note); err != nil {
		return webhook.Failf("append note for order %s: %v", orderID, err)
	}
	return webhook.OK()
}
