package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

// PaymentCaptureRefunded reconciles refund and reversal notifications by
// marking the local order refunded.
type PaymentCaptureRefunded struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler. Reversals (provider-initiated
// refunds) follow the same local transition as merchant refunds.
func (h *PaymentCaptureRefunded) EventTypes() []string {
	return []string{EventPaymentCaptureRefunded, EventPaymentCaptureReversed}
}

// ResponsibleFor implements webhook.Handler.
func (h *PaymentCaptureRefunded) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler.
func (h *PaymentCaptureRefunded) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource captureResource
	if err := ev.DecodeResource(&resource); err != nil || resource.localOrderID() == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("refund event without local order reference")
		return webhook.OKf("no local order reference on refund event")
	}
	orderID := resource.localOrderID()
	order, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Logger.Warn().Str("order_id", orderID).Str("event_id", ev.ID).Msg("refund event for unknown order")
			return webhook.OKf("order %s not found", orderID)
		}
		return webhook.Failf("load order %s: %v", orderID, err)
	}
	if order.Status == store.OrderStatusRefunded {
		return webhook.OK()
	}
	if err := h.Store.UpdateOrderStatus(ctx, orderID, store.OrderStatusRefunded); err != nil {
		return webhook.Failf("update order %s: %v", orderID, err)
	}
	note := fmt.Sprintf("Payment refunded (%s, refund id %s, %s %s).",
		ev.EventType, resource.ID, resource.Amount.Value, resource.Amount.CurrencyCode)
	if err := h.Store.AppendOrderNote(ctx, orderID, note); err != nil {
		return webhook.Failf("append note for order %s: %v", orderID, err)
	}
	return webhook.OK()
}

// PaymentCaptureDenied marks the local order failed when the provider denies
// a capture.
type PaymentCaptureDenied struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *PaymentCaptureDenied) EventTypes() []string {
	return []string{EventPaymentCaptureDenied}
}

// ResponsibleFor implements webhook.Handler.
func (h *PaymentCaptureDenied) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler.
func (h *PaymentCaptureDenied) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource captureResource
	if err := ev.DecodeResource(&resource); err != nil || resource.localOrderID() == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("capture denied event without local order reference")
		return webhook.OKf("no local order reference on event")
	}
	orderID := resource.localOrderID()
	order, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return webhook.OKf("order %s not found", orderID)
		}
		return webhook.Failf("load order %s: %v", orderID, err)
	}
	if order.Status == store.OrderStatusFailed {
		return webhook.OK()
	}
	if err := h.Store.UpdateOrderStatus(ctx, orderID, store.OrderStatusFailed); err != nil {
		return webhook.Failf("update order %s: %v", orderID, err)
	}
	if err := h.Store.AppendOrderNote(ctx, orderID,
		fmt.Sprintf("Payment capture denied by provider (capture id %s).", resource.ID)); err != nil {
		return webhook.Failf("append note for order %s: %v", orderID, err)
	}
	return webhook.OK()
}
