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

// ShippingTrackingUpdated appends shipment tracking changes reported by the
// provider to the local order history.
type ShippingTrackingUpdated struct {
	Store  store.Store
	Logger zerolog.Logger
}

// EventTypes implements webhook.Handler.
func (h *ShippingTrackingUpdated) EventTypes() []string {
	return []string{EventShippingTrackingUpdated}
}

// ResponsibleFor implements webhook.Handler.
func (h *ShippingTrackingUpdated) ResponsibleFor(ev *webhook.Event) bool {
	return responsibleFor(ev, h.EventTypes())
}

// Handle implements webhook.Handler. Tracking updates only add history; they
// never change order status, so the handler is trivially idempotent apart
// from repeated notes, which the dispatcher's replay suppression covers.
func (h *ShippingTrackingUpdated) Handle(ctx context.Context, ev *webhook.Event) webhook.Result {
	var resource struct {
		TrackingNumber string `json:"tracking_number"`
		Carrier        string `json:"carrier"`
		Status         string `json:"status"`
		CustomID       string `json:"custom_id"`
	}
	if err := ev.DecodeResource(&resource); err != nil || strings.TrimSpace(resource.CustomID) == "" {
		h.Logger.Warn().Str("event_id", ev.ID).Msg("tracking event without local order reference")
		return webhook.OKf("no local order reference on tracking event")
	}
	orderID := strings.TrimSpace(resource.CustomID)
	note := fmt.Sprintf("Shipment tracking updated: %s %s (%s).",
		resource.Carrier, resource.TrackingNumber, resource.Status)
	if err := h.Store.AppendOrderNote(ctx, orderID, note); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Logger.Warn().Str("order_id", orderID).Msg("tracking event for unknown order")
			return webhook.OKf("order %s not found", orderID)
		}
		return webhook.Failf("append note for order %s: %v", orderID, err)
	}
	return webhook.OK()
}
