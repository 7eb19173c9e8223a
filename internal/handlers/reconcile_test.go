package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-paybridge/internal/handlers"
	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

func event(t *testing.T, eventType string, resource map[string]any) *webhook.Event {
	t.Helper()
	raw, err := json.Marshal(resource)
	require.NoError(t, err)
	return &webhook.Event{ID: "WH-1", EventType: eventType, Resource: raw}
}

func seedPendingOrder(st *store.Memory, id string) {
	st.PutOrder(store.Order{
		ID:         id,
		CustomerID: 42,
		Status:     store.OrderStatusPendingPayment,
		Authorization: &store.Authorization{
			ID:       "AUTH-1",
			Status:   store.AuthorizationCreated,
			Amount:   1990,
			Currency: "EUR",
		},
	})
}

func TestCaptureCompletedMarksOrderPaid(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seedPendingOrder(st, "ORD-1")
	h := &handlers.PaymentCaptureCompleted{Store: st, Logger: zerolog.Nop()}

	ev := event(t, handlers.EventPaymentCaptureCompleted, map[string]any{
		"id":        "CAP-1",
		"status":    "COMPLETED",
		"custom_id": "ORD-1",
		"amount":    map[string]string{"currency_code": "EUR", "value": "19.90"},
	})
	require.True(t, h.Handle(context.Background(), ev).Success)

	order, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, order.Status)
	require.Equal(t, "CAP-1", order.CaptureID)
	require.Equal(t, store.AuthorizationCaptured, order.Authorization.Status)
	require.Len(t, st.Notes("ORD-1"), 1)

	// Redelivery against an already paid order changes nothing.
	require.True(t, h.Handle(context.Background(), ev).Success)
	require.Len(t, st.Notes("ORD-1"), 1)
}

func TestCaptureCompletedUnknownOrderIsAcknowledged(t *testing.T) {
	t.Parallel()

	h := &handlers.PaymentCaptureCompleted{Store: store.NewMemory(), Logger: zerolog.Nop()}
	ev := event(t, handlers.EventPaymentCaptureCompleted, map[string]any{
		"id": "CAP-1", "custom_id": "ORD-GONE",
	})
	res := h.Handle(context.Background(), ev)
	require.True(t, res.Success, "an unknown order cannot be fixed by redelivery")
}

func TestCaptureRefundedAndReversedMarkOrderRefunded(t *testing.T) {
	t.Parallel()

	for _, eventType := range []string{handlers.EventPaymentCaptureRefunded, handlers.EventPaymentCaptureReversed} {
		st := store.NewMemory()
		st.PutOrder(store.Order{ID: "ORD-1", CustomerID: 42, Status: store.OrderStatusPaid})
		h := &handlers.PaymentCaptureRefunded{Store: st, Logger: zerolog.Nop()}

		ev := event(t, eventType, map[string]any{
			"id":        "REF-1",
			"custom_id": "ORD-1",
			"amount":    map[string]string{"currency_code": "EUR", "value": "19.90"},
		})
		require.True(t, h.Handle(context.Background(), ev).Success, eventType)

		order, err := st.GetOrder(context.Background(), "ORD-1")
		require.NoError(t, err)
		require.Equal(t, store.OrderStatusRefunded, order.Status, eventType)

		// Second delivery is a no-op.
		require.True(t, h.Handle(context.Background(), ev).Success, eventType)
		require.Len(t, st.Notes("ORD-1"), 1, eventType)
	}
}

func TestCaptureDeniedMarksOrderFailed(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seedPendingOrder(st, "ORD-1")
	h := &handlers.PaymentCaptureDenied{Store: st, Logger: zerolog.Nop()}

	ev := event(t, handlers.EventPaymentCaptureDenied, map[string]any{
		"id": "CAP-1", "custom_id": "ORD-1",
	})
	require.True(t, h.Handle(context.Background(), ev).Success)

	order, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFailed, order.Status)
}

func TestSubscriptionTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		eventType string
		want      store.OrderStatus
	}{
		{handlers.EventBillingSubSuspended, store.OrderStatusOnHold},
		{handlers.EventBillingSubActivated, store.OrderStatusPaid},
		{handlers.EventBillingSubCancelled, store.OrderStatusCanceled},
	}
	for _, tc := range cases {
		st := store.NewMemory()
		st.PutOrder(store.Order{ID: "ORD-1", CustomerID: 42, Status: store.OrderStatusPendingPayment})
		h := &handlers.BillingSubscriptionStatusChanged{Store: st, Logger: zerolog.Nop()}

		ev := event(t, tc.eventType, map[string]any{"id": "SUB-1", "custom_id": "ORD-1"})
		require.True(t, h.Handle(context.Background(), ev).Success, tc.eventType)

		order, err := st.GetOrder(context.Background(), "ORD-1")
		require.NoError(t, err)
		require.Equal(t, tc.want, order.Status, tc.eventType)

		// Same status again is acknowledged without a second note.
		require.True(t, h.Handle(context.Background(), ev).Success, tc.eventType)
		require.Len(t, st.Notes("ORD-1"), 1, tc.eventType)
	}
}

func TestTrackingUpdateAppendsNoteOnly(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(store.Order{ID: "ORD-1", CustomerID: 42, Status: store.OrderStatusPaid})
	h := &handlers.ShippingTrackingUpdated{Store: st, Logger: zerolog.Nop()}

	ev := event(t, handlers.EventShippingTrackingUpdated, map[string]any{
		"tracking_number": "1Z999",
		"carrier":         "UPS",
		"status":          "IN_TRANSIT",
		"custom_id":       "ORD-1",
	})
	require.True(t, h.Handle(context.Background(), ev).Success)

	order, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, order.Status, "tracking never changes order status")

	notes := st.Notes("ORD-1")
	require.Len(t, notes, 1)
	require.Contains(t, notes[0], "1Z999")
}

func TestDisputeCreatedPutsDisputedOrdersOnHold(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(store.Order{ID: "ORD-1", CustomerID: 42, Status: store.OrderStatusPaid, CaptureID: "CAP-1"})
	st.PutOrder(store.Order{ID: "ORD-2", CustomerID: 7, Status: store.OrderStatusPaid, CaptureID: "CAP-2"})
	h := &handlers.DisputeCreated{Store: st, Logger: zerolog.Nop()}

	ev := event(t, handlers.EventCustomerDisputeCreated, map[string]any{
		"dispute_id": "DIS-1",
		"reason":     "MERCHANDISE_OR_SERVICE_NOT_RECEIVED",
		"disputed_transactions": []map[string]any{
			{"seller_transaction_id": "CAP-1"},
			{"seller_transaction_id": "CAP-UNKNOWN"},
		},
	})
	require.True(t, h.Handle(context.Background(), ev).Success, "unknown captures are skipped, not failed")

	disputed, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusOnHold, disputed.Status)
	require.Len(t, st.Notes("ORD-1"), 1)

	untouched, err := st.GetOrder(context.Background(), "ORD-2")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, untouched.Status)
}
