package processor_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-paybridge/internal/paypal"
	"github.com/noah-isme/backend-paybridge/internal/processor"
	"github.com/noah-isme/backend-paybridge/internal/store"
)

type stubGateway struct {
	captures map[string]*paypal.Capture
	errs     map[string]error
	calls    []string
}

func (g *stubGateway) CaptureAuthorization(_ context.Context, authorizationID string) (*paypal.Capture, error) {
	g.calls = append(g.calls, authorizationID)
	if err, ok := g.errs[authorizationID]; ok {
		return nil, err
	}
	if c, ok := g.captures[authorizationID]; ok {
		return c, nil
	}
	return &paypal.Capture{ID: "CAP-" + authorizationID, Status: "COMPLETED"}, nil
}

func openOrder(id string, customerID int64, authID string, amount int64) store.Order {
	return store.Order{
		ID:         id,
		CustomerID: customerID,
		Status:     store.OrderStatusPendingPayment,
		Authorization: &store.Authorization{
			ID:       authID,
			Status:   store.AuthorizationCreated,
			Amount:   amount,
			Currency: "EUR",
		},
	}
}

func TestCaptureForCustomerCapturesAllOpenAuthorizations(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(openOrder("ORD-1", 42, "AUTH-1", 1990))
	st.PutOrder(openOrder("ORD-2", 42, "AUTH-2", 550))
	// Belongs to another customer, must stay untouched.
	st.PutOrder(openOrder("ORD-3", 7, "AUTH-3", 100))

	gw := &stubGateway{}
	p := &processor.Processor{Store: st, Gateway: gw, Logger: zerolog.Nop()}

	outcome := p.CaptureForCustomer(context.Background(), 42)
	require.False(t, outcome.Failed())
	require.Len(t, outcome.Results, 2)
	require.Len(t, gw.calls, 2)
	require.NotContains(t, gw.calls, "AUTH-3")

	for _, id := range []string{"ORD-1", "ORD-2"} {
		order, err := st.GetOrder(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, store.OrderStatusPaid, order.Status)
		require.Equal(t, store.AuthorizationCaptured, order.Authorization.Status)
		require.NotEmpty(t, order.CaptureID)
		require.Len(t, st.Notes(id), 1)
	}

	other, err := st.GetOrder(context.Background(), "ORD-3")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPendingPayment, other.Status)
}

func TestCaptureForCustomerPartialFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(openOrder("ORD-1", 42, "AUTH-1", 1990))
	st.PutOrder(openOrder("ORD-2", 42, "AUTH-2", 550))

	gw := &stubGateway{errs: map[string]error{
		"AUTH-2": &paypal.APIError{StatusCode: http.StatusInternalServerError, Name: "INTERNAL_SERVER_ERROR"},
	}}
	p := &processor.Processor{Store: st, Gateway: gw, Logger: zerolog.Nop()}

	outcome := p.CaptureForCustomer(context.Background(), 42)
	require.True(t, outcome.Failed())
	require.Len(t, outcome.Results, 2)
	require.Len(t, gw.calls, 2, "one failure must not stop the rest of the batch")

	var failed, captured int
	for _, res := range outcome.Results {
		if res.Err != nil {
			failed++
		} else {
			captured++
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, 1, captured)
}

func TestCaptureTreatsAlreadyCapturedAsSuccess(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(openOrder("ORD-1", 42, "AUTH-1", 1990))

	gw := &stubGateway{errs: map[string]error{
		"AUTH-1": &paypal.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Name:       "UNPROCESSABLE_ENTITY",
			Details:    []paypal.ErrorDetail{{Issue: "AUTHORIZATION_ALREADY_CAPTURED"}},
		},
	}}
	p := &processor.Processor{Store: st, Gateway: gw, Logger: zerolog.Nop()}

	outcome := p.CaptureForCustomer(context.Background(), 42)
	require.False(t, outcome.Failed())
	require.Len(t, outcome.Results, 1)
	require.True(t, outcome.Results[0].AlreadyCaptured)

	order, err := st.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, order.Status)
	require.Equal(t, store.AuthorizationCaptured, order.Authorization.Status)

	// The order dropped out of the eligible set, so a redelivery is a no-op
	// without another remote call.
	outcome = p.CaptureForCustomer(context.Background(), 42)
	require.False(t, outcome.Failed())
	require.Empty(t, outcome.Results)
	require.Len(t, gw.calls, 1)
}

func TestCaptureForOrderSkipsRemoteCallWhenAlreadyCaptured(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.PutOrder(store.Order{
		ID:         "ORD-1",
		CustomerID: 42,
		Status:     store.OrderStatusPaid,
		Authorization: &store.Authorization{
			ID:     "AUTH-1",
			Status: store.AuthorizationCaptured,
		},
		CaptureID: "CAP-OLD",
	})

	gw := &stubGateway{}
	p := &processor.Processor{Store: st, Gateway: gw, Logger: zerolog.Nop()}

	outcome := p.CaptureForOrder(context.Background(), "ORD-1")
	require.False(t, outcome.Failed())
	require.Len(t, outcome.Results, 1)
	require.True(t, outcome.Results[0].AlreadyCaptured)
	require.Equal(t, "CAP-OLD", outcome.Results[0].CaptureID)
	require.Empty(t, gw.calls)
}

func TestCaptureForOrderRejectsExpiredAuthorization(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	order := openOrder("ORD-1", 42, "AUTH-1", 1990)
	order.Authorization.ExpiresAt = time.Now().Add(-time.Hour)
	st.PutOrder(order)

	gw := &stubGateway{}
	p := &processor.Processor{Store: st, Gateway: gw, Logger: zerolog.Nop()}

	outcome := p.CaptureForOrder(context.Background(), "ORD-1")
	require.True(t, outcome.Failed())
	require.Empty(t, gw.calls)
}

func TestCaptureForOrderUnknownOrder(t *testing.T) {
	t.Parallel()

	p := &processor.Processor{Store: store.NewMemory(), Gateway: &stubGateway{}, Logger: zerolog.Nop()}
	outcome := p.CaptureForOrder(context.Background(), "ORD-MISSING")
	require.True(t, outcome.Failed())
}
