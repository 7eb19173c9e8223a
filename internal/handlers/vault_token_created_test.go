package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-paybridge/internal/handlers"
	"github.com/noah-isme/backend-paybridge/internal/processor"
	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

type fakeProcessor struct {
	outcome   processor.Outcome
	customers []int64
}

func (f *fakeProcessor) CaptureForCustomer(_ context.Context, customerID int64) processor.Outcome {
	f.customers = append(f.customers, customerID)
	return f.outcome
}

func vaultEvent(t *testing.T, resource map[string]any) *webhook.Event {
	t.Helper()
	raw, err := json.Marshal(resource)
	require.NoError(t, err)
	return &webhook.Event{
		ID:        "WH-1",
		EventType: handlers.EventVaultPaymentTokenCreated,
		Resource:  raw,
	}
}

func cardResource(customerID string) map[string]any {
	return map[string]any{
		"id":          "TOKEN-1",
		"customer_id": customerID,
		"source": map[string]any{
			"card": map[string]any{
				"last_digits": "4242",
				"expiry":      "2029-07",
				"brand":       "VISA",
			},
		},
	}
}

func TestVaultTokenCreatedCapturesAndSavesCard(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	proc := &fakeProcessor{}
	h := &handlers.VaultPaymentTokenCreated{Store: st, Processor: proc, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	res := h.Handle(context.Background(), vaultEvent(t, cardResource("PROVIDER-42")))
	require.True(t, res.Success)
	require.Equal(t, []int64{42}, proc.customers)

	instruments := st.Instruments(42)
	require.Len(t, instruments, 1)
	inst := instruments[0]
	require.Equal(t, store.InstrumentCard, inst.Kind)
	require.Equal(t, "TOKEN-1", inst.Token)
	require.Equal(t, "4242", inst.CardLast4)
	require.Equal(t, "VISA", inst.CardBrand)
	require.Equal(t, 2029, inst.CardExpYear)
	require.Equal(t, 7, inst.CardExpMonth)
	require.Equal(t, inst.ID, st.DefaultInstrument(42))
}

func TestVaultTokenCreatedSavesWalletSource(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	h := &handlers.VaultPaymentTokenCreated{Store: st, Processor: &fakeProcessor{}, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	ev := vaultEvent(t, map[string]any{
		"id":          "TOKEN-2",
		"customer_id": "PROVIDER-42",
		"source": map[string]any{
			"paypal": map[string]any{"email_address": "buyer@example.com"},
		},
	})
	res := h.Handle(context.Background(), ev)
	require.True(t, res.Success)

	instruments := st.Instruments(42)
	require.Len(t, instruments, 1)
	require.Equal(t, store.InstrumentWallet, instruments[0].Kind)
}

func TestVaultTokenCreatedRedeliveryDoesNotDuplicateInstrument(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	proc := &fakeProcessor{}
	h := &handlers.VaultPaymentTokenCreated{Store: st, Processor: proc, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	ev := vaultEvent(t, cardResource("PROVIDER-42"))
	require.True(t, h.Handle(context.Background(), ev).Success)
	require.True(t, h.Handle(context.Background(), ev).Success)

	require.Len(t, st.Instruments(42), 1, "instruments are upserted by provider token")
	require.Len(t, proc.customers, 2, "capture is retried on redelivery; it is idempotent downstream")
}

func TestVaultTokenCreatedMissingCustomerIsHandledNoOp(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	proc := &fakeProcessor{}
	h := &handlers.VaultPaymentTokenCreated{Store: st, Processor: proc, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	ev := vaultEvent(t, map[string]any{"id": "TOKEN-3"})
	res := h.Handle(context.Background(), ev)
	require.True(t, res.Success, "redelivery cannot supply a customer id, so the event is acknowledged")
	require.Empty(t, proc.customers)
	require.Empty(t, st.Instruments(42))
}

func TestVaultTokenCreatedForeignPrefixIsHandledNoOp(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{}
	h := &handlers.VaultPaymentTokenCreated{Store: store.NewMemory(), Processor: proc, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	res := h.Handle(context.Background(), vaultEvent(t, cardResource("OTHERSHOP-42")))
	require.True(t, res.Success)
	require.Empty(t, proc.customers)
}

func TestVaultTokenCreatedCaptureFailureForcesRedelivery(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	proc := &fakeProcessor{outcome: processor.Outcome{Results: []processor.CaptureResult{
		{OrderID: "ORD-1", Err: errors.New("gateway timeout")},
	}}}
	h := &handlers.VaultPaymentTokenCreated{Store: st, Processor: proc, Prefix: "PROVIDER-", Logger: zerolog.Nop()}

	res := h.Handle(context.Background(), vaultEvent(t, cardResource("PROVIDER-42")))
	require.False(t, res.Success)
	// The instrument is still written; the failure only drives redelivery.
	require.Len(t, st.Instruments(42), 1)
}

func TestVaultTokenDeletedRemovesInstrument(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	id, err := st.SavePaymentInstrument(context.Background(), store.PaymentInstrument{
		CustomerID: 42, Token: "TOKEN-1", Kind: store.InstrumentCard,
	})
	require.NoError(t, err)
	require.NoError(t, st.SetDefaultPaymentInstrument(context.Background(), 42, id))

	h := &handlers.VaultPaymentTokenDeleted{Store: st, Prefix: "PROVIDER-", Logger: zerolog.Nop()}
	raw, err := json.Marshal(map[string]any{"id": "TOKEN-1", "customer_id": "PROVIDER-42"})
	require.NoError(t, err)
	ev := &webhook.Event{ID: "WH-2", EventType: handlers.EventVaultPaymentTokenDeleted, Resource: raw}

	require.True(t, h.Handle(context.Background(), ev).Success)
	require.Empty(t, st.Instruments(42))
	require.Empty(t, st.DefaultInstrument(42))

	// Redelivery after the instrument is gone is still a success.
	require.True(t, h.Handle(context.Background(), ev).Success)
}

func TestParseLocalCustomerID(t *testing.T) {
	t.Parallel()

	id, err := handlers.ParseLocalCustomerID("PROVIDER-", "PROVIDER-42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = handlers.ParseLocalCustomerID("PROVIDER-", "42")
	require.Error(t, err)

	_, err = handlers.ParseLocalCustomerID("PROVIDER-", "PROVIDER-abc")
	require.Error(t, err)

	_, err = handlers.ParseLocalCustomerID("PROVIDER-", "PROVIDER--7")
	require.Error(t, err)

	_, err = handlers.ParseLocalCustomerID("PROVIDER-", "")
	require.Error(t, err)
}
