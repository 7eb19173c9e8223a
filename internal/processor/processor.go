// Package processor drives the capture of outstanding payment authorizations
// against the remote provider and reconciles local order state afterwards.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-paybridge/internal/obs"
	"github.com/noah-isme/backend-paybridge/internal/paypal"
	"github.com/noah-isme/backend-paybridge/internal/store"
)

// Gateway is the single remote operation the processor needs.
type Gateway interface {
	CaptureAuthorization(ctx context.Context, authorizationID string) (*paypal.Capture, error)
}

// CaptureResult is the outcome for one order in a capture batch.
type CaptureResult struct {
	OrderID   string
	CaptureID string
	Amount    int64
	Currency  string
	// AlreadyCaptured marks the idempotent case: the provider reported the
	// authorization as captured by an earlier attempt.
	AlreadyCaptured bool
	Err             error
}

// Outcome aggregates per-order capture results. Failures on one order never
// abort the rest of the batch.
type Outcome struct {
	Results []CaptureResult
}

// Failed reports whether at least one order in the batch failed. A failed
// outcome makes the supervising handler force redelivery; succeeded orders
// are safe against the replay because captures are idempotent.
func (o Outcome) Failed() bool {
	for _, r := range o.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable account of the batch for logs and
// acknowledgment messages.
func (o Outcome) Summary() string {
	if len(o.Results) == 0 {
		return "no orders with open authorizations"
	}
	var parts []string
	for _, r := range o.Results {
		if r.Err != nil {
			parts = append(parts, fmt.Sprintf("order %s: %v", r.OrderID, r.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("order %s: captured", r.OrderID))
	}
	return strings.Join(parts, "; ")
}

// Processor captures all outstanding authorizations for a customer or order.
// It performs exactly one remote attempt per order per invocation; retries
// happen at webhook-redelivery granularity, never inside the processor.
type Processor struct {
	Store   store.Store
	Gateway Gateway
	Logger  zerolog.Logger
	Now     func() time.Time
}

// CaptureForCustomer captures every open authorization belonging to the
// customer's orders.
func (p *Processor) CaptureForCustomer(ctx context.Context, customerID int64) Outcome {
	ctx, span := otel.Tracer("processor.Processor").Start(ctx, "Processor.CaptureForCustomer")
	defer span.End()
	span.SetAttributes(attribute.Int64("customer.id", customerID))

	orders, err := p.Store.OrdersWithOpenAuthorization(ctx, customerID)
	if err != nil {
		p.Logger.Error().Err(err).Int64("customer_id", customerID).Msg("list open authorizations")
		return Outcome{Results: []CaptureResult{{Err: fmt.Errorf("list open authorizations: %w", err)}}}
	}
	var out Outcome
	for _, order := range orders {
		out.Results = append(out.Results, p.captureOrder(ctx, order))
	}
	return out
}

// CaptureForOrder captures the order's open authorization. An order already
// in CAPTURED state is a success without a remote call.
func (p *Processor) CaptureForOrder(ctx context.Context, orderID string) Outcome {
	ctx, span := otel.Tracer("processor.Processor").Start(ctx, "Processor.CaptureForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{Results: []CaptureResult{{OrderID: orderID, Err: fmt.Errorf("load order: %w", err)}}}
	}
	return Outcome{Results: []CaptureResult{p.captureOrder(ctx, order)}}
}

func (p *Processor) captureOrder(ctx context.Context, order store.Order) CaptureResult {
	res := CaptureResult{OrderID: order.ID}
	auth := order.Authorization

	if auth != nil && auth.Status == store.AuthorizationCaptured {
		res.AlreadyCaptured = true
		res.CaptureID = order.CaptureID
		p.observe("noop")
		return res
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	if !auth.Open(now) {
		res.Err = fmt.Errorf("order %s has no open authorization", order.ID)
		p.observe("ineligible")
		return res
	}

	capture, err := p.Gateway.CaptureAuthorization(ctx, auth.ID)
	switch {
	case err == nil:
		res.CaptureID = capture.ID
		res.Amount = auth.Amount
		res.Currency = auth.Currency
	case paypal.IsAlreadyCaptured(err):
		// A previous delivery (or another process) won the race. Not an
		// error and not a duplicate charge.
		res.AlreadyCaptured = true
		p.Logger.Info().
			Str("order_id", order.ID).
			Str("authorization_id", auth.ID).
			Msg("authorization already captured upstream")
	default:
		res.Err = fmt.Errorf("capture authorization %s: %w", auth.ID, err)
		p.Logger.Error().Err(err).
			Str("order_id", order.ID).
			Str("authorization_id", auth.ID).
			Msg("capture failed")
		p.observe("error")
		return res
	}

	if err := p.reconcile(ctx, order, res); err != nil {
		res.Err = err
		p.observe("error")
		return res
	}
	p.observe("ok")
	return res
}

// reconcile writes the captured state back through the local adapter.
func (p *Processor) reconcile(ctx context.Context, order store.Order, res CaptureResult) error {
	// Marked captured even without a capture id (the already-captured case)
	// so the order drops out of future eligible batches.
	if err := p.Store.MarkAuthorizationCaptured(ctx, order.ID, res.CaptureID); err != nil {
		return fmt.Errorf("mark authorization captured: %w", err)
	}
	if order.Status != store.OrderStatusPaid {
		if err := p.Store.UpdateOrderStatus(ctx, order.ID, store.OrderStatusPaid); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
	}
	note := "Payment capture confirmed by provider (already captured)."
	if res.CaptureID != "" {
		note = fmt.Sprintf("Payment of %d %s captured (capture id %s).", res.Amount, res.Currency, res.CaptureID)
	}
	if err := p.Store.AppendOrderNote(ctx, order.ID, note); err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	return nil
}

func (p *Processor) observe(result string) {
	if obs.CaptureTotal != nil {
		obs.CaptureTotal.WithLabelValues(result).Inc()
	}
}
