package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-paybridge/internal/common"
	"github.com/noah-isme/backend-paybridge/internal/obs"
)

// Verifier authenticates an inbound delivery before any handler runs.
// Signature mismatches and transport errors are both reported as a plain
// error; the dispatcher does not distinguish them in the response body.
type Verifier interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

// ReplayStore is the subset of redis used for duplicate-delivery suppression.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Ack is the acknowledgment body returned to the provider. A non-2xx status
// with Success=false tells the provider's delivery system to retry the event.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Dispatcher receives raw webhook requests, verifies them, and routes the
// parsed envelope to every responsible handler.
type Dispatcher struct {
	Registry  *Registry
	Verifier  Verifier
	Replay    ReplayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Handle implements the inbound webhook endpoint.
func (d *Dispatcher) Handle(w http.ResponseWriter, r *http.Request) {
	if d.Registry == nil {
		common.JSON(w, http.StatusInternalServerError, Ack{Success: false, Message: "webhook dispatch not configured"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSON(w, http.StatusBadRequest, Ack{Success: false, Message: "unable to read payload"})
		return
	}
	ctx := r.Context()
	tracer := otel.Tracer("webhook.Dispatcher")
	ctx, span := tracer.Start(ctx, "Dispatcher.Handle")
	defer span.End()

	eventType := PeekEventType(body)
	span.SetAttributes(attribute.String("webhook.event_type", eventType))

	if d.Registry.VerificationRequired(eventType) {
		if d.Verifier == nil {
			common.JSON(w, http.StatusInternalServerError, Ack{Success: false, Message: "verification not configured"})
			return
		}
		if err := d.Verifier.VerifyWebhookSignature(ctx, r.Header, body); err != nil {
			// The cause stays in the logs only; the response body is the
			// same for a bad signature and a transport failure.
			d.Logger.Warn().Err(err).Str("event_type", eventType).Msg("webhook verification rejected")
			d.count(eventType, "rejected")
			common.JSON(w, http.StatusBadRequest, Ack{Success: false, Message: "verification failed"})
			return
		}
	}

	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	ev, err := ParseEvent(body, now)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("webhook payload not parseable")
		d.count(eventType, "malformed")
		common.JSON(w, http.StatusBadRequest, Ack{Success: false, Message: "malformed event payload"})
		return
	}

	claimed, dupKey := d.claim(ctx, ev)
	if !claimed {
		d.Logger.Info().Str("event_id", ev.ID).Str("event_type", ev.EventType).Msg("duplicate webhook delivery ignored")
		d.count(ev.EventType, "duplicate")
		common.JSON(w, http.StatusOK, Ack{Success: true, Message: "duplicate delivery"})
		return
	}

	handlers := d.Registry.HandlersFor(ev)
	if len(handlers) == 0 {
		d.Logger.Info().Str("event_id", ev.ID).Str("event_type", ev.EventType).Msg("no handler registered for event type")
		d.count(ev.EventType, "unhandled")
		common.JSON(w, http.StatusOK, Ack{Success: true, Message: fmt.Sprintf("event type %s is not handled", ev.EventType)})
		return
	}

	// Handlers run sequentially: several of them touch the same order or
	// customer record and the relative order of side effects matters.
	var failures []string
	for _, h := range handlers {
		res := d.invoke(ctx, h, ev)
		if !res.Success {
			failures = append(failures, res.Message)
		}
	}

	if len(failures) > 0 {
		// Release the replay claim so the provider's redelivery is not
		// suppressed as a duplicate.
		if dupKey != "" && d.Replay != nil {
			_ = d.Replay.Del(context.WithoutCancel(ctx), dupKey).Err()
		}
		d.Logger.Error().
			Str("event_id", ev.ID).
			Str("event_type", ev.EventType).
			Strs("failures", failures).
			Msg("webhook handling failed")
		d.count(ev.EventType, "failed")
		common.JSON(w, http.StatusInternalServerError, Ack{Success: false, Message: strings.Join(failures, "; ")})
		return
	}

	d.Logger.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.EventType).
		Int("handlers", len(handlers)).
		Msg("webhook handled")
	d.count(ev.EventType, "ok")
	common.JSON(w, http.StatusOK, Ack{Success: true})
}

// invoke runs a single handler, converting a panic into a failed result so a
// misbehaving handler cannot take down the dispatch loop.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev *Event) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.Logger.Error().
				Str("event_id", ev.ID).
				Str("event_type", ev.EventType).
				Interface("panic", rec).
				Msg("handler panicked")
			res = Failf("handler panicked: %v", rec)
		}
	}()
	return h.Handle(ctx, ev)
}

// claim marks the event id as seen. The second return value is the redis key
// holding the claim, so a failed dispatch can release it.
func (d *Dispatcher) claim(ctx context.Context, ev *Event) (bool, string) {
	if d.Replay == nil || d.ReplayTTL <= 0 || strings.TrimSpace(ev.ID) == "" {
		return true, ""
	}
	key := "wh:paypal:" + ev.ID
	ok, err := d.Replay.SetNX(ctx, key, "1", d.ReplayTTL).Result()
	if err != nil {
		// Dedup is best effort; handlers are idempotent against redelivery.
		d.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("replay store unavailable")
		return true, ""
	}
	return ok, key
}

func (d *Dispatcher) count(eventType, result string) {
	if obs.WebhookEventsTotal == nil {
		return
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = "unknown"
	}
	obs.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}
