package webhook

import (
	"context"
	"fmt"
)

// Result is the outcome a handler reports back to the dispatcher. Handlers
// convert every internal failure into a Result so the dispatcher's aggregation
// logic never deals with panics or raw errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OK returns a plain success result.
func OK() Result {
	return Result{Success: true}
}

// OKf returns a success result with an attached message.
func OKf(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Failf returns a failure result. A failed result makes the dispatcher answer
// with a non-2xx status so the provider redelivers the event.
func Failf(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Handler is the unit of business logic reacting to one or more event types.
// Implementations are registered once at startup and must be safe for
// concurrent use across deliveries.
type Handler interface {
	// EventTypes lists the event types the handler wants to see.
	EventTypes() []string
	// ResponsibleFor reports whether the handler should run for the event.
	ResponsibleFor(ev *Event) bool
	// Handle applies the handler's side effects. Implementations must be
	// idempotent against redelivery of the same event.
	Handle(ctx context.Context, ev *Event) Result
}
