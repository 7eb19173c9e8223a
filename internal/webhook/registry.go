package webhook

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps event types to the handlers that react to them. Feature
// packages register their handlers during startup; after that the registry is
// read-mostly and safe for concurrent lookups.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
	exempt   map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{exempt: make(map[string]struct{})}
}

// Register adds a handler. Handlers run in registration order; multiple
// handlers may claim the same event type and all responsible ones run.
func (r *Registry) Register(h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// ExemptFromVerification marks event types whose deliveries skip signature
// verification. This is a deployment decision for low-risk simulator events,
// not something handlers decide.
func (r *Registry) ExemptFromVerification(eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, et := range eventTypes {
		et = strings.TrimSpace(et)
		if et == "" {
			continue
		}
		r.exempt[et] = struct{}{}
	}
}

// VerificationRequired reports whether deliveries of the event type must pass
// signature verification before any handler runs.
func (r *Registry) VerificationRequired(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exempt[strings.TrimSpace(eventType)]
	return !ok
}

// HandlersFor returns every registered handler responsible for the event, in
// registration order.
func (r *Registry) HandlersFor(ev *Event) []Handler {
	if ev == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handler
	for _, h := range r.handlers {
		if h.ResponsibleFor(ev) {
			out = append(out, h)
		}
	}
	return out
}

// EventTypes returns the sorted union of all event types handlers declared.
// Used when (re-)registering the webhook subscription with the provider.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, h := range r.handlers {
		for _, et := range h.EventTypes() {
			et = strings.TrimSpace(et)
			if et != "" {
				seen[et] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for et := range seen {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}
