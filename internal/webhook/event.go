package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event is the normalised representation of one inbound provider notification.
// It is immutable after construction; handlers only read it.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary"`
	Resource     json.RawMessage `json:"resource"`
	ReceivedAt   time.Time       `json:"-"`
}

// ParseEvent decodes the raw webhook body into an Event. ReceivedAt is stamped
// from the ingestion clock, not from anything the provider claims.
func ParseEvent(body []byte, receivedAt time.Time) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	ev.EventType = strings.TrimSpace(ev.EventType)
	if ev.EventType == "" {
		return nil, errors.New("webhook: event_type is missing")
	}
	ev.ReceivedAt = receivedAt
	return &ev, nil
}

// PeekEventType extracts only the event_type field from a raw body. The
// dispatcher uses it to decide whether signature verification applies before
// doing any further work. An empty string means the field was absent or the
// body was not valid JSON.
func PeekEventType(body []byte) string {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.EventType)
}

// ResourceMap decodes the resource payload into a generic map. Each call
// returns a fresh map so handlers cannot mutate shared state through it.
func (e *Event) ResourceMap() (map[string]any, error) {
	if len(e.Resource) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(e.Resource, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeResource unmarshals the resource payload into the provided value.
func (e *Event) DecodeResource(v any) error {
	if len(e.Resource) == 0 {
		return errors.New("webhook: event has no resource payload")
	}
	return json.Unmarshal(e.Resource, v)
}
