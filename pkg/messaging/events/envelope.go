// Package events defines the wire envelope shared by producers and consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps every published event body. EventID is propagated
// end-to-end and doubles as the broker message key and the consumer-side
// idempotency key.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Source        string          `json:"source,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Marshal serializes the envelope to its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}

// Unmarshal parses a wire-form envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if e.EventID == "" {
		return Envelope{}, fmt.Errorf("event envelope has no event_id")
	}
	return e, nil
}

// Decode unmarshals the envelope payload into the given value.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of event %s: %w", e.EventID, err)
	}
	return nil
}
