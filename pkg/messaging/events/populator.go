package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// MetadataPopulator builds envelopes with generated metadata.
type MetadataPopulator interface {
	// NewEnvelope wraps the payload into an envelope with a fresh EventID,
	// the configured source service name, the current UTC time and the
	// trace id from the context (if any).
	NewEnvelope(ctx context.Context, eventType string, schemaVersion int, payload any) (Envelope, error)
}

type metadataPopulator struct {
	source string
}

// NewMetadataPopulator creates a MetadataPopulator stamping the given source
// service name on every envelope.
func NewMetadataPopulator(source string) MetadataPopulator {
	return &metadataPopulator{source: source}
}

func (p *metadataPopulator) NewEnvelope(ctx context.Context, eventType string, schemaVersion int, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload of %s: %w", eventType, err)
	}

	if schemaVersion <= 0 {
		schemaVersion = 1
	}

	e := Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		OccurredAt:    time.Now().UTC(),
		Source:        p.source,
		Payload:       body,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		e.TraceID = sc.TraceID().String()
	}

	return e, nil
}
