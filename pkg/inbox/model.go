// Package inbox deduplicates consumed events. Producers deliver at least
// once, so every handler runs behind a guard that remembers which event ids
// it already processed.
package inbox

import "time"

type Status string

const (
	// StatusInFlight marks an event a consumer is currently processing,
	// bounded by a lease so a crashed consumer does not block redelivery.
	StatusInFlight Status = "IN_FLIGHT"
	// StatusProcessed marks an event whose handler completed. Terminal.
	StatusProcessed Status = "PROCESSED"
	// StatusFailed marks an event whose handler failed permanently.
	// Terminal, redeliveries are skipped.
	StatusFailed Status = "FAILED"
)

// ProcessingRecord tracks one event id for one consumer. The document id is
// the idempotency key, uniqueness on insert is the dedup primitive.
type ProcessingRecord struct {
	ID             string     `bson:"_id"`
	Consumer       string     `bson:"consumer"`
	EventID        string     `bson:"eventId"`
	Status         Status     `bson:"status"`
	Attempts       int        `bson:"attempts"`
	LeaseExpiresAt time.Time  `bson:"leaseExpiresAt"`
	LastError      string     `bson:"lastError,omitempty"`
	ProcessedAt    *time.Time `bson:"processedAt,omitempty"`
	CreatedAt      time.Time  `bson:"createdAt"`
}

// RecordID builds the idempotency key for a consumer and event id pair.
func RecordID(consumer, eventID string) string {
	return consumer + "/" + eventID
}
