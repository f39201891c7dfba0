// Package outbox implements transactional event staging and relay: events are
// written in the same database transaction as the state change, then a
// background relay claims and publishes them with at-least-once semantics.
package outbox

import "time"

type Status string

const (
	// StatusPending marks records waiting for a relay to claim them.
	StatusPending Status = "PENDING"
	// StatusPublishing marks records claimed by a relay under a live lease.
	StatusPublishing Status = "PUBLISHING"
	// StatusPublished marks records acknowledged by the broker. Terminal.
	StatusPublished Status = "PUBLISHED"
	// StatusFailed marks records that exhausted the retry budget or hit a
	// permanent delivery failure. Terminal, routed to the dead-letter store.
	StatusFailed Status = "FAILED"
)

// Record is one staged event. CreatedAt orders records of the same aggregate,
// the claim token fences confirmations from stale lease holders.
type Record struct {
	ID            string            `bson:"_id"`
	AggregateType string            `bson:"aggregateType"`
	AggregateID   string            `bson:"aggregateId"`
	EventType     string            `bson:"eventType"`
	Topic         string            `bson:"topic"`
	Key           string            `bson:"key"`
	Payload       []byte            `bson:"payload"`
	Headers       map[string]string `bson:"headers,omitempty"`
	Status        Status            `bson:"status"`
	RetryCount    int               `bson:"retryCount"`
	NextAttemptAt time.Time         `bson:"nextAttemptAt"`
	ClaimToken    string            `bson:"claimToken,omitempty"`
	ClaimExpires  time.Time         `bson:"claimExpiresAt,omitempty"`
	LastError     string            `bson:"lastError,omitempty"`
	CreatedAt     time.Time         `bson:"createdAt"`
	PublishedAt   *time.Time        `bson:"publishedAt,omitempty"`
}

// Message is the writer-side input: one event to stage. Topic defaults to
// the aggregate type and Key to the event id when left empty. Set Key to the
// aggregate id to pin an aggregate's events to one partition.
type Message struct {
	AggregateType string
	AggregateID   string
	EventType     string
	SchemaVersion int
	Topic         string
	Key           string
	Payload       any
}

// DeadLetter is a failed record copied aside for inspection and manual replay.
type DeadLetter struct {
	ID            string            `bson:"_id"`
	AggregateType string            `bson:"aggregateType"`
	AggregateID   string            `bson:"aggregateId"`
	EventType     string            `bson:"eventType"`
	Topic         string            `bson:"topic"`
	Key           string            `bson:"key"`
	Payload       []byte            `bson:"payload"`
	Headers       map[string]string `bson:"headers,omitempty"`
	RetryCount    int               `bson:"retryCount"`
	Reason        string            `bson:"reason"`
	FailedAt      time.Time         `bson:"failedAt"`
	CreatedAt     time.Time         `bson:"createdAt"`
}
