package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventPayload is the wire shape of a single ingested event.
// Nothing beyond "the body decodes as JSON" is checked: user_id may be zero,
// timestamp is kept verbatim as text, metadata is opaque.
type EventPayload struct {
	UserID    int64           `json:"user_id"`
	Timestamp string          `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Event is one accepted record awaiting persistence. Immutable once built.
type Event struct {
	ID        string
	UserID    int64
	Timestamp string
	Metadata  json.RawMessage
}

// ToEvent assigns the durable identifier at accept time, so a batch retried
// after an ambiguous store failure carries the same ids and the sink's
// idempotent insert cannot double-persist it.
func (p *EventPayload) ToEvent() Event {
	return Event{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Timestamp: p.Timestamp,
		Metadata:  p.Metadata,
	}
}

// MetadataText returns the metadata as the serialized string the sinks store.
func (e *Event) MetadataText() string {
	if len(e.Metadata) == 0 {
		return `{}`
	}
	return string(e.Metadata)
}
