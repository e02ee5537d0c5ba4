package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record describing something that happened to an
// entity. Version is assigned by the owning EventStream on append and
// never changes afterward.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	EventType EventType       `json:"event_type"`
	EntityID  EntityID        `json:"entity_id"`
	TenantID  TenantID        `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int64           `json:"version"`
}

// NewEvent builds an Event with a generated id and the current UTC
// timestamp truncated to millisecond resolution. Version is left at 0;
// EventStream.Append assigns it.
func NewEvent(tenantID TenantID, entityID EntityID, eventType EventType, payload, metadata json.RawMessage) Event {
	return Event{
		ID:        uuid.New(),
		EventType: eventType,
		EntityID:  entityID,
		TenantID:  tenantID,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// PartitionKey returns the partition this event's entity hashes to.
func (e Event) PartitionKey(partitionCount int) PartitionKey {
	return PartitionFromEntityID(e.EntityID.String(), partitionCount)
}
