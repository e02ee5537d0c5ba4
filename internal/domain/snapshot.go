package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a derived state value for an entity, used to shortcut state
// reconstruction. Reconstruction using a snapshot plus the events after it
// must equal a full replay.
type Snapshot struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  TenantID        `json:"tenant_id"`
	EntityID  EntityID        `json:"entity_id"`
	State     json.RawMessage `json:"state"`
	Version   int64           `json:"version"` // stream version this snapshot was taken at
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewSnapshot builds a Snapshot of state taken at the given stream version
// and event timestamp.
func NewSnapshot(tenantID TenantID, entityID EntityID, state json.RawMessage, version int64, timestamp time.Time) *Snapshot {
	return &Snapshot{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EntityID:  entityID,
		State:     state,
		Version:   version,
		Timestamp: timestamp,
		CreatedAt: time.Now().UTC(),
	}
}
