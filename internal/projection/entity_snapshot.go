package projection

import (
	"encoding/json"
	"sync"

	"github.com/cacack/eventstore/internal/domain"
)

// EntitySnapshotKey scopes the projection's state by tenant, since entity
// ids are only unique within a tenant.
type EntitySnapshotKey struct {
	TenantID domain.TenantID
	EntityID domain.EntityID
}

// entityState holds either a folded object (the common case) or, when an
// event's payload was not itself a JSON object, the most recent opaque
// payload verbatim: a non-object payload replaces current state outright
// rather than merging.
type entityState struct {
	fields map[string]json.RawMessage
	opaque json.RawMessage
}

// EntitySnapshot is a built-in projection that maintains, per (tenant_id,
// entity_id), the running merged object produced by folding each event's
// top-level JSON object keys into the prior state: last writer wins per
// key.
type EntitySnapshot struct {
	mu    sync.RWMutex
	state map[EntitySnapshotKey]entityState
}

// NewEntitySnapshot creates an empty EntitySnapshot projection.
func NewEntitySnapshot() *EntitySnapshot {
	return &EntitySnapshot{state: make(map[EntitySnapshotKey]entityState)}
}

// Name implements Projection.
func (s *EntitySnapshot) Name() string { return "entity_snapshot" }

// Process implements Projection.
func (s *EntitySnapshot) Process(event domain.Event) error {
	key := EntitySnapshotKey{TenantID: event.TenantID, EntityID: event.EntityID}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(event.Payload, &fields); err != nil {
		s.mu.Lock()
		s.state[key] = entityState{opaque: event.Payload}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.state[key].fields
	if current == nil {
		current = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		current[k] = v
	}
	s.state[key] = entityState{fields: current}
	return nil
}

// Clear implements Projection.
func (s *EntitySnapshot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[EntitySnapshotKey]entityState)
}

// State returns the current merged state for (tenantID, entityID) as a
// JSON value, and whether any event has been folded in yet.
func (s *EntitySnapshot) State(tenantID domain.TenantID, entityID domain.EntityID) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state[EntitySnapshotKey{TenantID: tenantID, EntityID: entityID}]
	if !ok {
		return nil, false
	}
	if st.opaque != nil {
		return st.opaque, true
	}
	out, _ := json.Marshal(st.fields)
	return out, true
}
