// Package index maintains in-memory secondary indexes over ingested
// events so queries by entity, type, or id don't require a full scan.
package index

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cacack/eventstore/internal/domain"
)

// Entry locates one event: where it lives (wal offset) and when it was
// recorded, without carrying the event payload itself.
type Entry struct {
	EventID   uuid.UUID
	TenantID  domain.TenantID
	EntityID  domain.EntityID
	EventType domain.EventType
	Offset    int64
	Timestamp time.Time
	Version   int64
}

// Index holds three views over the same entries: by entity, by event
// type, and by event id. Each is its own RWMutex-guarded map so a query
// on one dimension never blocks writers updating another.
type Index struct {
	entityMu sync.RWMutex
	byEntity map[tenantEntityKey][]Entry

	typeMu sync.RWMutex
	byType map[tenantTypeKey][]Entry

	idMu sync.RWMutex
	byID map[uuid.UUID]Entry
}

type tenantEntityKey struct {
	tenant domain.TenantID
	entity domain.EntityID
}

type tenantTypeKey struct {
	tenant    domain.TenantID
	eventType domain.EventType
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		byEntity: make(map[tenantEntityKey][]Entry),
		byType:   make(map[tenantTypeKey][]Entry),
		byID:     make(map[uuid.UUID]Entry),
	}
}

// Record adds entry to all three indexes. Entries for a given entity are
// expected to arrive in version order; callers (the stream writer, under
// its per-stream lock) are responsible for that ordering. Event ids must
// be unique: a second entry with an already-indexed id is rejected with
// an internal error, leaving all three indexes untouched.
func (idx *Index) Record(entry Entry) error {
	idx.idMu.Lock()
	if _, exists := idx.byID[entry.EventID]; exists {
		idx.idMu.Unlock()
		return domain.InternalError("duplicate event id in index: " + entry.EventID.String())
	}
	idx.byID[entry.EventID] = entry
	idx.idMu.Unlock()

	ek := tenantEntityKey{entry.TenantID, entry.EntityID}
	idx.entityMu.Lock()
	idx.byEntity[ek] = append(idx.byEntity[ek], entry)
	idx.entityMu.Unlock()

	tk := tenantTypeKey{entry.TenantID, entry.EventType}
	idx.typeMu.Lock()
	idx.byType[tk] = append(idx.byType[tk], entry)
	idx.typeMu.Unlock()

	return nil
}

// ByEntity returns a copy of the recorded entries for (tenantID, entityID)
// in append order.
func (idx *Index) ByEntity(tenantID domain.TenantID, entityID domain.EntityID) []Entry {
	idx.entityMu.RLock()
	defer idx.entityMu.RUnlock()
	entries := idx.byEntity[tenantEntityKey{tenantID, entityID}]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// ByType returns a copy of the recorded entries for (tenantID, eventType)
// in append order.
func (idx *Index) ByType(tenantID domain.TenantID, eventType domain.EventType) []Entry {
	idx.typeMu.RLock()
	defer idx.typeMu.RUnlock()
	entries := idx.byType[tenantTypeKey{tenantID, eventType}]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// ByID returns the entry for eventID, if any.
func (idx *Index) ByID(eventID uuid.UUID) (Entry, bool) {
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	entry, ok := idx.byID[eventID]
	return entry, ok
}

// EntityCount returns the number of distinct (tenant, entity) keys
// currently indexed, used for admin stats.
func (idx *Index) EntityCount() int {
	idx.entityMu.RLock()
	defer idx.entityMu.RUnlock()
	return len(idx.byEntity)
}

// EventCount returns the total number of indexed events.
func (idx *Index) EventCount() int {
	idx.idMu.RLock()
	defer idx.idMu.RUnlock()
	return len(idx.byID)
}
