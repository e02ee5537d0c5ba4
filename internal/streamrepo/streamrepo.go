// Package streamrepo owns EventStream instances exclusively: the index
// and persistence layers observe streams only through this package.
package streamrepo

import (
	"sync"

	"github.com/cacack/eventstore/internal/domain"
)

// StreamReader is the read-only surface of the repository, for consumers
// that must not mutate stream state (query planner, projections).
type StreamReader interface {
	LoadStream(tenantID domain.TenantID, entityID domain.EntityID) (*domain.EventStream, bool)
	GetWatermark(tenantID domain.TenantID, entityID domain.EntityID) int64
	VerifyGapless(tenantID domain.TenantID, entityID domain.EntityID) bool
	GetStreamsByPartition(key domain.PartitionKey) []*domain.EventStream
	GetStreamsByTenant(tenantID domain.TenantID) []*domain.EventStream
	CountStreamsByTenant(tenantID domain.TenantID) int
}

// StreamWriter is the mutating surface: get-or-create, append, and save.
type StreamWriter interface {
	GetOrCreateStream(tenantID domain.TenantID, entityID domain.EntityID) *domain.EventStream
	AppendToStream(tenantID domain.TenantID, entityID domain.EntityID, event domain.Event, expectedVersion *int64, persist func(domain.Event, int64) error) (int64, error)
	SaveStream(stream *domain.EventStream)
}

// Repository is the in-memory StreamReader/StreamWriter implementation.
// Streams are never evicted; a long-running process accumulates one
// EventStream per entity it has ever seen.
type Repository struct {
	partitionCount int

	mu      sync.RWMutex
	streams map[tenantEntityKey]*lockedStream
}

type tenantEntityKey struct {
	tenant domain.TenantID
	entity domain.EntityID
}

// lockedStream pairs a stream with the write lock that must be held
// across append-to-stream's version assignment and persistence, so two
// concurrent appends to the same entity always serialize.
type lockedStream struct {
	mu     sync.Mutex
	stream *domain.EventStream
}

// New creates an empty Repository.
func New(partitionCount int) *Repository {
	if partitionCount <= 0 {
		partitionCount = domain.DefaultPartitionCount
	}
	return &Repository{
		partitionCount: partitionCount,
		streams:        make(map[tenantEntityKey]*lockedStream),
	}
}

func (r *Repository) entry(tenantID domain.TenantID, entityID domain.EntityID) *lockedStream {
	key := tenantEntityKey{tenantID, entityID}

	r.mu.RLock()
	ls, ok := r.streams[key]
	r.mu.RUnlock()
	if ok {
		return ls
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.streams[key]; ok {
		return ls
	}
	ls = &lockedStream{stream: domain.NewEventStream(tenantID, entityID, r.partitionCount)}
	r.streams[key] = ls
	return ls
}

// GetOrCreateStream returns the stream for (tenantID, entityID),
// creating an empty one at version 0 if none exists yet. Idempotent.
func (r *Repository) GetOrCreateStream(tenantID domain.TenantID, entityID domain.EntityID) *domain.EventStream {
	return r.entry(tenantID, entityID).stream
}

// AppendToStream assigns the next version to event under the stream's
// per-entity write lock, held across both version assignment and the
// caller-supplied persist callback (the WAL write). If persist returns an
// error, the in-memory version assignment is rolled back so the event
// never becomes visible.
func (r *Repository) AppendToStream(tenantID domain.TenantID, entityID domain.EntityID, event domain.Event, expectedVersion *int64, persist func(domain.Event, int64) error) (int64, error) {
	ls := r.entry(tenantID, entityID)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if expectedVersion != nil {
		ls.stream.ExpectVersion(*expectedVersion)
	} else {
		ls.stream.ClearExpectedVersion()
	}

	before := ls.stream.CurrentVersion
	beforeWatermark := ls.stream.Watermark
	beforeEvents := ls.stream.Events
	beforeUpdatedAt := ls.stream.UpdatedAt

	version, err := ls.stream.Append(event)
	if err != nil {
		return 0, err
	}

	if persist != nil {
		if perr := persist(ls.stream.Events[len(ls.stream.Events)-1], version); perr != nil {
			ls.stream.CurrentVersion = before
			ls.stream.Watermark = beforeWatermark
			ls.stream.Events = beforeEvents
			ls.stream.UpdatedAt = beforeUpdatedAt
			return 0, perr
		}
	}

	return version, nil
}

// SaveStream overwrites the repository's record for stream's entity,
// used when rehydrating from durable storage at startup.
func (r *Repository) SaveStream(stream *domain.EventStream) {
	key := tenantEntityKey{stream.TenantID, stream.StreamID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.streams[key]; ok {
		ls.mu.Lock()
		ls.stream = stream
		ls.mu.Unlock()
		return
	}
	r.streams[key] = &lockedStream{stream: stream}
}

// LoadStream returns the current stream for (tenantID, entityID), if
// one has ever been created. The returned value is a snapshot taken
// under the stream's lock: readers can walk its Events without racing a
// concurrent append, and mutating it has no effect on the repository.
func (r *Repository) LoadStream(tenantID domain.TenantID, entityID domain.EntityID) (*domain.EventStream, bool) {
	key := tenantEntityKey{tenantID, entityID}
	r.mu.RLock()
	ls, ok := r.streams[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return snapshotStream(ls.stream), true
}

// snapshotStream shallow-copies stream. Committed events are immutable,
// so sharing the backing array up to the copied length is safe: a later
// append never rewrites an element below it.
func snapshotStream(stream *domain.EventStream) *domain.EventStream {
	cp := *stream
	cp.Events = stream.Events[:len(stream.Events):len(stream.Events)]
	return &cp
}

// GetWatermark returns the stream's watermark, or 0 if no stream exists.
func (r *Repository) GetWatermark(tenantID domain.TenantID, entityID domain.EntityID) int64 {
	stream, ok := r.LoadStream(tenantID, entityID)
	if !ok {
		return 0
	}
	return stream.Watermark
}

// VerifyGapless reports whether the stream for (tenantID, entityID) is
// gapless. A stream that does not exist is trivially gapless.
func (r *Repository) VerifyGapless(tenantID domain.TenantID, entityID domain.EntityID) bool {
	stream, ok := r.LoadStream(tenantID, entityID)
	if !ok {
		return true
	}
	return stream.IsGapless()
}

// GetStreamsByPartition returns a snapshot of every stream currently
// hashed to key.
func (r *Repository) GetStreamsByPartition(key domain.PartitionKey) []*domain.EventStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.EventStream
	for _, ls := range r.streams {
		ls.mu.Lock()
		if ls.stream.PartitionKey == key {
			out = append(out, snapshotStream(ls.stream))
		}
		ls.mu.Unlock()
	}
	return out
}

// GetStreamsByTenant returns a snapshot of every stream belonging to
// tenantID.
func (r *Repository) GetStreamsByTenant(tenantID domain.TenantID) []*domain.EventStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.EventStream
	for key, ls := range r.streams {
		if key.tenant != tenantID {
			continue
		}
		ls.mu.Lock()
		out = append(out, snapshotStream(ls.stream))
		ls.mu.Unlock()
	}
	return out
}

// CountStreamsByTenant returns the number of streams belonging to
// tenantID.
func (r *Repository) CountStreamsByTenant(tenantID domain.TenantID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for key := range r.streams {
		if key.tenant == tenantID {
			count++
		}
	}
	return count
}

var (
	_ StreamReader = (*Repository)(nil)
	_ StreamWriter = (*Repository)(nil)
)
