package domain

import "time"

// EventStream is the per-(tenant_id, entity_id) aggregate enforcing a
// gapless, optimistically-locked version sequence. Position i in Events
// holds version i+1.
type EventStream struct {
	StreamID        EntityID
	TenantID        TenantID
	PartitionKey    PartitionKey
	Events          []Event
	CurrentVersion  int64
	Watermark       int64
	expectedVersion *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEventStream creates an empty stream for entityID, lazily — callers
// invoke this only on first append for an entity.
func NewEventStream(tenantID TenantID, entityID EntityID, partitionCount int) *EventStream {
	now := time.Now().UTC()
	return &EventStream{
		StreamID:     entityID,
		TenantID:     tenantID,
		PartitionKey: PartitionFromEntityID(entityID.String(), partitionCount),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ReconstructEventStream rebuilds a stream from persisted state, rejecting
// it if the persisted counts are internally inconsistent.
func ReconstructEventStream(tenantID TenantID, entityID EntityID, partitionCount int, events []Event, watermark int64, createdAt, updatedAt time.Time) (*EventStream, error) {
	s := &EventStream{
		StreamID:       entityID,
		TenantID:       tenantID,
		PartitionKey:   PartitionFromEntityID(entityID.String(), partitionCount),
		Events:         events,
		CurrentVersion: int64(len(events)),
		Watermark:      watermark,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if s.Watermark > s.CurrentVersion {
		return nil, InternalError("watermark exceeds current version on reconstruction")
	}
	if int64(len(s.Events)) != s.CurrentVersion {
		return nil, InternalError("event count does not match current version on reconstruction")
	}
	if !s.IsGapless() {
		return nil, InternalError("reconstructed stream has version gaps")
	}
	return s, nil
}

// ExpectVersion sets the optimistic-lock hint for the next Append.
func (s *EventStream) ExpectVersion(v int64) {
	s.expectedVersion = &v
}

// ClearExpectedVersion unsets the optimistic-lock hint.
func (s *EventStream) ClearExpectedVersion() {
	s.expectedVersion = nil
}

// Append assigns the next version to event and appends it, enforcing the
// optimistic lock if one was set with ExpectVersion. Returns the new
// version on success.
func (s *EventStream) Append(event Event) (int64, error) {
	if s.expectedVersion != nil && *s.expectedVersion != s.CurrentVersion {
		return 0, ConcurrencyConflict(*s.expectedVersion, s.CurrentVersion)
	}

	s.CurrentVersion++
	event.Version = s.CurrentVersion
	event.TenantID = s.TenantID
	event.EntityID = s.StreamID
	s.Events = append(s.Events, event)
	s.Watermark = s.CurrentVersion
	s.UpdatedAt = time.Now().UTC()

	return s.CurrentVersion, nil
}

// EventsFrom returns events with version in [v, CurrentVersion]. Empty if
// v is not a valid version or exceeds CurrentVersion.
func (s *EventStream) EventsFrom(v int64) []Event {
	if v <= 0 || v > s.CurrentVersion {
		return nil
	}
	idx := v - 1
	out := make([]Event, len(s.Events)-int(idx))
	copy(out, s.Events[idx:])
	return out
}

// IsGapless reports whether Watermark <= CurrentVersion and every version
// in 1..=Watermark is present in order. Any violation indicates
// corruption.
func (s *EventStream) IsGapless() bool {
	if s.Watermark > s.CurrentVersion {
		return false
	}
	for i, e := range s.Events {
		if e.Version != int64(i+1) {
			return false
		}
	}
	return int64(len(s.Events)) >= s.Watermark
}
