package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore"
)

// State is the folded result of reconstructing an entity: its current
// state plus the history that produced it.
type State struct {
	EntityID    domain.EntityID
	LastUpdated time.Time
	EventCount  int
	AsOf        *time.Time
	Current     json.RawMessage
	History     []domain.Event
}

// Reconstructor rebuilds entity state from a snapshot (if usable) plus
// the events since it, folding payloads top-level-key by top-level-key.
type Reconstructor struct {
	planner   *Planner
	snapshots projectionstore.SnapshotStore
}

// NewReconstructor creates a Reconstructor over planner and snapshots.
// snapshots may be nil, in which case reconstruction always replays from
// the full event history.
func NewReconstructor(planner *Planner, snapshots projectionstore.SnapshotStore) *Reconstructor {
	return &Reconstructor{planner: planner, snapshots: snapshots}
}

// Reconstruct folds entityID's history into a State as of asOf (nil
// means "now"). Returns domain.EntityNotFound if neither a snapshot nor
// any events exist.
func (r *Reconstructor) Reconstruct(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID, asOf *time.Time) (*State, error) {
	var (
		current    map[string]json.RawMessage
		opaque     json.RawMessage
		eventCount int
		lastUpdate time.Time
		history    []domain.Event
	)

	snapshotUsable := false
	if r.snapshots != nil {
		snap, err := r.snapshots.Latest(ctx, tenantID, entityID)
		if err == nil && (asOf == nil || !snap.Timestamp.After(*asOf)) {
			if err := json.Unmarshal(snap.State, &current); err != nil {
				current = nil
				opaque = snap.State
			}
			eventCount = int(snap.Version)
			lastUpdate = snap.Timestamp
			snapshotUsable = true
		} else if err != nil && err != projectionstore.ErrSnapshotNotFound {
			return nil, domain.StorageError("load snapshot", err)
		}
	}

	var events []domain.Event
	if asOf != nil {
		events = r.planner.scanEntityAsOf(tenantID, entityID, *asOf)
	} else {
		events = r.planner.scanEntity(tenantID, entityID)
	}

	if snapshotUsable {
		cutoff := int64(eventCount)
		filtered := events[:0:0]
		for _, e := range events {
			if e.Version > cutoff {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if !snapshotUsable && len(events) == 0 {
		return nil, domain.EntityNotFound(entityID.String())
	}

	if current == nil && opaque == nil {
		current = make(map[string]json.RawMessage)
	}

	for _, e := range events {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			opaque = e.Payload
			current = nil
		} else {
			if current == nil {
				current = make(map[string]json.RawMessage)
			}
			for k, v := range fields {
				current[k] = v
			}
			opaque = nil
		}
		eventCount++
		lastUpdate = e.Timestamp
	}
	history = append(history, events...)

	var currentJSON json.RawMessage
	if opaque != nil {
		currentJSON = opaque
	} else {
		encoded, err := json.Marshal(current)
		if err != nil {
			return nil, fmt.Errorf("marshal reconstructed state: %w", err)
		}
		currentJSON = encoded
	}

	return &State{
		EntityID:    entityID,
		LastUpdated: lastUpdate,
		EventCount:  eventCount,
		AsOf:        asOf,
		Current:     currentJSON,
		History:     history,
	}, nil
}
