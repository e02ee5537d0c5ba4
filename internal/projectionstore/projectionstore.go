// Package projectionstore defines the durable snapshot-store contract
// behind get_snapshot and create_snapshot: one snapshot per entity,
// latest-wins. Concrete backends (memory, sqlite, postgres) live in
// subpackages, selected at the composition root.
package projectionstore

import (
	"context"
	"errors"

	"github.com/cacack/eventstore/internal/domain"
)

// ErrSnapshotNotFound is returned by Latest when no snapshot has ever
// been saved for the given (tenant, entity).
var ErrSnapshotNotFound = errors.New("projectionstore: snapshot not found")

// SnapshotStore persists the latest domain.Snapshot per (tenant_id,
// entity_id). Saving a new snapshot for an entity replaces any prior one:
// there is no history of snapshots, only the most recent.
type SnapshotStore interface {
	// Save durably stores snapshot as the latest for its entity.
	Save(ctx context.Context, snapshot *domain.Snapshot) error
	// Latest returns the most recently saved snapshot for
	// (tenantID, entityID), or ErrSnapshotNotFound if none exists.
	Latest(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error)
	// Close releases any resources the store holds open (database
	// connections and similar).
	Close() error
}
