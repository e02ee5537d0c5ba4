// Package memory provides an in-memory SnapshotStore implementation for
// testing and for cores run without a durable backing database.
package memory

import (
	"context"
	"sync"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore"
)

type key struct {
	tenant domain.TenantID
	entity domain.EntityID
}

// SnapshotStore is an in-memory implementation of
// projectionstore.SnapshotStore for testing.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[key]*domain.Snapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[key]*domain.Snapshot)}
}

// Save implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key{snapshot.TenantID, snapshot.EntityID}] = snapshot
	return nil
}

// Latest implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key{tenantID, entityID}]
	if !ok {
		return nil, projectionstore.ErrSnapshotNotFound
	}
	return snap, nil
}

// Close implements projectionstore.SnapshotStore.
func (s *SnapshotStore) Close() error { return nil }

var _ projectionstore.SnapshotStore = (*SnapshotStore)(nil)
