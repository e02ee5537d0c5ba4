package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore"
	"github.com/cacack/eventstore/internal/projectionstore/sqlite"
)

func openTestStore(t *testing.T) *sqlite.SnapshotStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	db, err := sqlite.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := sqlite.NewSnapshotStore(db)
	require.NoError(t, err)
	return store
}

func TestSnapshotStore_SaveAndLatest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("e1")
	snap := domain.NewSnapshot(tid, eid, []byte(`{"a":1}`), 5, time.Now().UTC())

	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Latest(ctx, tid, eid)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, int64(5), got.Version)
	assert.JSONEq(t, `{"a":1}`, string(got.State))
}

func TestSnapshotStore_SaveUpsertsOverPrior(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("e1")

	require.NoError(t, store.Save(ctx, domain.NewSnapshot(tid, eid, []byte(`{"a":1}`), 1, time.Now().UTC())))
	second := domain.NewSnapshot(tid, eid, []byte(`{"a":2}`), 2, time.Now().UTC())
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Latest(ctx, tid, eid)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"a":2}`, string(got.State))
}

func TestSnapshotStore_LatestNotFound(t *testing.T) {
	store := openTestStore(t)
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("ghost")

	_, err := store.Latest(context.Background(), tid, eid)
	assert.ErrorIs(t, err, projectionstore.ErrSnapshotNotFound)
}

func TestSnapshotStore_TenantIsolation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	eid, _ := domain.NewEntityID("shared-id")
	t1, _ := domain.NewTenantID("tenant-a")
	t2, _ := domain.NewTenantID("tenant-b")

	require.NoError(t, store.Save(ctx, domain.NewSnapshot(t1, eid, []byte(`{"v":1}`), 1, time.Now().UTC())))

	_, err := store.Latest(ctx, t2, eid)
	assert.ErrorIs(t, err, projectionstore.ErrSnapshotNotFound)
}

func TestSnapshotStore_Close(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Close())
}
