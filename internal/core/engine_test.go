package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/config"
	"github.com/cacack/eventstore/internal/core"
	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/projectionstore/memory"
	"github.com/cacack/eventstore/internal/query"
)

func newEngine(t *testing.T) *core.Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		StorageDir:             dir,
		WALDir:                 dir + "/wal",
		ColdDir:                dir + "/cold",
		WALSyncPolicy:          "sync_on_write",
		WALSegmentSize:         1024 * 1024,
		ColdFlushBatch:         1000,
		ColdFlushInterval:      30,
		QueueCapacity:          1024,
		PartitionCount:         32,
		WorkerCount:            2,
		SnapshotEventThreshold: 5,
		SnapshotAuto:           true,
	}
	engine, err := core.New(cfg, memory.NewSnapshotStore())
	require.NoError(t, err)
	require.NoError(t, engine.Recover())
	engine.Start(context.Background())
	t.Cleanup(func() { require.NoError(t, engine.Close()) })
	return engine
}

func ids(t *testing.T, tenant, entity string) (domain.TenantID, domain.EntityID) {
	t.Helper()
	tid, err := domain.NewTenantID(tenant)
	require.NoError(t, err)
	eid, err := domain.NewEntityID(entity)
	require.NoError(t, err)
	return tid, eid
}

// Scenario 1: simple append and read.
func TestEngine_SimpleAppendAndRead(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u1")
	et, err := domain.NewEventType("user.created")
	require.NoError(t, err)

	_, _, err = engine.Ingest(context.Background(), tid, eid, et, []byte(`{"name":"Alice"}`), nil, nil)
	require.NoError(t, err)

	events, err := engine.Query(query.Request{TenantID: tid, EntityID: &eid})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].Version)
	require.JSONEq(t, `{"name":"Alice"}`, string(events[0].Payload))
}

// Scenario 2: gap-free sequence.
func TestEngine_GapFreeSequence(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u2")
	et, err := domain.NewEventType("ping")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{}`), nil, nil)
		require.NoError(t, err)
	}

	events, err := engine.Query(query.Request{TenantID: tid, EntityID: &eid})
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Version)
	}
}

// Scenario 3: optimistic conflict.
func TestEngine_OptimisticConflict(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u3")
	et, err := domain.NewEventType("ping")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{}`), nil, nil)
		require.NoError(t, err)
	}

	bad := int64(2)
	_, _, err = engine.Ingest(context.Background(), tid, eid, et, []byte(`{}`), nil, &bad)
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindConcurrencyConflict, derr.Kind)

	events, err := engine.Query(query.Request{TenantID: tid, EntityID: &eid})
	require.NoError(t, err)
	require.Len(t, events, 3)
}

// Scenario 4: time-travel reconstruction.
func TestEngine_TimeTravel(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u4")
	et, err := domain.NewEventType("patch")
	require.NoError(t, err)

	_, ts1, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{"a":1}`), nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, ts2, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{"a":2}`), nil, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, _, err = engine.Ingest(context.Background(), tid, eid, et, []byte(`{"b":9}`), nil, nil)
	require.NoError(t, err)

	_ = ts1
	stateAt2, err := engine.ReconstructState(context.Background(), tid, eid, &ts2)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(stateAt2.Current))

	stateNow, err := engine.ReconstructState(context.Background(), tid, eid, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2,"b":9}`, string(stateNow.Current))

	// Reconstruction is idempotent: asking again yields the same value.
	again, err := engine.ReconstructState(context.Background(), tid, eid, &ts2)
	require.NoError(t, err)
	require.JSONEq(t, string(stateAt2.Current), string(again.Current))
	require.Equal(t, stateAt2.EventCount, again.EventCount)
}

// Scenario 5: planner rejects a filterless query.
func TestEngine_PlannerRejectsFilterless(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Query(query.Request{TenantID: "t1"})
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindInvalidInput, derr.Kind)
}

func TestEngine_EntityNotFound(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "ghost")
	_, err := engine.ReconstructState(context.Background(), tid, eid, nil)
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindEntityNotFound, derr.Kind)
}

func TestEngine_SnapshotEquivalence(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u5")
	et, err := domain.NewEventType("patch")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		payload := []byte(fmt.Sprintf(`{"n":%d}`, i))
		_, _, err := engine.Ingest(context.Background(), tid, eid, et, payload, nil, nil)
		require.NoError(t, err)
	}

	full, err := engine.ReconstructState(context.Background(), tid, eid, nil)
	require.NoError(t, err)

	snap, err := engine.GetSnapshot(context.Background(), tid, eid)
	require.NoError(t, err)
	require.GreaterOrEqual(t, snap.Version, int64(1))

	fromSnapshot, err := engine.ReconstructState(context.Background(), tid, eid, nil)
	require.NoError(t, err)
	require.JSONEq(t, string(full.Current), string(fromSnapshot.Current))
	// A full replay of payloads n=0..5 folds to {"n":5}; the
	// snapshot-based reconstruction must produce the same state.
	require.JSONEq(t, `{"n":5}`, string(fromSnapshot.Current))
}

func TestEngine_Stats(t *testing.T) {
	engine := newEngine(t)
	tid, eid := ids(t, "t1", "u6")
	et, err := domain.NewEventType("ping")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{}`), nil, nil)
		require.NoError(t, err)
	}

	stats := engine.Stats()
	require.Equal(t, 4, stats.TotalEvents)
	require.Equal(t, 1, stats.TotalEntities)
	require.EqualValues(t, 4, stats.TotalIngested)
}

// versionOrderProjection records the version sequence it observes per
// entity, for asserting commit-order dispatch.
type versionOrderProjection struct {
	mu       sync.Mutex
	versions map[domain.EntityID][]int64
}

func (p *versionOrderProjection) Name() string { return "version_order" }

func (p *versionOrderProjection) Process(event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions[event.EntityID] = append(p.versions[event.EntityID], event.Version)
	return nil
}

func (p *versionOrderProjection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions = make(map[domain.EntityID][]int64)
}

func (p *versionOrderProjection) observed(entityID domain.EntityID) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, len(p.versions[entityID]))
	copy(out, p.versions[entityID])
	return out
}

func TestEngine_ConcurrentSameEntityDispatchOrder(t *testing.T) {
	engine := newEngine(t)
	tracker := &versionOrderProjection{versions: make(map[domain.EntityID][]int64)}
	engine.RegisterProjection(tracker)

	tid, eid := ids(t, "t1", "hot")
	et, err := domain.NewEventType("ping")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := engine.Ingest(context.Background(), tid, eid, et, []byte(`{}`), nil, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	versions := tracker.observed(eid)
	require.Len(t, versions, n)
	for i, v := range versions {
		require.Equal(t, int64(i+1), v, "projections must observe same-entity events in commit order")
	}
}

func TestEngine_RoundTripDurability(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		StorageDir:     dir,
		WALDir:         dir + "/wal",
		ColdDir:        dir + "/cold",
		WALSyncPolicy:  "sync_on_write",
		WALSegmentSize: 1024 * 1024,
		QueueCapacity:  1024,
		PartitionCount: 32,
		WorkerCount:    1,
	}
	tid, eid := ids(t, "t1", "durable")
	et, err := domain.NewEventType("ping")
	require.NoError(t, err)

	engine, err := core.New(cfg, memory.NewSnapshotStore())
	require.NoError(t, err)
	require.NoError(t, engine.Recover())
	engine.Start(context.Background())
	_, _, err = engine.Ingest(context.Background(), tid, eid, et, []byte(`{"x":1}`), nil, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	reopened, err := core.New(cfg, memory.NewSnapshotStore())
	require.NoError(t, err)
	require.NoError(t, reopened.Recover())
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	events, err := reopened.Query(query.Request{TenantID: tid, EntityID: &eid})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.JSONEq(t, `{"x":1}`, string(events[0].Payload))
}
