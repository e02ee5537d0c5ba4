// Package core wires the queue, WAL, index, stream repository, and
// projection dispatcher into the ingest and query contracts the rest of
// the system consumes. Ingestion moves an event through validation,
// enqueue, version assignment, WAL commit, index update, and projection
// dispatch before it becomes visible to readers.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cacack/eventstore/internal/coldstore"
	"github.com/cacack/eventstore/internal/config"
	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/index"
	"github.com/cacack/eventstore/internal/integrity"
	"github.com/cacack/eventstore/internal/projection"
	"github.com/cacack/eventstore/internal/projectionstore"
	"github.com/cacack/eventstore/internal/query"
	"github.com/cacack/eventstore/internal/queue"
	"github.com/cacack/eventstore/internal/streamrepo"
	"github.com/cacack/eventstore/internal/wal"
)

// Engine is the composition root for the event-store core: every
// external contract (Ingest, Query, ReconstructState, GetSnapshot,
// CreateSnapshot, Stats) is a method on it.
type Engine struct {
	cfg *config.Config

	queue       *queue.Queue
	wal         *wal.Log
	cold        *coldstore.Store
	index       *index.Index
	streams     *streamrepo.Repository
	projections *projection.Manager
	snapshots   projectionstore.SnapshotStore
	verifier    *integrity.Verifier

	planner       *query.Planner
	reconstructor *query.Reconstructor

	entitySnapshot *projection.EntitySnapshot
	eventCounter   *projection.EventCounter

	offsetCounter int64 // atomic

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingIngest

	notify chan struct{}

	totalIngested uint64 // atomic

	group  *errgroup.Group
	cancel context.CancelFunc
}

type pendingIngest struct {
	expectedVersion *int64
	result          chan ingestResult
}

type ingestResult struct {
	event domain.Event
	err   error
}

// New opens the WAL and cold store under cfg's directories and wires the
// in-memory queue, index, stream repository, and built-in projections
// around the given durable snapshot store. Call Recover before Start to
// rehydrate from existing WAL segments.
func New(cfg *config.Config, snapshots projectionstore.SnapshotStore) (*Engine, error) {
	walLog, err := wal.Open(wal.Config{
		Dir:          cfg.WALDir,
		SyncPolicy:   syncPolicy(cfg),
		SyncInterval: time.Duration(cfg.WALSyncMillis) * time.Millisecond,
		BatchSize:    cfg.WALBatchSize,
		SegmentSize:  cfg.WALSegmentSize,
	})
	if err != nil {
		return nil, err
	}

	cold, err := coldstore.Open(coldstore.Config{
		Dir:           cfg.ColdDir,
		FlushBatch:    cfg.ColdFlushBatch,
		FlushInterval: time.Duration(cfg.ColdFlushInterval) * time.Second,
	})
	if err != nil {
		walLog.Close()
		return nil, err
	}

	idx := index.New()
	streams := streamrepo.New(cfg.PartitionCount)

	projections := projection.NewManager()
	entitySnapshot := projection.NewEntitySnapshot()
	eventCounter := projection.NewEventCounter()
	projections.Register(entitySnapshot)
	projections.Register(eventCounter)

	planner := query.NewPlanner(idx, streams)
	reconstructor := query.NewReconstructor(planner, snapshots)

	return &Engine{
		cfg:            cfg,
		queue:          queue.New(cfg.QueueCapacity),
		wal:            walLog,
		cold:           cold,
		index:          idx,
		streams:        streams,
		projections:    projections,
		snapshots:      snapshots,
		verifier:       integrity.New(cfg.WALDir, cfg.ColdDir),
		planner:        planner,
		reconstructor:  reconstructor,
		entitySnapshot: entitySnapshot,
		eventCounter:   eventCounter,
		pending:        make(map[uuid.UUID]*pendingIngest),
		notify:         make(chan struct{}, 1),
	}, nil
}

// Stats is the snapshot returned by the stats() contract: total counts
// across every tenant the process has observed.
type Stats struct {
	TotalEvents     int
	TotalEntities   int
	TotalEventTypes int
	TotalIngested   uint64
}

// Ingest validates and admits event data for (tenantID, entityID),
// enqueuing it for the persistence worker pool and blocking until the
// event is WAL-durable, indexed, and dispatched to every projection.
// If expectedVersion is non-nil, the append is optimistically locked
// against it. Ingest never retries internally; QueueFull and
// ConcurrencyConflict are returned to the caller for their own retry
// policy.
func (e *Engine) Ingest(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID, eventType domain.EventType, payload, metadata json.RawMessage, expectedVersion *int64) (uuid.UUID, time.Time, error) {
	event := domain.NewEvent(tenantID, entityID, eventType, payload, metadata)

	result := make(chan ingestResult, 1)
	e.mu.Lock()
	e.pending[event.ID] = &pendingIngest{expectedVersion: expectedVersion, result: result}
	e.mu.Unlock()

	if err := e.queue.TryPush(event); err != nil {
		e.mu.Lock()
		delete(e.pending, event.ID)
		e.mu.Unlock()
		return uuid.Nil, time.Time{}, err
	}

	select {
	case e.notify <- struct{}{}:
	default:
	}

	select {
	case res := <-result:
		if res.err != nil {
			return uuid.Nil, time.Time{}, res.err
		}
		return res.event.ID, res.event.Timestamp, nil
	case <-ctx.Done():
		return uuid.Nil, time.Time{}, ctx.Err()
	}
}

// process drives one dequeued event through version assignment, WAL
// commit, index update, cold-store buffering, and projection dispatch,
// then reports the outcome to the caller blocked in Ingest, if any (a
// recovered event replayed at startup has no waiting caller).
func (e *Engine) process(event domain.Event) {
	e.mu.Lock()
	pending := e.pending[event.ID]
	delete(e.pending, event.ID)
	e.mu.Unlock()

	var expectedVersion *int64
	if pending != nil {
		expectedVersion = pending.expectedVersion
	}

	result := ingestResult{event: event}

	// Projection dispatch stays inside the persist callback: it runs
	// under the stream's write lock, so observers of the same entity see
	// events in the exact order their versions were committed even with
	// several workers draining the queue.
	_, err := e.streams.AppendToStream(event.TenantID, event.EntityID, event, expectedVersion, func(committed domain.Event, assignedVersion int64) error {
		offset := e.nextOffset()
		if werr := e.wal.Append(wal.Record{Event: committed, Offset: offset}); werr != nil {
			return werr
		}
		if ierr := e.index.Record(index.Entry{
			EventID:   committed.ID,
			TenantID:  committed.TenantID,
			EntityID:  committed.EntityID,
			EventType: committed.EventType,
			Offset:    offset,
			Timestamp: committed.Timestamp,
			Version:   assignedVersion,
		}); ierr != nil {
			return ierr
		}
		if cerr := e.cold.Add(committed); cerr != nil {
			log.Printf("core: cold store buffering failed for event %s: %v", committed.ID, cerr)
		}
		atomic.AddUint64(&e.totalIngested, 1)
		e.projections.Dispatch(committed)
		if e.cfg.SnapshotAuto {
			e.maybeAutoSnapshot(committed)
		}
		result.event = committed
		return nil
	})

	if err != nil {
		result.err = err
	}

	if pending != nil {
		pending.result <- result
	}
}

// maybeAutoSnapshot durably saves the entity's current state once its
// version crosses a multiple of the configured snapshot threshold. It
// runs under the stream's write lock, so it reads the entity-snapshot
// projection state Dispatch just produced rather than reconstructing
// through the repository (which would re-acquire the same lock).
func (e *Engine) maybeAutoSnapshot(event domain.Event) {
	threshold := e.cfg.SnapshotEventThreshold
	if threshold <= 0 || event.Version%int64(threshold) != 0 {
		return
	}
	state, ok := e.entitySnapshot.State(event.TenantID, event.EntityID)
	if !ok {
		return
	}
	snap := domain.NewSnapshot(event.TenantID, event.EntityID, state, event.Version, event.Timestamp)
	if err := e.snapshots.Save(context.Background(), snap); err != nil {
		log.Printf("core: auto snapshot failed for %s/%s: %v", event.TenantID, event.EntityID, err)
	}
}

// RegisterProjection adds p to the dispatch list. It observes every
// subsequently committed event in commit order, after the two built-in
// projections. Register before Start to avoid missing events.
func (e *Engine) RegisterProjection(p projection.Projection) {
	e.projections.Register(p)
}

// Query answers req by delegating to the query planner.
func (e *Engine) Query(req query.Request) ([]domain.Event, error) {
	return e.planner.Query(req)
}

// ReconstructState folds entityID's snapshot (if usable) and subsequent
// events into a current-state value as of asOf (nil meaning now).
func (e *Engine) ReconstructState(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID, asOf *time.Time) (*query.State, error) {
	return e.reconstructor.Reconstruct(ctx, tenantID, entityID, asOf)
}

// GetSnapshot returns the latest durable snapshot for (tenantID,
// entityID), or domain.EntityNotFound if none has ever been taken.
func (e *Engine) GetSnapshot(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (*domain.Snapshot, error) {
	snap, err := e.snapshots.Latest(ctx, tenantID, entityID)
	if err != nil {
		if errors.Is(err, projectionstore.ErrSnapshotNotFound) {
			return nil, domain.EntityNotFound(entityID.String())
		}
		return nil, domain.StorageError("load snapshot", err)
	}
	return snap, nil
}

// CreateSnapshot reconstructs entityID's current state via full replay
// and durably saves it as the latest snapshot, returning its id.
func (e *Engine) CreateSnapshot(ctx context.Context, tenantID domain.TenantID, entityID domain.EntityID) (uuid.UUID, error) {
	state, err := e.reconstructor.Reconstruct(ctx, tenantID, entityID, nil)
	if err != nil {
		return uuid.Nil, err
	}
	snap := domain.NewSnapshot(tenantID, entityID, state.Current, int64(state.EventCount), state.LastUpdated)
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return uuid.Nil, domain.StorageError("save snapshot", err)
	}
	return snap.ID, nil
}

// Verify runs the integrity verifier over the WAL and cold-store
// directories in the given mode, used by the admin health surface and
// by the "serve" startup check.
func (e *Engine) Verify(mode integrity.Mode) (*integrity.Report, error) {
	return e.verifier.Verify(mode)
}

// Stats reports the aggregate counters exposed by the stats() contract.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalEvents:     e.index.EventCount(),
		TotalEntities:   e.index.EntityCount(),
		TotalEventTypes: e.eventCounter.DistinctEventTypes(),
		TotalIngested:   atomic.LoadUint64(&e.totalIngested),
	}
}

func syncPolicy(cfg *config.Config) wal.SyncPolicy {
	policy, err := wal.ParseSyncPolicy(cfg.WALSyncPolicy)
	if err != nil {
		return wal.SyncOnWrite
	}
	return policy
}

// Recover replays every WAL segment, rebuilding the stream repository,
// index, and projection state, and resuming offset assignment where the
// log left off. Call once at startup before Start.
func (e *Engine) Recover() error {
	type key struct {
		tenant domain.TenantID
		entity domain.EntityID
	}
	grouped := make(map[key][]domain.Event)
	order := make([]key, 0)

	err := wal.Replay(e.cfg.WALDir, e.cfg.IntegrityStrict, func(rec wal.Record) error {
		k := key{rec.Event.TenantID, rec.Event.EntityID}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], rec.Event)

		if ierr := e.index.Record(index.Entry{
			EventID:   rec.Event.ID,
			TenantID:  rec.Event.TenantID,
			EntityID:  rec.Event.EntityID,
			EventType: rec.Event.EventType,
			Offset:    rec.Offset,
			Timestamp: rec.Event.Timestamp,
			Version:   rec.Event.Version,
		}); ierr != nil {
			return ierr
		}
		e.projections.Dispatch(rec.Event)

		if rec.Offset >= e.offsetCounter {
			e.offsetCounter = rec.Offset + 1
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range order {
		events := grouped[k]
		first, last := events[0], events[len(events)-1]
		stream, err := domain.ReconstructEventStream(k.tenant, k.entity, e.cfg.PartitionCount, events, int64(len(events)), first.Timestamp, last.Timestamp)
		if err != nil {
			return err
		}
		e.streams.SaveStream(stream)
	}

	return nil
}

// Start launches the ingestion worker pool on an errgroup; Close cancels
// the workers and waits for all of them to exit. Each
// worker dequeues events and drives them through version assignment,
// WAL commit, index update, and projection dispatch.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	workerCount := e.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			e.runWorker(gctx)
			return nil
		})
	}
}

func (e *Engine) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		event, ok := e.queue.TryPop()
		if !ok {
			select {
			case <-e.notify:
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		e.process(event)
	}
}

// Close stops the worker pool and flushes and closes the WAL and cold
// store.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	var firstErr error
	if e.group != nil {
		if err := e.group.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := e.cold.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) nextOffset() int64 {
	return atomic.AddInt64(&e.offsetCounter, 1) - 1
}
