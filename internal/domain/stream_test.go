package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/domain"
)

func mustEvent(t *testing.T, tenant, entity string) domain.Event {
	t.Helper()
	tid, err := domain.NewTenantID(tenant)
	require.NoError(t, err)
	eid, err := domain.NewEntityID(entity)
	require.NoError(t, err)
	et, err := domain.NewEventType("thing.happened")
	require.NoError(t, err)
	return domain.NewEvent(tid, eid, et, []byte(`{"a":1}`), nil)
}

func TestEventStream_AppendGapless(t *testing.T) {
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("u1")
	s := domain.NewEventStream(tid, eid, 32)

	for i := 0; i < 10; i++ {
		v, err := s.Append(mustEvent(t, "t1", "u1"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v)
	}

	assert.Equal(t, int64(10), s.CurrentVersion)
	assert.Equal(t, int64(10), s.Watermark)
	assert.True(t, s.IsGapless())

	versions := make([]int64, len(s.Events))
	for i, e := range s.Events {
		versions[i] = e.Version
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, versions)
}

func TestEventStream_OptimisticLock(t *testing.T) {
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("u1")
	s := domain.NewEventStream(tid, eid, 32)

	for i := 0; i < 3; i++ {
		_, err := s.Append(mustEvent(t, "t1", "u1"))
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), s.CurrentVersion)

	s.ExpectVersion(2)
	_, err := s.Append(mustEvent(t, "t1", "u1"))
	require.Error(t, err)
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindConcurrencyConflict, derr.Kind)
	assert.Equal(t, int64(3), s.CurrentVersion, "stream must be unchanged after a conflict")

	s.ExpectVersion(3)
	v, err := s.Append(mustEvent(t, "t1", "u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestEventStream_EventsFrom(t *testing.T) {
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("u1")
	s := domain.NewEventStream(tid, eid, 32)
	for i := 0; i < 5; i++ {
		_, err := s.Append(mustEvent(t, "t1", "u1"))
		require.NoError(t, err)
	}

	assert.Empty(t, s.EventsFrom(0))
	assert.Empty(t, s.EventsFrom(6))
	assert.Len(t, s.EventsFrom(3), 3)
	assert.Equal(t, int64(3), s.EventsFrom(3)[0].Version)
}

func TestReconstructEventStream_RejectsInconsistency(t *testing.T) {
	tid, _ := domain.NewTenantID("t1")
	eid, _ := domain.NewEntityID("u1")

	_, err := domain.ReconstructEventStream(tid, eid, 32, nil, 1, time.Now(), time.Now())
	require.Error(t, err)
}
