package wal_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/domain"
	"github.com/cacack/eventstore/internal/wal"
)

func newRecord(t *testing.T, offset int64) wal.Record {
	t.Helper()
	tid, err := domain.NewTenantID("t1")
	require.NoError(t, err)
	eid, err := domain.NewEntityID("e1")
	require.NoError(t, err)
	et, err := domain.NewEventType("thing.happened")
	require.NoError(t, err)
	ev := domain.NewEvent(tid, eid, et, []byte(`{"n":1}`), nil)
	ev.Version = offset + 1
	return wal.Record{Event: ev, Offset: offset}
}

func TestLog_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(wal.Config{Dir: dir, SyncPolicy: wal.SyncOnWrite})
	require.NoError(t, err)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, log.Append(newRecord(t, i)))
	}
	require.NoError(t, log.Close())

	var replayed []wal.Record
	err = wal.Replay(dir, true, func(r wal.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 10)
	for i, r := range replayed {
		assert.Equal(t, int64(i), r.Offset)
	}
}

func TestLog_RollsSegmentOnSize(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(wal.Config{Dir: dir, SyncPolicy: wal.SyncOnWrite, SegmentSize: 1})
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, log.Append(newRecord(t, i)))
	}
	require.NoError(t, log.Close())

	var replayed []wal.Record
	err = wal.Replay(dir, true, func(r wal.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, replayed, 5, "records must survive across multiple rolled segments")
}

func TestLog_RecoversAfterReopen(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(wal.Config{Dir: dir, SyncPolicy: wal.SyncOnWrite})
	require.NoError(t, err)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, log.Append(newRecord(t, i)))
	}
	require.NoError(t, log.Close())

	log2, err := wal.Open(wal.Config{Dir: dir, SyncPolicy: wal.SyncOnWrite})
	require.NoError(t, err)
	assert.Equal(t, int64(3), log2.NextOffset())

	require.NoError(t, log2.Append(newRecord(t, 3)))
	require.NoError(t, log2.Close())

	var replayed []wal.Record
	err = wal.Replay(dir, true, func(r wal.Record) error {
		replayed = append(replayed, r)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, replayed, 4)
}

func TestLog_CorruptedSealedSegmentFailsVerification(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(wal.Config{Dir: dir, SyncPolicy: wal.SyncOnWrite, SegmentSize: 1})
	require.NoError(t, err)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, log.Append(newRecord(t, i)))
	}
	require.NoError(t, log.Close())

	checks, err := wal.VerifySegments(dir)
	require.NoError(t, err)
	var sealed []string
	for _, c := range checks {
		require.True(t, c.Valid, c.Path)
		if c.Sealed {
			sealed = append(sealed, c.Path)
		}
	}
	require.NotEmpty(t, sealed)

	// Flip one record byte past the checksum header.
	f, err := os.OpenFile(sealed[0], os.O_RDWR, 0o644)
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, 70)
	require.NoError(t, err)
	buf[0] ^= 0xff
	_, err = f.WriteAt(buf, 70)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	checks, err = wal.VerifySegments(dir)
	require.NoError(t, err)
	corrupt := false
	for _, c := range checks {
		if c.Path == sealed[0] {
			assert.False(t, c.Valid)
			assert.ErrorIs(t, c.Err, wal.ErrChecksumMismatch)
			corrupt = true
		}
	}
	require.True(t, corrupt)

	err = wal.Replay(dir, true, func(wal.Record) error { return nil })
	assert.ErrorIs(t, err, wal.ErrChecksumMismatch)
}

func TestParseSyncPolicy(t *testing.T) {
	cases := map[string]wal.SyncPolicy{
		"":              wal.SyncOnWrite,
		"sync_on_write": wal.SyncOnWrite,
		"interval":      wal.SyncInterval,
		"batch":         wal.SyncBatch,
	}
	for input, want := range cases {
		got, err := wal.ParseSyncPolicy(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := wal.ParseSyncPolicy("nonsense")
	assert.Error(t, err)
}
