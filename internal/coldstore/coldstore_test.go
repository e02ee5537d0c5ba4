package coldstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacack/eventstore/internal/coldstore"
	"github.com/cacack/eventstore/internal/domain"
)

func newTestEvent(t *testing.T, n int) domain.Event {
	t.Helper()
	tid, err := domain.NewTenantID("t1")
	require.NoError(t, err)
	eid, err := domain.NewEntityID("e1")
	require.NoError(t, err)
	et, err := domain.NewEventType("thing.happened")
	require.NoError(t, err)
	ev := domain.NewEvent(tid, eid, et, []byte(`{"n":1}`), nil)
	ev.Version = int64(n)
	return ev
}

func TestStore_FlushOnBatchSize(t *testing.T) {
	dir := t.TempDir()
	s, err := coldstore.Open(coldstore.Config{Dir: dir, FlushBatch: 3, FlushInterval: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(newTestEvent(t, i)))
	}

	files, err := coldstore.Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	var read []domain.Event
	require.NoError(t, coldstore.Read(files[0], func(e domain.Event) error {
		read = append(read, e)
		return nil
	}))
	assert.Len(t, read, 3)
	for i, e := range read {
		assert.Equal(t, int64(i), e.Version)
	}
}

func TestStore_FlushOnClose(t *testing.T) {
	dir := t.TempDir()
	s, err := coldstore.Open(coldstore.Config{Dir: dir, FlushBatch: 100, FlushInterval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, s.Add(newTestEvent(t, 1)))
	require.NoError(t, s.Close())

	files, err := coldstore.Files(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "Close must flush any buffered events")
}

func TestStore_ChecksumSidecarVerifies(t *testing.T) {
	dir := t.TempDir()
	s, err := coldstore.Open(coldstore.Config{Dir: dir, FlushBatch: 1, FlushInterval: time.Hour})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(newTestEvent(t, 1)))

	files, err := coldstore.Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.NoError(t, coldstore.VerifyChecksum(files[0]))
}

func TestFiles_EmptyDirReturnsNoError(t *testing.T) {
	dir := t.TempDir()
	files, err := coldstore.Files(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFiles_MissingDirReturnsNoError(t *testing.T) {
	files, err := coldstore.Files("/nonexistent/path/for/coldstore/test")
	require.NoError(t, err)
	assert.Empty(t, files)
}
