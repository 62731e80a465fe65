package history_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yalt-io/yalt/internal/history"
)

func openTemp(t *testing.T) (*history.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := history.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSaveAssignsULID(t *testing.T) {
	s, _ := openTemp(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	saved, err := s.Save(history.Entry{StartedAt: started, Sent: 10})
	require.NoError(t, err)

	id, err := ulid.ParseStrict(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(started), id.Time())

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Sent)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestListNewestFirst(t *testing.T) {
	s, _ := openTemp(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Save(history.Entry{StartedAt: base.Add(time.Duration(i) * time.Hour), Sent: uint64(i)})
		require.NoError(t, err)
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{2, 1, 0}, []uint64{all[0].Sent, all[1].Sent, all[2].Sent})

	limited, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetUnknown(t *testing.T) {
	s, _ := openTemp(t)
	_, err := s.Get("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestReopenKeepsEntries(t *testing.T) {
	s, path := openTemp(t)
	saved, err := s.Save(history.Entry{Targets: []string{"127.0.0.1:9000:1"}, Rate: 20})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := history.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:9000:1"}, got.Targets)
	assert.Equal(t, 20.0, got.Rate)
}
