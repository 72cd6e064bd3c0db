package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(NewMemoryStore())
	require.NoError(t, err)
	return s
}

func TestOnlineFlagRoundTrip(t *testing.T) {
	s := newMemStore(t)
	on, err := s.Online()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, s.SetOnline(true))
	on, err = s.Online()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.SetOnline(false))
	on, err = s.Online()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestActiveRideIDClearedByEmpty(t *testing.T) {
	s := newMemStore(t)
	require.NoError(t, s.SetActiveRideID("ride-1"))
	id, err := s.ActiveRideID()
	require.NoError(t, err)
	assert.Equal(t, "ride-1", id)

	require.NoError(t, s.SetActiveRideID(""))
	id, err = s.ActiveRideID()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestHistorySanitizedOnWrite(t *testing.T) {
	s := newMemStore(t)
	rides := []*models.Ride{
		{ID: "1", Status: status.Completed},
		{ID: "1", Status: status.Completed}, // duplicate id
		{ID: "2", Status: status.Ongoing},   // non-terminal stub
		{ID: "3", Status: status.Cancelled}, // terminal but not completed
		{ID: "4", Status: status.Completed},
	}
	require.NoError(t, s.SetHistory(rides))

	got, err := s.History()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "4", got[1].ID)
}

func TestHistoryResetRunsOnce(t *testing.T) {
	kv := NewMemoryStore()
	// pre-upgrade corrupted cache
	require.NoError(t, kv.Set(keyHistory, `{"not":"an array"}`))

	s, err := NewStore(kv)
	require.NoError(t, err)
	got, err := s.History()
	require.NoError(t, err)
	assert.Empty(t, got)

	// writes after the purge survive a second open
	require.NoError(t, s.SetHistory([]*models.Ride{{ID: "9", Status: status.Completed}}))
	s2, err := NewStore(kv)
	require.NoError(t, err)
	got, err = s2.History()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].ID)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driversync.db")
	kv, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("k", "v1"))
	require.NoError(t, kv.Set("k", "v2")) // upsert
	v, ok, err := kv.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, kv.Delete("k"))
	_, ok, err = kv.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}
